// Package output provides styled terminal output helpers (success, error,
// warning, queue and agenda formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/salonsync/salonsync/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	badgeStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	statusStyles = map[models.QueueStatus]lipgloss.Style{
		models.QueuePending:    lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.QueueProcessing: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.QueueApplied:    lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		models.QueueConflict:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		models.QueueFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
	}
	appointmentStyles = map[models.AppointmentStatus]lipgloss.Style{
		models.AppointmentPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.AppointmentConfirmed: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.AppointmentCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("242")).Strikethrough(true),
		models.AppointmentCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
	}
)

// OutputMode determines output format
type OutputMode int

const (
	ModeShort OutputMode = iota
	ModeLong
	ModeJSON
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound        = "not_found"
	ErrCodeInvalidInput    = "invalid_input"
	ErrCodeConflict        = "conflict"
	ErrCodeDatabaseError   = "database_error"
	ErrCodeNotLoggedIn     = "not_logged_in"
	ErrCodeNoBusiness      = "no_business"
	ErrCodeServerError     = "server_error"
	ErrCodeSyncInProgress  = "sync_in_progress"
	ErrCodeNotInConflict   = "not_in_conflict"
	ErrCodeDecodeFailed    = "decode_failed"
	ErrCodePermissionError = "permission_denied"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	JSONErrorWithDetails(code, message, nil)
}

// JSONErrorWithDetails outputs an error as JSON with additional context
func JSONErrorWithDetails(code, message string, details map[string]interface{}) {
	errObj := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		errObj["details"] = details
	}
	data, _ := json.MarshalIndent(map[string]interface{}{"error": errObj}, "", "  ")
	fmt.Println(string(data))
}

// FormatQueueStatus formats a queue status with color
func FormatQueueStatus(s models.QueueStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// QueueStatusBadge returns a queue status with its symbol,
// e.g. "○ pending", "▶ processing", "✓ applied", "⚠ conflict", "✗ failed"
func QueueStatusBadge(status models.QueueStatus) string {
	symbols := map[models.QueueStatus]string{
		models.QueuePending:    "○",
		models.QueueProcessing: "▶",
		models.QueueApplied:    "✓",
		models.QueueConflict:   "⚠",
		models.QueueFailed:     "✗",
	}
	symbol, ok := symbols[status]
	if !ok {
		symbol = "?"
	}
	if style, hasStyle := statusStyles[status]; hasStyle {
		return style.Render(fmt.Sprintf("%s %s", symbol, status))
	}
	return fmt.Sprintf("%s %s", symbol, status)
}

// FormatAppointmentStatus formats an appointment status with color
func FormatAppointmentStatus(s models.AppointmentStatus) string {
	style, ok := appointmentStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// Badges renders the two reception badges. Zero counts render subtly.
// e.g. "[3 waiting] [1 conflict]"
func Badges(waiting, conflicts int) string {
	w := fmt.Sprintf("%d waiting", waiting)
	c := fmt.Sprintf("%d conflict", conflicts)
	if conflicts != 1 {
		c += "s"
	}
	ws, cs := subtleStyle, subtleStyle
	if waiting > 0 {
		ws = warningStyle
	}
	if conflicts > 0 {
		cs = errorStyle
	}
	return badgeStyle.Inherit(ws).Render("["+w+"]") + " " + badgeStyle.Inherit(cs).Render("["+c+"]")
}

// FormatQueueEntry returns a one-line queue entry:
// "○ pending  APPOINTMENT_CREATE  a1b2c3d4  key  (2m ago)"
func FormatQueueEntry(e models.QueueEntry) string {
	ref := "-"
	if act, err := e.Action(); err == nil {
		ref = ShortID(act.AppointmentRef())
	}
	line := fmt.Sprintf("%s  %-18s  %-8s  %s  %s",
		QueueStatusBadge(e.Status), e.ActionType, ref, e.IdempotencyKey,
		subtleStyle.Render("("+FormatTimeAgo(e.CreatedAt)+")"))
	if e.LastError != "" {
		line += "\n    " + warningStyle.Render(e.LastError)
	}
	return line
}

// FormatAppointment returns an agenda line in loc:
// "10:00-10:30  Ana  Walk-in (600 123 123)  Corte  confirmed"
func FormatAppointment(a models.AppointmentSnapshot, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	who := a.CustomerName
	if who == "" {
		who = "(no name)"
	}
	if a.CustomerPhone != "" {
		who += " (" + a.CustomerPhone + ")"
	}
	staff := a.EmployeeName
	if staff == "" {
		staff = ShortID(a.EmployeeID)
	}
	parts := []string{
		titleStyle.Render(a.StartAt.In(loc).Format("15:04") + "-" + a.EndAt.In(loc).Format("15:04")),
		staff,
		who,
	}
	if a.ServiceName != "" {
		parts = append(parts, a.ServiceName)
	}
	parts = append(parts, FormatAppointmentStatus(a.Status))
	line := strings.Join(parts, "  ")
	if !a.Synced {
		line += " " + warningStyle.Render("*")
	}
	return line
}

// DayHeader returns a bold date header for agenda grouping.
func DayHeader(day time.Time) string {
	return titleStyle.Render(day.Format("Mon 02 Jan 2006"))
}

// ShortID shortens an id to 8 characters
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nCONFLICTS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentLines indents each line by the specified number of spaces
func IndentLines(lines []string, spaces int) []string {
	indent := strings.Repeat(" ", spaces)
	result := make([]string, len(lines))
	for i, line := range lines {
		result[i] = indent + line
	}
	return result
}

// Subtle renders s in the muted style.
func Subtle(s string) string {
	return subtleStyle.Render(s)
}
