package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/salonsync/salonsync/internal/models"
	"github.com/salonsync/salonsync/internal/output"
	engine "github.com/salonsync/salonsync/internal/sync"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	if m.Err != nil {
		return m.renderError()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	header := m.renderHeader()
	footer := m.renderFooter()

	// header and footer take one line each
	available := m.Height - 2
	attentionHeight := min(len(m.Attention)+3, available/3)
	if attentionHeight < 4 {
		attentionHeight = 4
	}
	agendaHeight := available - attentionHeight

	panels := lipgloss.JoinVertical(lipgloss.Left,
		m.renderAgendaPanel(agendaHeight),
		m.renderAttentionPanel(attentionHeight),
	)
	return lipgloss.JoinVertical(lipgloss.Left, header, panels, footer)
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var s strings.Builder
	s.WriteString("salonsync (resize for full view)\n\n")
	s.WriteString(fmt.Sprintf("Waiting: %d | Conflicts: %d\n", m.Badges.Waiting, m.Badges.Conflicts))
	s.WriteString(fmt.Sprintf("Agenda: %d\n", len(m.Agenda)))
	s.WriteString("\nq:quit s:sync r:refresh")
	return s.String()
}

// renderError renders an error message
func (m Model) renderError() string {
	return fmt.Sprintf("Error: %v\n\nPress r to retry, q to quit", m.Err)
}

// renderHeader shows the badges, connectivity and the sync phase.
func (m Model) renderHeader() string {
	waiting := idleBadge.Render(fmt.Sprintf("%d waiting", m.Badges.Waiting))
	if m.Badges.Waiting > 0 {
		waiting = waitingBadge.Render(fmt.Sprintf("%d waiting", m.Badges.Waiting))
	}
	conflict := idleBadge.Render(fmt.Sprintf("%d conflicts", m.Badges.Conflicts))
	if m.Badges.Conflicts > 0 {
		conflict = conflictBadge.Render(fmt.Sprintf("%d conflicts", m.Badges.Conflicts))
	}

	var conn string
	switch {
	case m.Syncer == nil:
		conn = subtleStyle.Render("sync off")
	case m.Online:
		conn = onlineStyle.Render("● online")
	default:
		conn = offlineStyle.Render("● offline")
	}

	phase := ""
	if m.Phase != engine.PhaseIdle {
		phase = m.Spinner.View() + " " + m.Phase.String()
	}

	var last []string
	if m.State.LastPushAt != nil {
		last = append(last, "push "+output.FormatTimeAgo(*m.State.LastPushAt))
	}
	if m.State.LastPullAt != nil {
		last = append(last, "pull "+output.FormatTimeAgo(*m.State.LastPullAt))
	}
	if m.State.ConsecutiveFailures > 0 {
		last = append(last, errorStyle.Render(fmt.Sprintf("%d failed: %s", m.State.ConsecutiveFailures, m.State.LastError)))
	}

	parts := []string{waiting, conflict, conn}
	if phase != "" {
		parts = append(parts, phase)
	}
	if len(last) > 0 {
		parts = append(parts, timestampStyle.Render(strings.Join(last, " · ")))
	}
	return truncateString(" "+strings.Join(parts, "  "), m.Width)
}

// renderAgendaPanel lists pulled appointments grouped by day.
func (m Model) renderAgendaPanel(height int) string {
	var lines []string
	if len(m.Agenda) == 0 {
		lines = append(lines, subtleStyle.Render("No appointments pulled yet"))
	}
	var day string
	for _, a := range m.Agenda {
		d := a.StartAt.In(m.Loc).Format("2006-01-02")
		if d != day {
			day = d
			lines = append(lines, output.DayHeader(a.StartAt.In(m.Loc)))
		}
		lines = append(lines, "  "+output.FormatAppointment(a, m.Loc))
	}
	lines = scroll(lines, m.ScrollOffset[PanelAgenda], height-3)
	return m.wrapPanel("AGENDA", strings.Join(lines, "\n"), height, PanelAgenda)
}

// renderAttentionPanel lists conflict and failed entries.
func (m Model) renderAttentionPanel(height int) string {
	var lines []string
	if len(m.Attention) == 0 {
		lines = append(lines, subtleStyle.Render("Nothing needs attention"))
	}
	for _, e := range m.Attention {
		lines = append(lines, m.formatAttention(e))
	}
	lines = scroll(lines, m.ScrollOffset[PanelAttention], height-3)
	return m.wrapPanel("NEEDS ATTENTION", strings.Join(lines, "\n"), height, PanelAttention)
}

func (m Model) formatAttention(e models.QueueEntry) string {
	ref := "-"
	if act, err := e.Action(); err == nil {
		ref = output.ShortID(act.AppointmentRef())
	}
	reason := e.LastError
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Sprintf("%s  %s  %s  %s", output.QueueStatusBadge(e.Status), titleStyle.Render(ref), e.ActionType, subtleStyle.Render(reason))
}

// renderFooter renders the footer with key bindings and refresh time
func (m Model) renderFooter() string {
	keys := helpStyle.Render("q:quit  tab:switch  j/k:scroll  s:sync now  r:refresh  ?:help")
	refresh := timestampStyle.Render(fmt.Sprintf("Last: %s", m.LastRefresh.Format("15:04:05")))

	padding := m.Width - lipgloss.Width(keys) - lipgloss.Width(refresh) - 2
	if padding < 0 {
		padding = 0
	}
	return fmt.Sprintf(" %s%s%s", keys, strings.Repeat(" ", padding), refresh)
}

// renderHelp renders the help overlay
func (m Model) renderHelp() string {
	help := `
SALONSYNC MONITOR - Key Bindings

NAVIGATION:
  Tab / 1 / 2       Switch panel
  j / k             Scroll active panel

ACTIONS:
  s                 Sync now
  r                 Refresh
  q / Ctrl+C        Quit

Resolve conflicts with: salonsync conflicts resolve

Press ? to close help
`
	return helpStyle.Render(help)
}

// wrapPanel wraps content in a panel with title and border
func (m Model) wrapPanel(title, content string, height int, panel Panel) string {
	style := panelStyle
	if m.ActivePanel == panel {
		style = activePanelStyle
	}

	titleStr := panelTitleStyle.Render(title)
	contentWidth := m.Width - 4

	lines := strings.Split(content, "\n")
	contentHeight := height - 3
	for len(lines) < contentHeight {
		lines = append(lines, "")
	}
	if contentHeight >= 0 && len(lines) > contentHeight {
		lines = lines[:contentHeight]
	}
	for i, line := range lines {
		if lipgloss.Width(line) > contentWidth {
			lines[i] = truncateString(line, contentWidth)
		}
	}

	inner := lipgloss.JoinVertical(lipgloss.Left, titleStr, strings.Join(lines, "\n"))
	return style.Width(m.Width - 2).Render(inner)
}

// scroll drops the first offset lines, keeping at least one page visible.
func scroll(lines []string, offset, page int) []string {
	if page < 1 {
		page = 1
	}
	maxOffset := max(len(lines)-page, 0)
	if offset > maxOffset {
		offset = maxOffset
	}
	return lines[offset:]
}

// truncateString shortens s to maxLen display cells, adding an ellipsis.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 || lipgloss.Width(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > maxLen {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}
