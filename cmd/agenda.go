package cmd

import (
	"fmt"
	"time"

	"github.com/salonsync/salonsync/internal/dateparse"
	"github.com/salonsync/salonsync/internal/models"
	"github.com/salonsync/salonsync/internal/output"
	"github.com/spf13/cobra"
)

var agendaCmd = &cobra.Command{
	Use:     "agenda",
	Aliases: []string{"today"},
	Short:   "Show the locally cached agenda",
	Long: `Show appointments from the last pull. Appointments marked * have local
changes that have not reached the server yet.`,
	Example: `  salonsync agenda
  salonsync agenda --days 3
  salonsync agenda --from 2026-03-02
  salonsync agenda --from friday`,
	GroupID: "booking",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		if days < 1 {
			return describeErr(output.ErrCodeInvalidInput, fmt.Errorf("--days must be at least 1"))
		}
		from := dateparse.StartOfDay(time.Now(), time.Local)
		if s, _ := cmd.Flags().GetString("from"); s != "" {
			t, err := dateparse.ParseDay(s, time.Now(), time.Local)
			if err != nil {
				return describeErr(output.ErrCodeInvalidInput, fmt.Errorf("--from: %w", err))
			}
			from = t
		}
		to := from.AddDate(0, 0, days)

		a, err := openApp()
		if err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
		defer a.Close()

		snaps, err := a.db.ListSnapshots(from, to)
		if err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}

		if jsonOut {
			return output.JSON(map[string]any{"from": from, "to": to, "appointments": snaps})
		}

		state, err := a.db.GetSyncState()
		if err == nil {
			last := time.Time{}
			if state.LastPullAt != nil {
				last = *state.LastPullAt
			}
			fmt.Println(output.Subtle("Last pulled " + output.FormatTimeAgo(last)))
		}
		printAgenda(snaps, time.Local)
		return nil
	},
}

// printAgenda prints snapshots grouped under a header per local day.
func printAgenda(snaps []models.AppointmentSnapshot, loc *time.Location) {
	if len(snaps) == 0 {
		fmt.Println(output.Subtle("No appointments"))
		return
	}
	var day time.Time
	for _, s := range snaps {
		d := dateparse.StartOfDay(s.StartAt, loc)
		if !d.Equal(day) {
			day = d
			fmt.Println()
			fmt.Println(output.DayHeader(day))
		}
		fmt.Println("  " + output.FormatAppointment(s, loc))
	}
}

func init() {
	agendaCmd.Flags().Int("days", 1, "Number of days to show")
	agendaCmd.Flags().String("from", "", "First day to show: 2006-01-02, tomorrow, +2d, friday (default today)")
	rootCmd.AddCommand(agendaCmd)
}
