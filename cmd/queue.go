package cmd

import (
	"fmt"
	"slices"

	"github.com/salonsync/salonsync/internal/models"
	"github.com/salonsync/salonsync/internal/output"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	Aliases: []string{"q"},
	Short:   "Show queued changes and their sync status",
	Long: `Show the local queue. By default only entries that have not been applied
yet are listed (pending, processing, conflict, failed). With --appointment,
every change queued for that appointment is listed, applied ones included.`,
	Example: `  salonsync queue
  salonsync queue --status conflict
  salonsync queue --appointment 6f1c2a
  salonsync queue --all --json`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		raw, _ := cmd.Flags().GetStringSlice("status")
		appointmentID, _ := cmd.Flags().GetString("appointment")

		var statuses []models.QueueStatus
		for _, s := range raw {
			st := models.QueueStatus(s)
			if !models.IsValidQueueStatus(st) {
				return describeErr(output.ErrCodeInvalidInput, fmt.Errorf("unknown status %q", s))
			}
			statuses = append(statuses, st)
		}
		if len(statuses) == 0 && !all && appointmentID == "" {
			statuses = []models.QueueStatus{models.QueuePending, models.QueueProcessing, models.QueueConflict, models.QueueFailed}
		}

		a, err := openApp()
		if err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
		defer a.Close()

		entries, err := queueEntries(a.db, appointmentID, statuses)
		if err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
		counts, err := a.db.CountByStatus()
		if err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}

		if jsonOut {
			return output.JSON(map[string]any{
				"waiting":   counts.Waiting(),
				"conflicts": counts.Conflicts(),
				"entries":   entries,
			})
		}

		fmt.Println(output.Badges(counts.Waiting(), counts.Conflicts()))
		if len(entries) == 0 {
			fmt.Println(output.Subtle("Queue is empty"))
			return nil
		}
		fmt.Println()
		for _, e := range entries {
			fmt.Println(output.FormatQueueEntry(e))
		}
		return nil
	},
}

type queueLister interface {
	ListEntries(statuses ...models.QueueStatus) ([]models.QueueEntry, error)
	ListForAppointment(appointmentID string) ([]models.QueueEntry, error)
}

// queueEntries lists entries in statuses (all when empty), restricted to one
// appointment when appointmentID is set.
func queueEntries(store queueLister, appointmentID string, statuses []models.QueueStatus) ([]models.QueueEntry, error) {
	if appointmentID == "" {
		return store.ListEntries(statuses...)
	}
	entries, err := store.ListForAppointment(appointmentID)
	if err != nil || len(statuses) == 0 {
		return entries, err
	}
	keep := entries[:0]
	for _, e := range entries {
		if slices.Contains(statuses, e.Status) {
			keep = append(keep, e)
		}
	}
	return keep, nil
}

func init() {
	queueCmd.Flags().StringSliceP("status", "s", nil, "Filter by status (pending, processing, applied, conflict, failed)")
	queueCmd.Flags().String("appointment", "", "Show only changes for this appointment id")
	queueCmd.Flags().BoolP("all", "a", false, "Include applied entries")
	rootCmd.AddCommand(queueCmd)
}
