package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/salonsync/salonsync/internal/db"
	"github.com/salonsync/salonsync/internal/output"
	engine "github.com/salonsync/salonsync/internal/sync"
	"github.com/salonsync/salonsync/internal/syncconfig"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push queued changes and pull the agenda",
	Example: `  salonsync sync
  salonsync sync --push
  salonsync sync --status`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
		defer a.Close()

		if status, _ := cmd.Flags().GetBool("status"); status {
			n, _ := cmd.Flags().GetInt("log")
			return runSyncStatus(cmd.Context(), a, n)
		}
		if a.engine == nil {
			return describeErr(output.ErrCodeNotLoggedIn, errSyncNotConfigured)
		}

		mode := engine.ModeFull
		pushOnly, _ := cmd.Flags().GetBool("push")
		pullOnly, _ := cmd.Flags().GetBool("pull")
		switch {
		case pushOnly && pullOnly:
			return describeErr(output.ErrCodeInvalidInput, fmt.Errorf("--push and --pull are exclusive"))
		case pushOnly:
			mode = engine.ModePushOnly
		case pullOnly:
			mode = engine.ModePullOnly
		}

		res, err := a.engine.RunCycleMode(cmd.Context(), mode)
		if err != nil {
			return describeErr(errCode(err), fmt.Errorf("sync failed: %w", err))
		}

		if jsonOut {
			return output.JSON(res)
		}
		if mode != engine.ModePullOnly {
			fmt.Printf("Pushed %d: %d applied, %d conflicts, %d failed (%s)\n",
				res.Pushed, res.Applied, res.Conflicts, res.Failed, res.PushDuration.Round(time.Millisecond))
		}
		switch {
		case res.PullSkipped:
			output.Warning("agenda not refreshed: queue did not drain")
		case mode != engine.ModePushOnly:
			fmt.Printf("Pulled %d appointments, %s to %s (%s)\n", res.Pulled,
				res.WindowFrom.Local().Format("Mon 02 Jan 15:04"), res.WindowTo.Local().Format("Mon 02 Jan 15:04"),
				res.PullDuration.Round(time.Millisecond))
		}
		if res.Conflicts > 0 || res.Failed > 0 {
			fmt.Println("Review with: salonsync conflicts")
		}
		return nil
	},
}

func runSyncStatus(ctx context.Context, a *app, logLines int) error {
	state, err := a.db.GetSyncState()
	if err != nil {
		return describeErr(output.ErrCodeDatabaseError, err)
	}
	var history []db.SyncHistoryEntry
	if logLines > 0 {
		if history, err = a.db.RecentSyncHistory(logLines); err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
	}
	counts, err := a.db.CountByStatus()
	if err != nil {
		return describeErr(output.ErrCodeDatabaseError, err)
	}

	server := "not configured"
	reachable := false
	if a.client != nil {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, herr := a.client.HealthCheck(hctx)
		cancel()
		reachable = herr == nil
		server = a.client.BaseURL
	}

	if jsonOut {
		return output.JSON(map[string]any{
			"server":               server,
			"business_id":          a.business,
			"online":               reachable,
			"waiting":              counts.Waiting(),
			"conflicts":            counts.Conflicts(),
			"last_push_at":         state.LastPushAt,
			"last_pull_at":         state.LastPullAt,
			"window_from":          state.WindowFrom,
			"window_to":            state.WindowTo,
			"consecutive_failures": state.ConsecutiveFailures,
			"last_error":           state.LastError,
			"auto_sync":            syncconfig.GetAutoSyncEnabled(),
			"history":              history,
		})
	}

	fmt.Println(output.Badges(counts.Waiting(), counts.Conflicts()))
	fmt.Printf("Server:     %s\n", server)
	if a.business != "" {
		fmt.Printf("Business:   %s\n", a.business)
	}
	if a.client != nil {
		if reachable {
			output.Success("Online")
		} else {
			output.Warning("Offline")
		}
	}
	fmt.Printf("Last push:  %s\n", agoPtr(state.LastPushAt))
	fmt.Printf("Last pull:  %s\n", agoPtr(state.LastPullAt))
	if state.WindowFrom != nil && state.WindowTo != nil {
		fmt.Printf("Window:     %s to %s\n", state.WindowFrom.Local().Format("2006-01-02 15:04"), state.WindowTo.Local().Format("2006-01-02 15:04"))
	}
	if state.ConsecutiveFailures > 0 {
		output.Warning("%d failed cycles in a row: %s", state.ConsecutiveFailures, state.LastError)
	}
	auto := "on, every " + syncconfig.GetAutoSyncInterval().String()
	if !syncconfig.GetAutoSyncEnabled() {
		auto = "off"
	}
	fmt.Printf("Auto-sync:  %s\n", auto)

	if len(history) > 0 {
		fmt.Print(output.SectionHeader("recent sync log"))
		for _, h := range history {
			fmt.Println(formatHistory(h))
		}
	}
	return nil
}

// formatHistory renders "Mar 02 09:14:02  push  conflict  dabc-3  Slot already occupied".
func formatHistory(h db.SyncHistoryEntry) string {
	line := fmt.Sprintf("%s  %-4s  %-8s", h.Timestamp.Local().Format("Jan 02 15:04:05"), h.Direction, h.Outcome)
	if h.IdempotencyKey != "" {
		line += "  " + h.IdempotencyKey
	}
	if h.Detail != "" {
		line += "  " + output.Subtle(h.Detail)
	}
	return line
}

func agoPtr(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return output.FormatTimeAgo(*t)
}

func init() {
	syncCmd.Flags().Bool("push", false, "Only push queued changes")
	syncCmd.Flags().Bool("pull", false, "Only pull the agenda")
	syncCmd.Flags().Bool("status", false, "Show sync state without syncing")
	syncCmd.Flags().Int("log", 10, "With --status, how many recent sync log lines to show")
	rootCmd.AddCommand(syncCmd)
}
