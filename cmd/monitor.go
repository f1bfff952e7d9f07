package cmd

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/salonsync/salonsync/internal/output"
	engine "github.com/salonsync/salonsync/internal/sync"
	"github.com/salonsync/salonsync/internal/syncconfig"
	"github.com/salonsync/salonsync/internal/tui/monitor"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"m"},
	Short:   "Live reception screen with background sync",
	Long: `Open the reception screen: queue badges, online state, the agenda and the
changes that need a decision. While it is open the device syncs on its own:
when the connection comes back, every sync.auto.interval, and on 's'.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetDuration("refresh")

		a, err := openApp()
		if err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
		defer a.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		var syncer monitor.Syncer
		var wg sync.WaitGroup
		if a.engine != nil {
			syncer = a.engine
			wg.Add(2)
			go func() {
				defer wg.Done()
				a.engine.Run(ctx, false)
			}()
			go func() {
				defer wg.Done()
				a.engine.WatchConnectivity(ctx, engine.HealthProbe(a.client), syncconfig.GetProbeInterval())
			}()
		}

		p := tea.NewProgram(monitor.NewModel(a.db, syncer, time.Local, refresh), tea.WithAltScreen())
		_, runErr := p.Run()

		cancel()
		wg.Wait()
		return runErr
	},
}

func init() {
	monitorCmd.Flags().Duration("refresh", time.Second, "Screen refresh interval")
	rootCmd.AddCommand(monitorCmd)
}
