package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/salonsync/salonsync/internal/conflicts"
	"github.com/salonsync/salonsync/internal/dateparse"
	"github.com/salonsync/salonsync/internal/models"
	"github.com/salonsync/salonsync/internal/output"
	"github.com/spf13/cobra"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	Aliases: []string{"c"},
	Short:   "List changes the server refused",
	Long: `List queue entries that need a person: conflicts (the slot was already taken)
and failures (the server rejected the change). Resolve each one with retry,
move, accept-server or discard.`,
	GroupID: "sync",
	RunE:    listConflicts,
}

var conflictsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List conflicts and failures",
	Args:    cobra.NoArgs,
	RunE:    listConflicts,
}

func listConflicts(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return describeErr(output.ErrCodeDatabaseError, err)
	}
	defer a.Close()

	items, err := a.surface.List()
	if err != nil {
		return describeErr(output.ErrCodeDatabaseError, err)
	}
	if jsonOut {
		return output.JSON(items)
	}
	if len(items) == 0 {
		output.Success("Nothing to resolve")
		return nil
	}
	for _, it := range items {
		fmt.Println(formatItem(it))
	}
	fmt.Println()
	fmt.Println(output.Subtle("Resolve with: salonsync conflicts resolve <key>"))
	return nil
}

func formatItem(it conflicts.Item) string {
	line := fmt.Sprintf("%s  %s  %s  %s", output.QueueStatusBadge(it.Status), it.Key, it.Type, output.ShortID(it.AppointmentID))
	if when := actionWhen(it.Action); when != "" {
		line += "  " + when
	}
	if it.Reason != "" {
		line += "\n    " + it.Reason
	}
	return line
}

// actionWhen describes the time slot an action asks for, if any.
func actionWhen(act models.Action) string {
	switch v := act.(type) {
	case models.CreateAppointment:
		return v.StartAt.Local().Format("Mon 02 Jan 15:04") + "-" + v.EndAt.Local().Format("15:04")
	case models.UpdateAppointment:
		if v.StartAt != nil && v.EndAt != nil {
			return v.StartAt.Local().Format("Mon 02 Jan 15:04") + "-" + v.EndAt.Local().Format("15:04")
		}
	}
	return ""
}

// moveAction returns act shifted to start, keeping its length. Only actions
// that carry a time slot can be moved.
func moveAction(act models.Action, start time.Time) (models.Action, error) {
	switch v := act.(type) {
	case models.CreateAppointment:
		d := v.EndAt.Sub(v.StartAt)
		v.StartAt, v.EndAt = start, start.Add(d)
		return v, nil
	case models.UpdateAppointment:
		if v.StartAt == nil || v.EndAt == nil {
			return nil, fmt.Errorf("this change does not set a time; use retry or discard")
		}
		d := v.EndAt.Sub(*v.StartAt)
		end := start.Add(d)
		v.StartAt, v.EndAt = &start, &end
		return v, nil
	case nil:
		return nil, errors.New("change no longer decodes")
	}
	return nil, fmt.Errorf("%s cannot be moved", act.Type())
}

var conflictsRetryCmd = &cobra.Command{
	Use:   "retry <key>",
	Short: "Send the change again unchanged",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveWith(args[0], "Retried", func(a *app) error { return a.surface.Retry(args[0]) })
	},
}

var conflictsDiscardCmd = &cobra.Command{
	Use:     "discard <key>",
	Aliases: []string{"drop"},
	Short:   "Drop the local change",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveWith(args[0], "Discarded", func(a *app) error { return a.surface.Discard(args[0]) })
	},
}

var conflictsAcceptCmd = &cobra.Command{
	Use:   "accept-server <key>",
	Short: "Drop the local change and refresh the agenda from the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveWith(args[0], "Accepted server version for", func(a *app) error { return a.surface.AcceptServer(args[0]) })
	},
}

var conflictsMoveCmd = &cobra.Command{
	Use:     "move <key>",
	Short:   "Re-queue the change at another time",
	Example: `  salonsync conflicts move dabc-3 --at "2026-03-02 11:30"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, _ := cmd.Flags().GetString("at")
		start, err := dateparse.ParseWhen(at, time.Now(), time.Local)
		if err != nil {
			return describeErr(output.ErrCodeInvalidInput, err)
		}
		a, err := openApp()
		if err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
		defer a.Close()
		return moveEntry(a, args[0], start)
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve [key]",
	Short: "Walk through unresolved changes interactively",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !output.IsInteractive() {
			return describeErr(output.ErrCodeInvalidInput, errors.New("resolve needs a terminal; use retry, move, accept-server or discard"))
		}
		a, err := openApp()
		if err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
		defer a.Close()

		items, err := a.surface.List()
		if err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
		if len(args) == 1 {
			var only []conflicts.Item
			for _, it := range items {
				if it.Key == args[0] {
					only = append(only, it)
				}
			}
			if len(only) == 0 {
				return describeErr(output.ErrCodeNotInConflict, fmt.Errorf("%s: %w", args[0], conflicts.ErrNotUnresolved))
			}
			items = only
		}
		if len(items) == 0 {
			output.Success("Nothing to resolve")
			return nil
		}

		for _, it := range items {
			fmt.Println(formatItem(it))
			if err := resolveOne(a, it); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return nil
				}
				output.Error("%v", err)
			}
		}
		return nil
	},
}

func resolveOne(a *app, it conflicts.Item) error {
	choice := "retry"
	opts := []huh.Option[string]{huh.NewOption("Send again", "retry")}
	if _, err := moveAction(it.Action, time.Now()); err == nil {
		opts = append(opts, huh.NewOption("Move to another time", "move"))
	}
	opts = append(opts,
		huh.NewOption("Keep the server's version", "accept"),
		huh.NewOption("Discard my change", "discard"),
		huh.NewOption("Skip", "skip"),
	)
	err := huh.NewSelect[string]().
		Title("What should happen to " + it.Key + "?").
		Options(opts...).
		Value(&choice).
		Run()
	if err != nil {
		return err
	}

	switch choice {
	case "retry":
		err = a.surface.Retry(it.Key)
	case "accept":
		err = a.surface.AcceptServer(it.Key)
	case "discard":
		err = a.surface.Discard(it.Key)
	case "move":
		var at string
		err = huh.NewInput().
			Title("New start time").
			Placeholder("15:04, tomorrow 15:04 or 2006-01-02 15:04").
			Value(&at).
			Validate(func(s string) error {
				_, perr := dateparse.ParseWhen(s, time.Now(), time.Local)
				return perr
			}).
			Run()
		if err != nil {
			return err
		}
		start, _ := dateparse.ParseWhen(at, time.Now(), time.Local)
		return moveEntry(a, it.Key, start)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if choice != "discard" {
		a.syncAfterMutation()
	}
	output.Success("%s: done", it.Key)
	return nil
}

func moveEntry(a *app, key string, start time.Time) error {
	stored, err := a.surface.Amend(key, func(act models.Action) (models.Action, error) {
		return moveAction(act, start)
	})
	if err != nil {
		return describeErr(errCode(err), err)
	}
	a.syncAfterMutation()
	if refreshed, err := a.db.GetEntry(stored.IdempotencyKey); err == nil {
		stored = refreshed
	}
	return printEntry("Moved", stored)
}

func resolveWith(key, verb string, fn func(a *app) error) error {
	a, err := openApp()
	if err != nil {
		return describeErr(output.ErrCodeDatabaseError, err)
	}
	defer a.Close()

	if err := fn(a); err != nil {
		return describeErr(errCode(err), err)
	}
	if verb != "Discarded" {
		a.syncAfterMutation()
	}
	if jsonOut {
		return output.JSON(map[string]string{"key": key, "result": verb})
	}
	output.Success("%s %s", verb, key)
	return nil
}

func init() {
	conflictsMoveCmd.Flags().String("at", "", "New start time (required)")
	conflictsMoveCmd.MarkFlagRequired("at")
	conflictsCmd.AddCommand(conflictsListCmd, conflictsRetryCmd, conflictsDiscardCmd, conflictsAcceptCmd, conflictsMoveCmd, conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
