package cmd

import (
	"fmt"
	"time"

	"github.com/salonsync/salonsync/internal/applier"
	"github.com/salonsync/salonsync/internal/dateparse"
	"github.com/salonsync/salonsync/internal/models"
	"github.com/salonsync/salonsync/internal/output"
	"github.com/spf13/cobra"
)

var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Book an appointment (works offline)",
	Example: `  salonsync book --employee e_ana --at "2026-03-02 10:00" --duration 30m --name "Lucia" --phone 600111222
  salonsync book --employee e_ana --service s_cut --at "tomorrow 16:30"`,
	GroupID: "booking",
	RunE: func(cmd *cobra.Command, args []string) error {
		at, _ := cmd.Flags().GetString("at")
		start, err := dateparse.ParseWhen(at, time.Now(), time.Local)
		if err != nil {
			return describeErr(output.ErrCodeInvalidInput, err)
		}

		b := applier.Booking{StartAt: start}
		b.EmployeeID, _ = cmd.Flags().GetString("employee")
		b.ServiceID, _ = cmd.Flags().GetString("service")
		b.Duration, _ = cmd.Flags().GetDuration("duration")
		b.CustomerID, _ = cmd.Flags().GetString("customer")
		b.CustomerName, _ = cmd.Flags().GetString("name")
		b.CustomerPhone, _ = cmd.Flags().GetString("phone")
		b.CustomerEmail, _ = cmd.Flags().GetString("email")
		b.Notes, _ = cmd.Flags().GetString("notes")

		a, err := openApp()
		if err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
		defer a.Close()

		entry, err := a.applier.Book(b)
		if err != nil {
			return describeErr(errCode(err), err)
		}
		stored, err := a.enqueue(entry)
		if err != nil {
			return describeErr(errCode(err), err)
		}

		act, _ := stored.Action()
		if !jsonOut && act != nil {
			fmt.Printf("Appointment %s\n", act.AppointmentRef())
		}
		return printEntry("Booked", stored)
	},
}

var rescheduleCmd = &cobra.Command{
	Use:     "reschedule <appointment-id>",
	Aliases: []string{"move"},
	Short:   "Change an appointment's time, staff, service or notes",
	Example: `  salonsync reschedule 3f2a... --at "2026-03-02 11:00" --duration 45m
  salonsync reschedule 3f2a... --employee e_marta`,
	GroupID: "booking",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := applier.Reschedule{AppointmentID: args[0]}
		if at, _ := cmd.Flags().GetString("at"); at != "" {
			start, err := dateparse.ParseWhen(at, time.Now(), time.Local)
			if err != nil {
				return describeErr(output.ErrCodeInvalidInput, err)
			}
			r.StartAt = start
		}
		r.Duration, _ = cmd.Flags().GetDuration("duration")
		r.EmployeeID, _ = cmd.Flags().GetString("employee")
		r.ServiceID, _ = cmd.Flags().GetString("service")
		if cmd.Flags().Changed("notes") {
			notes, _ := cmd.Flags().GetString("notes")
			r.Notes = &notes
		}
		status, _ := cmd.Flags().GetString("status")
		r.Status = models.AppointmentStatus(status)

		a, err := openApp()
		if err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
		defer a.Close()

		entry, err := a.applier.Reschedule(r)
		if err != nil {
			return describeErr(errCode(err), err)
		}
		stored, err := a.enqueue(entry)
		if err != nil {
			return describeErr(errCode(err), err)
		}
		return printEntry("Updated", stored)
	},
}

var cancelCmd = &cobra.Command{
	Use:     "cancel <appointment-id>",
	Short:   "Cancel an appointment",
	GroupID: "booking",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		a, err := openApp()
		if err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
		defer a.Close()

		entry, err := a.applier.Cancel(args[0], reason)
		if err != nil {
			return describeErr(errCode(err), err)
		}
		stored, err := a.enqueue(entry)
		if err != nil {
			return describeErr(errCode(err), err)
		}
		return printEntry("Cancelled", stored)
	},
}

func init() {
	bookCmd.Flags().String("employee", "", "Employee id (required)")
	bookCmd.Flags().String("service", "", "Service id")
	bookCmd.Flags().String("at", "", `Start time: "2006-01-02 15:04", "15:04", "tomorrow 15:04" or "friday 10:00" (required)`)
	bookCmd.Flags().Duration("duration", 30*time.Minute, "Appointment length")
	bookCmd.Flags().String("customer", "", "Existing customer id")
	bookCmd.Flags().String("name", "", "Customer name")
	bookCmd.Flags().String("phone", "", "Customer phone")
	bookCmd.Flags().String("email", "", "Customer email")
	bookCmd.Flags().String("notes", "", "Notes")
	bookCmd.MarkFlagRequired("employee")
	bookCmd.MarkFlagRequired("at")
	rootCmd.AddCommand(bookCmd)

	rescheduleCmd.Flags().String("at", "", "New start time")
	rescheduleCmd.Flags().Duration("duration", 0, "New length (required with --at)")
	rescheduleCmd.Flags().String("employee", "", "New employee id")
	rescheduleCmd.Flags().String("service", "", "New service id")
	rescheduleCmd.Flags().String("notes", "", "Replace notes")
	rescheduleCmd.Flags().String("status", "", "New status: pending, confirmed, completed")
	rootCmd.AddCommand(rescheduleCmd)

	cancelCmd.Flags().String("reason", "", "Why the appointment was cancelled")
	rootCmd.AddCommand(cancelCmd)
}
