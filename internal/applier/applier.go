// Package applier turns user booking intents into queue entries. It performs
// no I/O: keys and time come from injected sources.
package applier

import (
	"fmt"
	"strings"
	"time"

	"github.com/salonsync/salonsync/internal/models"
	"github.com/salonsync/salonsync/internal/syncerr"
)

// Booking is a new appointment made at reception.
type Booking struct {
	EmployeeID    string
	ServiceID     string
	StartAt       time.Time
	Duration      time.Duration
	CustomerID    string
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	Notes         string
}

// Reschedule moves or edits an existing appointment. Zero values mean "unchanged".
type Reschedule struct {
	AppointmentID string
	EmployeeID    string
	ServiceID     string
	StartAt       time.Time
	Duration      time.Duration
	Notes         *string
	Status        models.AppointmentStatus
}

// Applier maps intents to pending queue entries.
type Applier struct {
	keys KeyGenerator
	now  func() time.Time
}

// New creates an Applier. A nil clock uses time.Now.
func New(keys KeyGenerator, now func() time.Time) *Applier {
	if now == nil {
		now = time.Now
	}
	return &Applier{keys: keys, now: now}
}

// Apply validates an action and wraps it in a pending entry with a fresh key.
func (a *Applier) Apply(act models.Action) (models.QueueEntry, error) {
	if act == nil {
		return models.QueueEntry{}, syncerr.Errorf(syncerr.Validation, "apply", "nil action")
	}
	if err := act.Validate(); err != nil {
		return models.QueueEntry{}, err
	}
	typ, payload, err := models.EncodeAction(act)
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("apply: %w", err)
	}
	now := a.now().UTC()
	return models.QueueEntry{
		IdempotencyKey: a.keys.NextKey(),
		ActionType:     typ,
		Payload:        payload,
		Status:         models.QueuePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Book builds an APPOINTMENT_CREATE with a client-generated appointment id.
func (a *Applier) Book(b Booking) (models.QueueEntry, error) {
	if b.Duration <= 0 {
		return models.QueueEntry{}, syncerr.Errorf(syncerr.Validation, "book", "duration must be positive")
	}
	start := b.StartAt.UTC()
	return a.Apply(models.CreateAppointment{
		AppointmentID: a.keys.NewID(),
		EmployeeID:    strings.TrimSpace(b.EmployeeID),
		ServiceID:     strings.TrimSpace(b.ServiceID),
		StartAt:       start,
		EndAt:         start.Add(b.Duration),
		CustomerID:    strings.TrimSpace(b.CustomerID),
		CustomerName:  strings.TrimSpace(b.CustomerName),
		CustomerPhone: strings.TrimSpace(b.CustomerPhone),
		CustomerEmail: strings.ToLower(strings.TrimSpace(b.CustomerEmail)),
		Notes:         b.Notes,
	})
}

// Reschedule builds an APPOINTMENT_UPDATE carrying only the changed fields.
// A new start without a duration is rejected: the server does not shift end_at.
func (a *Applier) Reschedule(r Reschedule) (models.QueueEntry, error) {
	u := models.UpdateAppointment{AppointmentID: strings.TrimSpace(r.AppointmentID)}
	if r.EmployeeID != "" {
		v := strings.TrimSpace(r.EmployeeID)
		u.EmployeeID = &v
	}
	if r.ServiceID != "" {
		v := strings.TrimSpace(r.ServiceID)
		u.ServiceID = &v
	}
	if !r.StartAt.IsZero() {
		if r.Duration <= 0 {
			return models.QueueEntry{}, syncerr.Errorf(syncerr.Validation, "reschedule", "a new start needs a duration")
		}
		start := r.StartAt.UTC()
		end := start.Add(r.Duration)
		u.StartAt, u.EndAt = &start, &end
	}
	if r.Notes != nil {
		v := *r.Notes
		u.Notes = &v
	}
	if r.Status != "" {
		s := r.Status
		u.Status = &s
	}
	return a.Apply(u)
}

// Cancel builds an APPOINTMENT_CANCEL.
func (a *Applier) Cancel(appointmentID, reason string) (models.QueueEntry, error) {
	return a.Apply(models.CancelAppointment{
		AppointmentID: strings.TrimSpace(appointmentID),
		Reason:        strings.TrimSpace(reason),
	})
}

// Amend builds the correcting entry for an unresolved one under a new key.
// edit receives the decoded action; a nil edit resends it unchanged. The
// correction must keep the action type and target appointment. The old entry
// is left alone.
func (a *Applier) Amend(old models.QueueEntry, edit func(models.Action) (models.Action, error)) (models.QueueEntry, error) {
	act, err := old.Action()
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("amend %s: %w", old.IdempotencyKey, err)
	}
	fixed := act
	if edit != nil {
		if fixed, err = edit(act); err != nil {
			return models.QueueEntry{}, err
		}
	}
	if fixed == nil || fixed.Type() != act.Type() || fixed.AppointmentRef() != act.AppointmentRef() {
		return models.QueueEntry{}, syncerr.Errorf(syncerr.Validation, "amend",
			"correction must target the same %s on %s", act.Type(), act.AppointmentRef())
	}
	return a.Apply(fixed)
}
