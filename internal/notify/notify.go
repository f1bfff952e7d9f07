// Package notify publishes applied appointment changes to downstream
// channels (email, push) that are not part of this service.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/salonsync/salonsync/internal/models"
)

// Kind names what happened to an appointment.
type Kind string

const (
	AppointmentBooked    Kind = "appointment.booked"
	AppointmentUpdated   Kind = "appointment.updated"
	AppointmentCancelled Kind = "appointment.cancelled"
)

// KindFor maps an applied action type to its event kind.
func KindFor(t models.ActionType) Kind {
	switch t {
	case models.ActionAppointmentCreate:
		return AppointmentBooked
	case models.ActionAppointmentCancel:
		return AppointmentCancelled
	}
	return AppointmentUpdated
}

// Event is the payload handed to a sink.
type Event struct {
	Kind           Kind      `json:"kind"`
	BusinessID     string    `json:"business_id"`
	AppointmentID  string    `json:"appointment_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	At             time.Time `json:"at"`
}

// Notifier delivers events. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
	Close() error
}

// Log writes events to a logger. It is the default sink.
type Log struct {
	Logger *slog.Logger
}

func (l Log) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l Log) Notify(ctx context.Context, ev Event) error {
	l.logger().InfoContext(ctx, "notify",
		"kind", ev.Kind,
		"bid", ev.BusinessID,
		"appointment", ev.AppointmentID,
		"key", ev.IdempotencyKey,
	)
	return nil
}

func (Log) Close() error { return nil }

// Multi fans an event out to every sink, joining errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
