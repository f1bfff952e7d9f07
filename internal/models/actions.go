package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/salonsync/salonsync/internal/syncerr"
)

// ActionType identifies the kind of queued mutation
type ActionType string

const (
	ActionAppointmentCreate ActionType = "APPOINTMENT_CREATE"
	ActionAppointmentUpdate ActionType = "APPOINTMENT_UPDATE"
	ActionAppointmentCancel ActionType = "APPOINTMENT_CANCEL"
)

// MaxPushActions is the most actions one push request may carry.
const MaxPushActions = 500

// IsValidActionType checks if an action type is known
func IsValidActionType(t ActionType) bool {
	switch t {
	case ActionAppointmentCreate, ActionAppointmentUpdate, ActionAppointmentCancel:
		return true
	}
	return false
}

// Action is the closed set of offline mutations. Implemented by
// CreateAppointment, UpdateAppointment and CancelAppointment only.
type Action interface {
	Type() ActionType
	// AppointmentRef is the target appointment id.
	AppointmentRef() string
	Validate() error
	action()
}

// CreateAppointment books a new appointment. AppointmentID is generated on
// the client so the server can upsert by it.
type CreateAppointment struct {
	AppointmentID string            `json:"appointment_id"`
	EmployeeID    string            `json:"employee_id"`
	ServiceID     string            `json:"service_id,omitempty"`
	StartAt       time.Time         `json:"start_at"`
	EndAt         time.Time         `json:"end_at"`
	CustomerID    string            `json:"customer_id,omitempty"`
	CustomerName  string            `json:"customer_name,omitempty"`
	CustomerPhone string            `json:"customer_phone,omitempty"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	Status        AppointmentStatus `json:"status,omitempty"`
}

// UpdateAppointment changes only the fields that are non-nil.
type UpdateAppointment struct {
	AppointmentID string             `json:"appointment_id"`
	EmployeeID    *string            `json:"employee_id,omitempty"`
	ServiceID     *string            `json:"service_id,omitempty"`
	StartAt       *time.Time         `json:"start_at,omitempty"`
	EndAt         *time.Time         `json:"end_at,omitempty"`
	Notes         *string            `json:"notes,omitempty"`
	Status        *AppointmentStatus `json:"status,omitempty"`
}

// CancelAppointment marks an appointment cancelled.
type CancelAppointment struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason,omitempty"`
}

func (CreateAppointment) Type() ActionType { return ActionAppointmentCreate }
func (UpdateAppointment) Type() ActionType { return ActionAppointmentUpdate }
func (CancelAppointment) Type() ActionType { return ActionAppointmentCancel }

func (a CreateAppointment) AppointmentRef() string { return a.AppointmentID }
func (a UpdateAppointment) AppointmentRef() string { return a.AppointmentID }
func (a CancelAppointment) AppointmentRef() string { return a.AppointmentID }

func (CreateAppointment) action() {}
func (UpdateAppointment) action() {}
func (CancelAppointment) action() {}

func invalid(format string, args ...any) error {
	return syncerr.Errorf(syncerr.Validation, "validate", format, args...)
}

// Validate checks required fields and the time range.
func (a CreateAppointment) Validate() error {
	if strings.TrimSpace(a.AppointmentID) == "" {
		return invalid("appointment_id is required")
	}
	if strings.TrimSpace(a.EmployeeID) == "" {
		return invalid("employee_id is required")
	}
	if a.StartAt.IsZero() || a.EndAt.IsZero() {
		return invalid("start_at and end_at are required")
	}
	if !a.StartAt.Before(a.EndAt) {
		return invalid("start_at must be before end_at")
	}
	if a.CustomerID == "" && strings.TrimSpace(a.CustomerName) == "" {
		return invalid("customer_id or customer_name is required")
	}
	if a.Status != "" && !IsValidAppointmentStatus(a.Status) {
		return invalid("invalid status %q", a.Status)
	}
	if a.Status == AppointmentCancelled {
		return invalid("cannot create a cancelled appointment")
	}
	return nil
}

// Validate checks that the update targets an appointment and changes something.
func (a UpdateAppointment) Validate() error {
	if strings.TrimSpace(a.AppointmentID) == "" {
		return invalid("appointment_id is required")
	}
	if a.EmployeeID == nil && a.ServiceID == nil && a.StartAt == nil &&
		a.EndAt == nil && a.Notes == nil && a.Status == nil {
		return invalid("update has no fields")
	}
	if a.EmployeeID != nil && strings.TrimSpace(*a.EmployeeID) == "" {
		return invalid("employee_id cannot be empty")
	}
	if a.StartAt != nil && a.EndAt != nil && !a.StartAt.Before(*a.EndAt) {
		return invalid("start_at must be before end_at")
	}
	if a.Status != nil && !IsValidAppointmentStatus(*a.Status) {
		return invalid("invalid status %q", *a.Status)
	}
	return nil
}

// Validate checks the target id.
func (a CancelAppointment) Validate() error {
	if strings.TrimSpace(a.AppointmentID) == "" {
		return invalid("appointment_id is required")
	}
	return nil
}

// EncodeAction returns the wire type and JSON payload for an action.
func EncodeAction(a Action) (ActionType, []byte, error) {
	if a == nil {
		return "", nil, invalid("nil action")
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", a.Type(), err)
	}
	return a.Type(), payload, nil
}

// DecodeAction parses a wire payload into its typed action and validates it.
func DecodeAction(t ActionType, payload []byte) (Action, error) {
	var (
		a   Action
		err error
	)
	switch t {
	case ActionAppointmentCreate:
		var v CreateAppointment
		err = json.Unmarshal(payload, &v)
		a = v
	case ActionAppointmentUpdate:
		var v UpdateAppointment
		err = json.Unmarshal(payload, &v)
		a = v
	case ActionAppointmentCancel:
		var v CancelAppointment
		err = json.Unmarshal(payload, &v)
		a = v
	default:
		return nil, invalid("unknown action type %q", t)
	}
	if err != nil {
		return nil, syncerr.New(syncerr.Validation, "decode "+string(t), err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
