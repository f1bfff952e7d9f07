package models

import (
	"time"
)

// QueueStatus represents the lifecycle state of a queued offline action
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueApplied    QueueStatus = "applied"
	QueueConflict   QueueStatus = "conflict"
	QueueFailed     QueueStatus = "failed"
)

// AllQueueStatuses lists statuses in display order
func AllQueueStatuses() []QueueStatus {
	return []QueueStatus{QueuePending, QueueProcessing, QueueApplied, QueueConflict, QueueFailed}
}

// queueTransitions holds the allowed status changes. applied is terminal.
var queueTransitions = map[QueueStatus][]QueueStatus{
	QueuePending:    {QueueProcessing, QueueFailed},
	QueueProcessing: {QueueApplied, QueueConflict, QueueFailed, QueuePending},
	QueueConflict:   {QueuePending},
	QueueFailed:     {QueuePending},
	QueueApplied:    nil,
}

// IsValidQueueStatus checks if a queue status is valid
func IsValidQueueStatus(s QueueStatus) bool {
	_, ok := queueTransitions[s]
	return ok
}

// CanTransition reports whether an entry may move from one status to another.
// Same-status moves are allowed (no-op).
func CanTransition(from, to QueueStatus) bool {
	if from == to {
		return IsValidQueueStatus(from)
	}
	for _, s := range queueTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NeedsAttention reports whether an entry is waiting on a human decision
func (s QueueStatus) NeedsAttention() bool {
	return s == QueueConflict || s == QueueFailed
}

// AppointmentStatus represents a remote appointment status
type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentCompleted AppointmentStatus = "completed"
)

// IsValidAppointmentStatus checks if an appointment status is valid
func IsValidAppointmentStatus(s AppointmentStatus) bool {
	switch s {
	case AppointmentPending, AppointmentConfirmed, AppointmentCancelled, AppointmentCompleted:
		return true
	}
	return false
}

// QueueEntry is one offline-originated mutation intent
type QueueEntry struct {
	Seq            int64       `json:"-"`
	IdempotencyKey string      `json:"idempotency_key"`
	ActionType     ActionType  `json:"action_type"`
	Payload        []byte      `json:"payload"`
	Status         QueueStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	LastError      string      `json:"last_error,omitempty"`
	Attempts       int         `json:"attempts"`
}

// Action decodes the entry payload into its typed action
func (e QueueEntry) Action() (Action, error) {
	return DecodeAction(e.ActionType, e.Payload)
}

// AppointmentSnapshot is the local read-model row for one remote appointment
type AppointmentSnapshot struct {
	ID            string            `json:"id"`
	StartAt       time.Time         `json:"start_at"`
	EndAt         time.Time         `json:"end_at"`
	CustomerName  string            `json:"customer_name"`
	CustomerPhone string            `json:"customer_phone,omitempty"`
	EmployeeID    string            `json:"employee_id,omitempty"`
	EmployeeName  string            `json:"employee_name,omitempty"`
	ServiceID     string            `json:"service_id,omitempty"`
	ServiceName   string            `json:"service_name,omitempty"`
	Status        AppointmentStatus `json:"status"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Synced        bool              `json:"synced"`
}

// Overlaps reports whether two half-open intervals [aStart,aEnd) and [bStart,bEnd) intersect
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// QueueCounts holds entry counts per status
type QueueCounts map[QueueStatus]int

// Waiting is the single badge for entries not yet settled: pending, processing and failed
func (c QueueCounts) Waiting() int {
	return c[QueuePending] + c[QueueProcessing] + c[QueueFailed]
}

// Conflicts is the distinct actionable badge
func (c QueueCounts) Conflicts() int {
	return c[QueueConflict]
}
