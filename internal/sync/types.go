package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/salonsync/salonsync/internal/db"
	"github.com/salonsync/salonsync/internal/models"
)

// Action is one queue entry as sent to the server.
type Action struct {
	IdempotencyKey string
	Type           models.ActionType
	Payload        json.RawMessage
	CreatedAt      time.Time
}

// Rejection explains why the server did not apply an action.
type Rejection struct {
	IdempotencyKey string
	Reason         string
}

// PushResult is the server's per-batch verdict. Actions not listed in
// Conflicts or Failed were applied.
type PushResult struct {
	Applied   int
	Conflicts []Rejection
	Failed    []Rejection
}

// PullResult is the authoritative appointment window.
type PullResult struct {
	Days         int
	From, To     time.Time
	Appointments []models.AppointmentSnapshot
}

// Remote is the server side of the protocol. Errors are whole-request
// failures; per-action outcomes come back in PushResult.
type Remote interface {
	Push(ctx context.Context, actions []Action) (PushResult, error)
	Pull(ctx context.Context, days int) (PullResult, error)
}

// Store is the part of the local store the engine drives.
type Store interface {
	ListByStatus(status models.QueueStatus) ([]models.QueueEntry, error)
	MarkProcessing(keys []string) ([]string, error)
	SetStatuses(updates []db.StatusUpdate) error
	UpdateStatus(key string, status models.QueueStatus, lastError string) error
	RevertProcessing(keys ...string) (int64, error)
	RecoverStale(olderThan time.Duration) (int64, error)
	ReplaceSnapshots(from, to time.Time, snaps []models.AppointmentSnapshot) error
	PruneApplied(before time.Time) (int64, error)
	RecordPush(at time.Time) error
	RecordPull(at, from, to time.Time) error
	RecordFailure(reason string) (int, error)
	ResetFailures() error
	RecordSyncHistory(entries []db.SyncHistoryEntry) error
}

// Phase is the engine's position in a cycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseDraining
	PhasePulling
)

func (p Phase) String() string {
	switch p {
	case PhaseDraining:
		return "draining"
	case PhasePulling:
		return "pulling"
	default:
		return "idle"
	}
}

// Mode selects which halves of a cycle run.
type Mode int

const (
	ModeFull Mode = iota
	ModePushOnly
	ModePullOnly
)

// Trigger records why a cycle started.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerOnline   Trigger = "online"
	TriggerInterval Trigger = "interval"
	TriggerRetry    Trigger = "retry"
)

// CycleResult summarises one sync cycle.
type CycleResult struct {
	Trigger      Trigger
	Pushed       int
	Applied      int
	Conflicts    int
	Failed       int
	Pulled       int
	PullSkipped  bool
	WindowFrom   time.Time
	WindowTo     time.Time
	Pruned       int64
	Failures     int // consecutive failed cycles, 0 after a success
	PushDuration time.Duration
	PullDuration time.Duration
}
