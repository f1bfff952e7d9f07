// Package sync drives the reception device's offline queue against the
// server: drain pending actions, pull the appointment window, back off on
// failure. Triggers reach the engine as messages on its event loop.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/salonsync/salonsync/internal/db"
	"github.com/salonsync/salonsync/internal/models"
	"github.com/salonsync/salonsync/internal/syncerr"
)

// ErrCycleInFlight is returned when a cycle is requested while one runs.
var ErrCycleInFlight = errors.New("sync cycle already in flight")

// Defaults for Config fields left zero.
const (
	DefaultWindowDays  = 2
	DefaultBatchSize   = 100
	MaxBatchSize       = models.MaxPushActions
	DefaultInterval    = 60 * time.Second
	DefaultBackoffBase = 2 * time.Second
	DefaultBackoffMax  = 5 * time.Minute
	DefaultRetention   = 7 * 24 * time.Hour
	MinWindowDays      = 1
	MaxWindowDays      = 30
)

// Config tunes the engine.
type Config struct {
	WindowDays  int
	BatchSize   int
	Interval    time.Duration // auto-sync period while online; <0 disables
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Retention   time.Duration // applied entries older than this are pruned
	// StaleAfter is how long an entry may sit in processing before a drain
	// assumes its sender died and sends it again.
	StaleAfter time.Duration
	// OnCycle, when set, is called after every cycle from the goroutine that ran it.
	OnCycle func(CycleResult, error)
}

func (c Config) withDefaults() Config {
	if c.WindowDays == 0 {
		c.WindowDays = DefaultWindowDays
	}
	c.WindowDays = ClampDays(c.WindowDays)
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	c.BatchSize = min(c.BatchSize, MaxBatchSize)
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = db.StaleProcessingAfter
	}
	return c
}

// ClampDays bounds a window length to [MinWindowDays, MaxWindowDays].
func ClampDays(days int) int {
	return max(MinWindowDays, min(days, MaxWindowDays))
}

// Engine runs sync cycles. One cycle at a time; the phase is the guard.
type Engine struct {
	store  Store
	remote Remote
	cfg    Config
	log    *slog.Logger
	now    func() time.Time

	phase  atomic.Int32
	online atomic.Bool // last observed connectivity
	events chan event
	done   chan struct{} // closed when Run returns
}

// New creates an engine. A nil logger uses slog.Default().
func New(store Store, remote Remote, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		remote: remote,
		cfg:    cfg.withDefaults(),
		log:    logger,
		now:    time.Now,
		events: make(chan event, 64),
		done:   make(chan struct{}),
	}
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Phase reports the current cycle phase.
func (e *Engine) Phase() Phase { return Phase(e.phase.Load()) }

// Online reports the last connectivity observation.
func (e *Engine) Online() bool { return e.online.Load() }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// RunCycle runs a full drain-then-pull cycle.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	return e.runCycle(ctx, ModeFull, TriggerManual)
}

// RunCycleMode runs a cycle limited to push or pull.
func (e *Engine) RunCycleMode(ctx context.Context, mode Mode) (CycleResult, error) {
	return e.runCycle(ctx, mode, TriggerManual)
}

func (e *Engine) runCycle(ctx context.Context, mode Mode, trigger Trigger) (res CycleResult, err error) {
	if !e.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseDraining)) {
		return CycleResult{Trigger: trigger}, ErrCycleInFlight
	}
	defer e.phase.Store(int32(PhaseIdle))

	res.Trigger = trigger
	defer func() {
		res.Failures = e.settle(err)
		if n, perr := e.store.PruneApplied(e.now().Add(-e.cfg.Retention)); perr != nil {
			e.log.Warn("sync: prune applied", "err", perr)
		} else {
			res.Pruned = n
		}
		if e.cfg.OnCycle != nil {
			e.cfg.OnCycle(res, err)
		}
	}()

	if mode != ModePullOnly {
		start := e.now()
		err = e.drain(ctx, &res)
		res.PushDuration = e.now().Sub(start)
		if err != nil {
			// Pull is skipped so the snapshot never runs ahead of an undrained queue.
			res.PullSkipped = mode == ModeFull
			return res, err
		}
	}
	if mode == ModePushOnly {
		return res, nil
	}

	e.phase.Store(int32(PhasePulling))
	start := e.now()
	err = e.pull(ctx, &res)
	res.PullDuration = e.now().Sub(start)
	return res, err
}

// settle records the cycle outcome in sync_state and returns the failure streak.
func (e *Engine) settle(err error) int {
	if err == nil {
		if rerr := e.store.ResetFailures(); rerr != nil {
			e.log.Warn("sync: reset failures", "err", rerr)
		}
		return 0
	}
	n, serr := e.store.RecordFailure(err.Error())
	if serr != nil {
		e.log.Warn("sync: record failure", "err", serr)
	}
	return n
}

// drain pushes pending entries in creation order, one request per batch.
func (e *Engine) drain(ctx context.Context, res *CycleResult) error {
	if n, err := e.store.RecoverStale(e.cfg.StaleAfter); err != nil {
		e.log.Warn("sync: recover stale entries", "err", err)
	} else if n > 0 {
		e.log.Info("sync: re-queued entries orphaned in processing", "count", n)
	}
	pending, err := e.store.ListByStatus(models.QueuePending)
	if err != nil {
		return syncerr.New(syncerr.Fatal, "drain", fmt.Errorf("list pending: %w", err))
	}
	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		batch := pending[start:min(start+e.cfg.BatchSize, len(pending))]
		if err := e.pushBatch(ctx, batch, res); err != nil {
			return err
		}
	}
	if err := e.store.RecordPush(e.now()); err != nil {
		e.log.Warn("sync: record push", "err", err)
	}
	return nil
}

func (e *Engine) pushBatch(ctx context.Context, batch []models.QueueEntry, res *CycleResult) error {
	keys := make([]string, len(batch))
	for i, q := range batch {
		keys[i] = q.IdempotencyKey
	}
	claimed, err := e.store.MarkProcessing(keys)
	if err != nil {
		return syncerr.New(syncerr.Fatal, "drain", fmt.Errorf("mark processing: %w", err))
	}
	if len(claimed) == 0 {
		return nil
	}
	isClaimed := make(map[string]bool, len(claimed))
	for _, k := range claimed {
		isClaimed[k] = true
	}

	actions := make([]Action, 0, len(claimed))
	byKey := make(map[string]models.QueueEntry, len(claimed))
	for _, q := range batch {
		if !isClaimed[q.IdempotencyKey] {
			continue
		}
		actions = append(actions, Action{
			IdempotencyKey: q.IdempotencyKey,
			Type:           q.ActionType,
			Payload:        q.Payload,
			CreatedAt:      q.CreatedAt,
		})
		byKey[q.IdempotencyKey] = q
	}

	pushed, err := e.remote.Push(ctx, actions)
	res.Pushed += len(actions)
	if err != nil {
		if _, rerr := e.store.RevertProcessing(claimed...); rerr != nil {
			e.log.Error("sync: revert processing", "err", rerr, "count", len(claimed))
		}
		e.history(e.historyForError("push", err))
		if syncerr.KindOf(err) == syncerr.Unknown {
			err = syncerr.New(syncerr.Transient, "push", err)
		}
		e.log.Warn("sync: push failed", "actions", len(actions), "err", err)
		return err
	}

	outcome := make(map[string]Rejection, len(pushed.Conflicts)+len(pushed.Failed))
	status := make(map[string]models.QueueStatus, len(outcome))
	for _, r := range pushed.Conflicts {
		outcome[r.IdempotencyKey] = r
		status[r.IdempotencyKey] = models.QueueConflict
	}
	for _, r := range pushed.Failed {
		outcome[r.IdempotencyKey] = r
		status[r.IdempotencyKey] = models.QueueFailed
	}

	updates := make([]db.StatusUpdate, 0, len(actions))
	hist := make([]db.SyncHistoryEntry, 0, len(actions))
	now := e.now()
	for _, a := range actions {
		u := db.StatusUpdate{Key: a.IdempotencyKey, Status: models.QueueApplied}
		if s, ok := status[a.IdempotencyKey]; ok {
			u.Status = s
			u.LastError = outcome[a.IdempotencyKey].Reason
		}
		switch u.Status {
		case models.QueueApplied:
			res.Applied++
		case models.QueueConflict:
			res.Conflicts++
		case models.QueueFailed:
			res.Failed++
		}
		updates = append(updates, u)
		hist = append(hist, db.SyncHistoryEntry{
			Direction:      "push",
			Outcome:        string(u.Status),
			IdempotencyKey: a.IdempotencyKey,
			ActionType:     string(a.Type),
			AppointmentID:  appointmentID(byKey[a.IdempotencyKey]),
			Detail:         u.LastError,
			Timestamp:      now,
		})
	}
	if derived := len(actions) - len(outcome); derived != pushed.Applied {
		e.log.Warn("sync: applied count mismatch", "server", pushed.Applied, "derived", derived)
	}

	if err := e.store.SetStatuses(updates); err != nil {
		// Fall back to one-by-one so a single bad row does not strand the batch.
		e.log.Warn("sync: batch status update", "err", err)
		for _, u := range updates {
			if err := e.store.UpdateStatus(u.Key, u.Status, u.LastError); err != nil {
				e.log.Error("sync: update status", "key", u.Key, "status", u.Status, "err", err)
			}
		}
	}
	e.history(hist...)
	e.log.Info("sync: pushed", "actions", len(actions), "applied", res.Applied, "conflicts", res.Conflicts, "failed", res.Failed)
	return nil
}

// pull replaces the snapshot window with the server's view.
func (e *Engine) pull(ctx context.Context, res *CycleResult) error {
	pulled, err := e.remote.Pull(ctx, e.cfg.WindowDays)
	if err != nil {
		e.history(e.historyForError("pull", err))
		if syncerr.KindOf(err) == syncerr.Unknown {
			err = syncerr.New(syncerr.Transient, "pull", err)
		}
		e.log.Warn("sync: pull failed", "err", err)
		return err
	}
	if !pulled.From.Before(pulled.To) {
		return syncerr.Errorf(syncerr.Transient, "pull", "server returned empty window %s..%s", pulled.From, pulled.To)
	}

	snaps := make([]models.AppointmentSnapshot, 0, len(pulled.Appointments))
	for _, a := range pulled.Appointments {
		if a.Status == models.AppointmentCancelled {
			continue
		}
		a.Synced = true
		snaps = append(snaps, a)
	}
	if err := e.store.ReplaceSnapshots(pulled.From, pulled.To, snaps); err != nil {
		return syncerr.New(syncerr.Fatal, "pull", fmt.Errorf("replace snapshots: %w", err))
	}
	if err := e.store.RecordPull(e.now(), pulled.From, pulled.To); err != nil {
		e.log.Warn("sync: record pull", "err", err)
	}

	res.Pulled = len(snaps)
	res.WindowFrom, res.WindowTo = pulled.From, pulled.To
	e.history(db.SyncHistoryEntry{
		Direction: "pull",
		Outcome:   "ok",
		Detail:    fmt.Sprintf("%d appointments %s..%s", len(snaps), pulled.From.Format(time.RFC3339), pulled.To.Format(time.RFC3339)),
		Timestamp: e.now(),
	})
	e.log.Info("sync: pulled", "appointments", len(snaps), "days", pulled.Days)
	return nil
}

func (e *Engine) history(entries ...db.SyncHistoryEntry) {
	if err := e.store.RecordSyncHistory(entries); err != nil {
		e.log.Warn("sync: record history", "err", err)
	}
}

func (e *Engine) historyForError(direction string, err error) db.SyncHistoryEntry {
	return db.SyncHistoryEntry{
		Direction: direction,
		Outcome:   "error",
		Detail:    err.Error(),
		Timestamp: e.now(),
	}
}

func appointmentID(q models.QueueEntry) string {
	act, err := q.Action()
	if err != nil {
		return ""
	}
	return act.AppointmentRef()
}
