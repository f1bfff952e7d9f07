package sync

import (
	"context"
	"errors"
	"time"

	"github.com/salonsync/salonsync/internal/syncerr"
)

type eventKind int

const (
	evConnectivity eventKind = iota
	evSyncRequest
)

type event struct {
	kind   eventKind
	online bool
}

type cycleDone struct {
	trigger Trigger
	res     CycleResult
	err     error
}

// SetOnline reports a connectivity observation. A transition to online
// starts a cycle.
func (e *Engine) SetOnline(online bool) {
	e.online.Store(online)
	e.post(event{kind: evConnectivity, online: online})
}

// RequestSync asks for a cycle now, ignoring backoff. Dropped if a cycle is
// already running or a request is already queued.
func (e *Engine) RequestSync() {
	select {
	case e.events <- event{kind: evSyncRequest}:
	default:
	}
}

func (e *Engine) post(ev event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// Backoff returns the wait after n consecutive failures:
// min(base * 2^(n-1), max). n <= 0 means no wait.
func Backoff(n int, base, max time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	return min(d, max)
}

// Run is the engine's event loop. It owns the interval and backoff timers,
// starts cycles on a worker goroutine and returns once ctx is done and any
// in-flight cycle has finished. online is the starting connectivity.
func (e *Engine) Run(ctx context.Context, online bool) error {
	defer close(e.done)
	e.online.Store(online)

	var tick <-chan time.Time
	if e.cfg.Interval > 0 {
		t := time.NewTicker(e.cfg.Interval)
		defer t.Stop()
		tick = t.C
	}

	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()

	var (
		busy         bool
		failures     int
		backoffUntil time.Time
		finished     = make(chan cycleDone, 1)
		// cycles are not cancelled by Run's context; they finish on their own
		cycleCtx = context.WithoutCancel(ctx)
	)

	start := func(trigger Trigger) {
		if busy {
			e.log.Debug("sync: trigger coalesced", "trigger", trigger)
			return
		}
		busy = true
		go func() {
			res, err := e.runCycle(cycleCtx, ModeFull, trigger)
			finished <- cycleDone{trigger: trigger, res: res, err: err}
		}()
	}

	auto := func(trigger Trigger) {
		if !online {
			return
		}
		if e.now().Before(backoffUntil) {
			e.log.Debug("sync: in backoff", "trigger", trigger, "until", backoffUntil)
			return
		}
		start(trigger)
	}

	if online {
		auto(TriggerOnline)
	}

	for {
		select {
		case <-ctx.Done():
			if busy {
				<-finished
			}
			return nil

		case ev := <-e.events:
			switch ev.kind {
			case evConnectivity:
				was := online
				online = ev.online
				if online && !was {
					e.log.Info("sync: online")
					auto(TriggerOnline)
				} else if !online && was {
					e.log.Info("sync: offline")
				}
			case evSyncRequest:
				start(TriggerManual)
			}

		case <-tick:
			auto(TriggerInterval)

		case <-retry.C:
			auto(TriggerRetry)

		case d := <-finished:
			busy = false
			switch {
			case errors.Is(d.err, ErrCycleInFlight):
				// another caller holds the cycle; its result is theirs
			case d.err != nil && syncerr.Retryable(d.err):
				failures = max(d.res.Failures, failures+1)
				wait := Backoff(failures, e.cfg.BackoffBase, e.cfg.BackoffMax)
				backoffUntil = e.now().Add(wait)
				retry.Reset(wait)
				e.log.Warn("sync: cycle failed, backing off", "trigger", d.trigger, "failures", failures, "wait", wait, "err", d.err)
			case d.err != nil:
				// not retryable (auth, storage): wait for the next trigger at max backoff
				failures = max(d.res.Failures, failures+1)
				backoffUntil = e.now().Add(e.cfg.BackoffMax)
				e.log.Error("sync: cycle failed", "trigger", d.trigger, "err", d.err)
			default:
				failures = 0
				backoffUntil = time.Time{}
				retry.Stop()
			}
		}
	}
}
