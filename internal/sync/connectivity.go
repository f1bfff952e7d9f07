package sync

import (
	"context"
	"time"
)

// Probe reports whether the server is reachable.
type Probe func(ctx context.Context) error

// WatchConnectivity probes every interval and reports transitions to the
// engine. The first probe result is always reported. Returns when ctx is done.
func (e *Engine) WatchConnectivity(ctx context.Context, probe Probe, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	var (
		known bool
		last  bool
	)
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, interval)
		err := probe(pctx)
		cancel()
		online := err == nil
		if known && online == last {
			return
		}
		if err != nil {
			e.log.Debug("sync: probe failed", "err", err)
		}
		known, last = true, online
		e.SetOnline(online)
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			check()
		}
	}
}
