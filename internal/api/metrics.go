package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime      time.Time
	requests       atomic.Int64
	serverErrors   atomic.Int64
	clientErrors   atomic.Int64
	rateLimited    atomic.Int64
	pushBatches    atomic.Int64
	actionsApplied atomic.Int64
	duplicates     atomic.Int64
	conflicts      atomic.Int64
	failed         atomic.Int64
	pullRequests   atomic.Int64
	notifyErrors   atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	Requests          int64   `json:"requests"`
	ServerErrors      int64   `json:"server_errors"`
	ClientErrors      int64   `json:"client_errors"`
	RateLimited       int64   `json:"rate_limited"`
	PushBatches       int64   `json:"push_batches"`
	ActionsApplied    int64   `json:"actions_applied"`
	ActionsDuplicate  int64   `json:"actions_duplicate"`
	ActionsConflicted int64   `json:"actions_conflicted"`
	ActionsFailed     int64   `json:"actions_failed"`
	PullRequests      int64   `json:"pull_requests"`
	NotifyErrors      int64   `json:"notify_errors"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Add(1)
}

// RecordPush adds one processed batch's outcomes.
func (m *Metrics) RecordPush(applied, duplicates, conflicts, failed int) {
	m.pushBatches.Add(1)
	m.actionsApplied.Add(int64(applied))
	m.duplicates.Add(int64(duplicates))
	m.conflicts.Add(int64(conflicts))
	m.failed.Add(int64(failed))
}

// RecordPullRequest increments the pull request counter.
func (m *Metrics) RecordPullRequest() {
	m.pullRequests.Add(1)
}

func (m *Metrics) RecordNotifyError() {
	m.notifyErrors.Add(1)
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:     time.Since(m.startTime).Seconds(),
		Requests:          m.requests.Load(),
		ServerErrors:      m.serverErrors.Load(),
		ClientErrors:      m.clientErrors.Load(),
		RateLimited:       m.rateLimited.Load(),
		PushBatches:       m.pushBatches.Load(),
		ActionsApplied:    m.actionsApplied.Load(),
		ActionsDuplicate:  m.duplicates.Load(),
		ActionsConflicted: m.conflicts.Load(),
		ActionsFailed:     m.failed.Load(),
		PullRequests:      m.pullRequests.Load(),
		NotifyErrors:      m.notifyErrors.Load(),
	}
}
