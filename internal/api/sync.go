package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/salonsync/salonsync/internal/models"
	"github.com/salonsync/salonsync/internal/notify"
	"github.com/salonsync/salonsync/internal/serverdb"
)

const (
	maxPushActions = models.MaxPushActions
	notifyTimeout  = 10 * time.Second
)

// PushRequest is the JSON body for POST /v1/businesses/{id}/sync/push.
type PushRequest struct {
	Actions []ActionInput `json:"actions"`
}

// ActionInput is one queued client action.
type ActionInput struct {
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Rejection names an action that was not applied and why.
type Rejection struct {
	IdempotencyKey string `json:"idempotency_key"`
	Reason         string `json:"reason"`
}

// PushResponse is the JSON response for a push request.
type PushResponse struct {
	OK        bool        `json:"ok"`
	Applied   int         `json:"applied"`
	Conflicts []Rejection `json:"conflicts,omitempty"`
	Failed    []Rejection `json:"failed,omitempty"`
}

// PullRequest is the optional JSON body for POST /v1/businesses/{id}/sync/pull.
type PullRequest struct {
	Days int `json:"days,omitempty"`
}

// PullResponse is the JSON response for a pull request. From and To bound
// the window the client must replace.
type PullResponse struct {
	OK           bool                         `json:"ok"`
	Days         int                          `json:"days"`
	From         time.Time                    `json:"from"`
	To           time.Time                    `json:"to"`
	Appointments []models.AppointmentSnapshot `json:"appointments"`
}

// businessLock returns the push mutex for a business.
func (s *Server) businessLock(businessID string) *sync.Mutex {
	mu, _ := s.bizLocks.LoadOrStore(businessID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// handleSyncPush handles POST /v1/businesses/{id}/sync/push.
func (s *Server) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	businessID := r.PathValue("id")

	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if len(req.Actions) > maxPushActions {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest,
			fmt.Sprintf("too many actions: %d (max %d)", len(req.Actions), maxPushActions))
		return
	}

	actions := make([]serverdb.BatchAction, len(req.Actions))
	for i, a := range req.Actions {
		actions[i] = serverdb.BatchAction{
			IdempotencyKey: strings.TrimSpace(a.IdempotencyKey),
			Type:           models.ActionType(a.Type),
			Payload:        a.Payload,
			CreatedAt:      a.CreatedAt,
		}
	}

	if s.config.SerializeBusinessWrites {
		mu := s.businessLock(businessID)
		mu.Lock()
		defer mu.Unlock()
	}

	res, err := s.store.ProcessBatch(r.Context(), businessID, actions)
	if err != nil {
		logFor(r.Context()).Error("process batch", "err", err, "processed", len(res.Results), "total", len(actions))
		// Already-processed actions are deduplicated on retry.
		s.publish(r.Context(), businessID, res.Results)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to process batch")
		return
	}

	resp := PushResponse{OK: true, Applied: res.Applied()}
	duplicates := 0
	for _, a := range res.Results {
		if a.Cause != nil {
			logFor(r.Context()).Error("store action", "key", a.IdempotencyKey, "type", a.Type, "err", a.Cause)
		}
		switch a.Outcome {
		case serverdb.OutcomeConflict:
			resp.Conflicts = append(resp.Conflicts, Rejection{IdempotencyKey: a.IdempotencyKey, Reason: a.Reason})
		case serverdb.OutcomeFailed:
			resp.Failed = append(resp.Failed, Rejection{IdempotencyKey: a.IdempotencyKey, Reason: a.Reason})
		case serverdb.OutcomeApplied:
			if a.Duplicate {
				duplicates++
			}
		}
	}
	s.metrics.RecordPush(resp.Applied-duplicates, duplicates, len(resp.Conflicts), len(resp.Failed))
	logFor(r.Context()).Info("push",
		"actions", len(actions),
		"applied", resp.Applied,
		"duplicates", duplicates,
		"conflicts", len(resp.Conflicts),
		"failed", len(resp.Failed),
	)

	s.publish(r.Context(), businessID, res.Results)
	writeJSON(w, http.StatusOK, resp)
}

// publish hands newly applied actions to the notifier off the request path.
func (s *Server) publish(ctx context.Context, businessID string, results []serverdb.ActionResult) {
	var events []notify.Event
	now := s.now().UTC()
	for _, a := range results {
		if a.Outcome != serverdb.OutcomeApplied || a.Duplicate {
			continue
		}
		events = append(events, notify.Event{
			Kind:           notify.KindFor(a.Type),
			BusinessID:     businessID,
			AppointmentID:  a.AppointmentID,
			IdempotencyKey: a.IdempotencyKey,
			At:             now,
		})
	}
	if len(events) == 0 {
		return
	}

	log := logFor(ctx)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer cancel()
		for _, ev := range events {
			if err := s.notifier.Notify(ctx, ev); err != nil {
				s.metrics.RecordNotifyError()
				log.Warn("notify", "err", err, "appointment", ev.AppointmentID)
			}
		}
	}()
}

// handleSyncPull handles POST /v1/businesses/{id}/sync/pull.
func (s *Server) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	businessID := r.PathValue("id")

	var req PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	days := serverdb.ClampDays(req.Days)

	b, err := s.store.GetBusiness(businessID)
	if err != nil {
		logFor(r.Context()).Error("get business", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to load business")
		return
	}
	if b == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "business not found")
		return
	}

	from, to := serverdb.Window(s.now(), b.Location(), days)
	appts, err := s.store.ListWindow(r.Context(), businessID, from, to)
	if err != nil {
		logFor(r.Context()).Error("list window", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list appointments")
		return
	}

	s.metrics.RecordPullRequest()
	writeJSON(w, http.StatusOK, PullResponse{
		OK:           true,
		Days:         days,
		From:         from,
		To:           to,
		Appointments: appts,
	})
}
