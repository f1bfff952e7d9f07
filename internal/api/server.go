package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/salonsync/salonsync/internal/notify"
	"github.com/salonsync/salonsync/internal/serverdb"
)

// maxRequestBytes caps request bodies.
const maxRequestBytes = 10 << 20

// Server is the HTTP API server for salonsync.
type Server struct {
	config      Config
	http        *http.Server
	store       *serverdb.ServerDB
	notifier    notify.Notifier
	metrics     *Metrics
	rateLimiter *RateLimiter
	memberships *cache.Cache
	bizLocks    sync.Map // business id -> *sync.Mutex
	pending     sync.WaitGroup
	now         func() time.Time
	cancel      context.CancelFunc
}

// NewServer creates a new Server with the given config and store.
// A nil notifier logs events.
func NewServer(cfg Config, store *serverdb.ServerDB, notifier notify.Notifier) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if notifier == nil {
		notifier = notify.Log{}
	}
	s := &Server{
		config:      cfg,
		store:       store,
		notifier:    notifier,
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
		now:         time.Now,
	}
	if cfg.MembershipCacheTTL > 0 {
		s.memberships = cache.New(cfg.MembershipCacheTTL, 2*cfg.MembershipCacheTTL)
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Handler returns the full middleware chain, for mounting in tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	// Periodically drop old rate limit events
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("cleanup panic", "panic", r)
			}
		}()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.store.CleanupRateLimitEvents(s.config.RateLimitEventRetention)
				if err != nil {
					slog.Error("cleanup rate limit events", "err", err)
				} else if n > 0 {
					slog.Info("cleaned up rate limit events", "count", n)
				}
			}
		}
	}()

	return nil
}

// Shutdown gracefully stops the server and waits for in-flight notifications.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.http.Shutdown(ctx)
	s.rateLimiter.Close()

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown: notifications still pending")
	}
	return err
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	mux.HandleFunc("GET /v1/me", s.requireAuth(s.withRateLimit(s.handleMe, s.config.RateLimitOther)))

	// Sync
	mux.HandleFunc("POST /v1/businesses/{id}/sync/push", s.requireBusinessAuth(serverdb.RoleAdmin, s.withRateLimit(s.handleSyncPush, s.config.RateLimitPush)))
	mux.HandleFunc("POST /v1/businesses/{id}/sync/pull", s.requireBusinessAuth(serverdb.RoleEmployee, s.withRateLimit(s.handleSyncPull, s.config.RateLimitPull)))

	return chain(mux, requestContext, recoverPanics, observe(s.metrics), s.CORSMiddleware, limitBody(maxRequestBytes), s.ipRateLimitMiddleware)
}

// handleHealth returns a health check response, pinging the server DB.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// MeResponse is the JSON response for GET /v1/me.
type MeResponse struct {
	UserID      string                    `json:"user_id"`
	Email       string                    `json:"email"`
	Memberships []serverdb.UserMembership `json:"memberships"`
}

// handleMe returns the caller and the businesses they belong to.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r.Context())
	ms, err := s.store.ListUserMemberships(user.UserID)
	if err != nil {
		logFor(r.Context()).Error("list memberships", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list memberships")
		return
	}
	if ms == nil {
		ms = []serverdb.UserMembership{}
	}
	writeJSON(w, http.StatusOK, MeResponse{UserID: user.UserID, Email: user.Email, Memberships: ms})
}
