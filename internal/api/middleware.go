package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/salonsync/salonsync/internal/serverdb"
	"github.com/salonsync/salonsync/internal/syncerr"
)

type ctxKey int

const (
	ctxAuthUser ctxKey = iota
	ctxLogger
)

// AuthUser is the caller behind a verified API key.
type AuthUser struct {
	UserID   string
	Email    string
	KeyID    string
	DeviceID string
}

func getUserFromContext(ctx context.Context) *AuthUser {
	u, _ := ctx.Value(ctxAuthUser).(*AuthUser)
	return u
}

// logFor returns the request logger (rid, uid, bid attached as they become
// known), or the default logger outside a request.
func logFor(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxLogger).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func withLogAttrs(ctx context.Context, args ...any) context.Context {
	return context.WithValue(ctx, ctxLogger, logFor(ctx).With(args...))
}

// chain wraps h so that mws[0] is the outermost middleware.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// requestContext tags each request with an id, echoed in X-Request-ID and
// carried by the request logger.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(withLogAttrs(r.Context(), "rid", id)))
	})
}

func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logFor(r.Context()).Error("panic", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// observe counts the request in m and logs method, path, status and duration.
func observe(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.RecordRequest()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			switch {
			case rec.status >= 500:
				m.RecordError()
			case rec.status >= 400:
				m.RecordClientError()
			}
			logFor(r.Context()).Info("req",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"dur", time.Since(start).String(),
			)
		})
	}
}

func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// requireAuth resolves the bearer API key to a user before calling handler.
func (s *Server) requireAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing authorization header")
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid authorization format")
			return
		}

		key, user, err := s.store.VerifyAPIKey(token)
		if err != nil {
			logFor(r.Context()).Error("verify api key", "err", err)
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to verify key")
			return
		}
		if key == nil || user == nil {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired api key")
			return
		}

		au := &AuthUser{UserID: user.ID, Email: user.Email, KeyID: key.ID, DeviceID: r.Header.Get("X-Device-ID")}
		ctx := context.WithValue(r.Context(), ctxAuthUser, au)
		if au.DeviceID != "" {
			ctx = withLogAttrs(ctx, "uid", au.UserID, "device", au.DeviceID)
		} else {
			ctx = withLogAttrs(ctx, "uid", au.UserID)
		}
		handler(w, r.WithContext(ctx))
	}
}

// requireBusinessAuth additionally requires at least minRole in the
// business named by the {id} path segment.
func (s *Server) requireBusinessAuth(minRole string, handler http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		businessID := r.PathValue("id")
		if businessID == "" {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "missing business id")
			return
		}

		role, err := s.membershipRole(businessID, getUserFromContext(r.Context()).UserID)
		switch {
		case err != nil:
			logFor(r.Context()).Error("check membership", "err", err)
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to check membership")
			return
		case role == "":
			writeKindError(w, syncerr.Errorf(syncerr.PermissionDenied, "authorize", "not a member of business %s", businessID))
			return
		case !serverdb.RoleAllows(role, minRole):
			writeKindError(w, syncerr.Errorf(syncerr.PermissionDenied, "authorize",
				"insufficient permissions: have %s, need %s", role, minRole))
			return
		}
		handler(w, r.WithContext(withLogAttrs(r.Context(), "bid", businessID)))
	})
}

// membershipRole returns the user's role in the business, "" for a
// non-member. Hits and misses are cached for MembershipCacheTTL.
func (s *Server) membershipRole(businessID, userID string) (string, error) {
	key := businessID + "|" + userID
	if s.memberships != nil {
		if v, ok := s.memberships.Get(key); ok {
			return v.(string), nil
		}
	}
	m, err := s.store.GetMembership(businessID, userID)
	if err != nil {
		return "", err
	}
	var role string
	if m != nil {
		role = m.Role
	}
	if s.memberships != nil {
		s.memberships.Set(key, role, cache.DefaultExpiration)
	}
	return role, nil
}
