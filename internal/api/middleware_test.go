package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecoverPanicsReturns500WithRequestID(t *testing.T) {
	m := NewMetrics()
	h := chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
		requestContext, recoverPanics, observe(m))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/v1/me", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", w.Code)
	}
	if len(w.Header().Get("X-Request-ID")) != 32 {
		t.Fatalf("request id = %q", w.Header().Get("X-Request-ID"))
	}
	if snap := m.Snapshot(); snap.Requests != 1 || snap.ServerErrors != 1 {
		t.Fatalf("metrics = %+v", snap)
	}
}

func TestRequireAuthRejectsMalformedHeader(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler reached")
	})
	for _, header := range []string{"Basic abc", "Bearer ", "token"} {
		req := httptest.NewRequest("GET", "/v1/me", nil)
		req.Header.Set("Authorization", header)
		w := httptest.NewRecorder()
		h(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%q: code = %d", header, w.Code)
		}
	}
}
