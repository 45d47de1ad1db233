package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_EmptyKeysRejectsRequests(t *testing.T) {
	handler := AuthMiddleware("", nil, false)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/execute", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want 401", rec.Code)
	}
}

func TestAuthMiddleware_ExplicitAllowUnauthenticated(t *testing.T) {
	handler := AuthMiddleware("", nil, true)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/execute", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want 200", rec.Code)
	}
}

func TestAuthMiddleware_Keys(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"valid key", "X-API-Key", "good-key", http.StatusOK},
		{"invalid key", "X-API-Key", "bad-key", http.StatusUnauthorized},
		{"bearer token", "Authorization", "Bearer good-key", http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
	}

	handler := AuthMiddleware("X-API-Key", []string{"good-key"}, false)(okHandler())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/execute", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestAuthMiddleware_CustomHeader(t *testing.T) {
	handler := AuthMiddleware("X-Exec-Token", []string{"k"}, false)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/execute", nil)
	req.Header.Set("X-Exec-Token", "k")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want 200", rec.Code)
	}
}

func TestRateLimitMiddleware_Burst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimitMiddleware(ctx, 0.001, 2)(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:" + string(rune('1'+i)) + "000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	// Same host on different source ports shares one bucket.
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
}

func TestClientLimiter_RefillAndPrune(t *testing.T) {
	l := newClientLimiter(2, 1)
	t0 := time.Unix(1000, 0)

	if ok, _ := l.take("a", t0); !ok {
		t.Fatal("first take should succeed")
	}
	ok, wait := l.take("a", t0)
	if ok {
		t.Fatal("second take should be limited")
	}
	if wait != 500*time.Millisecond {
		t.Errorf("wait = %v, want 500ms", wait)
	}
	if ok, _ := l.take("b", t0); !ok {
		t.Error("other clients have their own bucket")
	}
	if ok, _ := l.take("a", t0.Add(500*time.Millisecond)); !ok {
		t.Error("bucket should refill at the configured rate")
	}

	if n := l.prune(t0.Add(time.Minute), 30*time.Second); n != 2 {
		t.Errorf("pruned %d buckets, want 2", n)
	}
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	handler := RateLimitMiddleware(context.Background(), 0, 0)(okHandler())
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d got %d", i, rec.Code)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "abc" || rec.Header().Get("X-Request-ID") != "abc" {
		t.Errorf("propagated id = %q, header = %q", seen, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 36 {
		t.Errorf("generated id = %q, want a UUID", seen)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeadersMiddleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing frame options header")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("got status %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INTERNAL") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestLoggingMiddleware_RecordsStatusAndBytes(t *testing.T) {
	var rec *statusRecorder
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		rec = w.(*statusRecorder)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTeapot)
	}
	if rec.status != http.StatusTeapot {
		t.Errorf("recorded status = %d", rec.status)
	}
	if rec.bytes != int64(len("short and stout")) {
		t.Errorf("recorded bytes = %d", rec.bytes)
	}
	if _, ok := http.ResponseWriter(rec).(http.Flusher); !ok {
		t.Error("recorder should implement http.Flusher")
	}
}
