package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientKey(t *testing.T) {
	for remote, want := range map[string]string{
		"198.51.100.10:1234": "198.51.100.10",
		"[2001:db8::2]:443":  "2001:db8::2",
		"203.0.113.1":        "203.0.113.1",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if got := clientKey(req); got != want {
			t.Errorf("clientKey(%q) = %q, want %q", remote, got, want)
		}
	}
}

func TestFixedWindowResets(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fw := newFixedWindow(2, time.Minute)
	fw.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := fw.allow("a"); !ok {
			t.Fatalf("request %d rejected", i)
		}
	}
	now = now.Add(20 * time.Second)
	ok, wait := fw.allow("a")
	if ok || wait != 40*time.Second {
		t.Fatalf("allow = %v, wait %v", ok, wait)
	}
	if ok, _ := fw.allow("b"); !ok {
		t.Fatalf("other key limited")
	}

	now = now.Add(time.Minute)
	if ok, _ := fw.allow("a"); !ok {
		t.Fatalf("window did not reset")
	}
	if len(fw.windows) != 1 {
		t.Fatalf("expired windows kept: %d", len(fw.windows))
	}
}

func TestRateLimitRejectsOverLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/reflect", nil)
		req.RemoteAddr = "198.51.100.10:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "60" {
			t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(0, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reflect", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
}
