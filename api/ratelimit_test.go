package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIPRateLimiter_Burst(t *testing.T) {
	l := newIPRateLimiter(1, 2, false)
	defer l.stop()

	h := l.middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(remoteAddr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("10.0.0.1:1234"); code != http.StatusOK {
		t.Errorf("request 1 status = %d", code)
	}
	if code := do("10.0.0.1:1234"); code != http.StatusOK {
		t.Errorf("request 2 status = %d", code)
	}
	if code := do("10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Errorf("request 3 status = %d, want 429", code)
	}

	// Another client has its own bucket.
	if code := do("10.0.0.2:1234"); code != http.StatusOK {
		t.Errorf("other client status = %d", code)
	}
}

func TestClientIP_ForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	trusting := newIPRateLimiter(1, 1, true)
	defer trusting.stop()
	if ip := trusting.clientIP(req); ip != "203.0.113.7" {
		t.Errorf("trusted clientIP = %q, want 203.0.113.7", ip)
	}

	direct := newIPRateLimiter(1, 1, false)
	defer direct.stop()
	if ip := direct.clientIP(req); ip != "127.0.0.1" {
		t.Errorf("direct clientIP = %q, want 127.0.0.1", ip)
	}
}
