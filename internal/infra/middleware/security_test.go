package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, remote string, header map[string]string) int {
	req := httptest.NewRequest("GET", "/ipc", nil)
	req.RemoteAddr = remote
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(okHandler)

	req := httptest.NewRequest("GET", "/ipc", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	expected := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'none'",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	}
	for header, want := range expected {
		if got := w.Header().Get(header); got != want {
			t.Errorf("Header %s = %q, want %q", header, got, want)
		}
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRateLimit_AllowsBurstThenBlocks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, RateLimitConfig{RequestsPerSecond: 0.001, Burst: 3}, discardLogger())(okHandler)

	for i := 0; i < 3; i++ {
		if code := serve(handler, "127.0.0.1:5000", nil); code != http.StatusOK {
			t.Fatalf("request %d: status %d, want 200", i, code)
		}
	}
	if code := serve(handler, "127.0.0.1:5001", nil); code != http.StatusTooManyRequests {
		t.Errorf("request past burst: status %d, want 429", code)
	}
}

func TestRateLimit_SeparatesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}, discardLogger())(okHandler)

	if code := serve(handler, "10.0.0.1:1", nil); code != http.StatusOK {
		t.Fatalf("client A: status %d", code)
	}
	if code := serve(handler, "10.0.0.2:1", nil); code != http.StatusOK {
		t.Errorf("client B should have its own bucket, got %d", code)
	}
	if code := serve(handler, "10.0.0.1:2", nil); code != http.StatusTooManyRequests {
		t.Errorf("client A second request: status %d, want 429", code)
	}
}

func TestRateLimit_IgnoresForwardedHeaders(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}, discardLogger())(okHandler)

	serve(handler, "127.0.0.1:1", map[string]string{"X-Forwarded-For": "1.1.1.1"})
	code := serve(handler, "127.0.0.1:2", map[string]string{"X-Forwarded-For": "2.2.2.2"})
	if code != http.StatusTooManyRequests {
		t.Errorf("spoofed X-Forwarded-For should not get a fresh bucket, got %d", code)
	}
}

func TestRateLimit_TokenRefill(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping time-dependent test in short mode")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, RateLimitConfig{RequestsPerSecond: 10, Burst: 1}, discardLogger())(okHandler)

	if code := serve(handler, "127.0.0.1:1", nil); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := serve(handler, "127.0.0.1:1", nil); code != http.StatusTooManyRequests {
		t.Fatalf("immediate second request: %d, want 429", code)
	}
	time.Sleep(150 * time.Millisecond)
	if code := serve(handler, "127.0.0.1:1", nil); code != http.StatusOK {
		t.Errorf("request after refill: %d, want 200", code)
	}
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"127.0.0.1:4000", "127.0.0.1"},
		{"[::1]:4000", "::1"},
		{"pipe", "pipe"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tt.remote
		if got := clientAddr(req); got != tt.want {
			t.Errorf("clientAddr(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestOriginCheck(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    int
	}{
		{"no origin header", nil, "", http.StatusOK},
		{"same host", nil, "http://example.com", http.StatusOK},
		{"foreign host without allow list", nil, "http://evil.test", http.StatusForbidden},
		{"allowed by origin", []string{"app://renderer"}, "app://renderer", http.StatusOK},
		{"allowed by host", []string{"renderer.local"}, "http://renderer.local", http.StatusOK},
		{"wildcard", []string{"*"}, "http://anything.test", http.StatusOK},
		{"not in list", []string{"app://renderer"}, "http://evil.test", http.StatusForbidden},
		{"garbage origin", []string{"*"}, "::not a url", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := OriginCheck(tt.allowed, discardLogger())(okHandler)
			var hdr map[string]string
			if tt.origin != "" {
				hdr = map[string]string{"Origin": tt.origin}
			}
			if code := serve(h, "127.0.0.1:1", hdr); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}
