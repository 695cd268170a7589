package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestWithRequestID(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if seen != "req-123" || rw.Header().Get(RequestIDHeader) != "req-123" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rw.Header().Get(RequestIDHeader))
	}

	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 36 {
		t.Fatalf("expected generated uuid, got %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id\nwith newline")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if seen == "bad id\nwith newline" || len(seen) != 36 {
		t.Fatalf("unsafe request id accepted: %q", seen)
	}
}

func TestChainOrderAndAccessLog(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusTeapot, map[string]string{"ok": "yes"})
	}), mark("a"), nil, mark("b"), WithRequestID, WithAccessLog(logger), WithTimeout(0))

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/slots", nil))
	if strings.Join(order, ",") != "a,b" {
		t.Fatalf("unexpected middleware order %v", order)
	}
	if rw.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rw.Code)
	}
	if !strings.Contains(buf.String(), `"status":418`) || !strings.Contains(buf.String(), `"path":"/slots"`) {
		t.Fatalf("access log missing fields: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Fatalf("4xx should log at warn: %s", buf.String())
	}
}

func TestWithRecover(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := WithRecover(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/availability", nil))
	if rw.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rw.Code)
	}
	if !strings.Contains(buf.String(), "handler panic") {
		t.Fatalf("panic not logged: %s", buf.String())
	}
}

func TestMethodGuard(t *testing.T) {
	h := MethodGuard(http.MethodGet, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodPost, "/", nil))
	if rw.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rw.Code)
	}
	if !strings.Contains(rw.Body.String(), "method not allowed") {
		t.Fatalf("unexpected body %q", rw.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	counter := NewMemoryCounter(time.Minute)
	h := RateLimit(counter, RateLimitPolicy{Limit: 2, Exempt: []string{"/healthz"}})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last *httptest.ResponseRecorder
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/availability", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}
	if last.Header().Get("Retry-After") == "" || last.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("missing rate limit headers: %v", last.Header())
	}

	health := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	health.Header.Set("X-Forwarded-For", "203.0.113.7")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, health)
	if rw.Code != http.StatusOK {
		t.Fatalf("exempt path limited: %d", rw.Code)
	}
}

type failingCounter struct{}

func (failingCounter) Incr(context.Context, string) (int64, time.Duration, error) {
	return 0, 0, errors.New("redis down")
}

func TestRateLimitFailMode(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	rw := httptest.NewRecorder()
	RateLimit(failingCounter{}, RateLimitPolicy{Limit: 1, FailOpen: true})(ok).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("fail-open should pass, got %d", rw.Code)
	}

	rw = httptest.NewRecorder()
	RateLimit(failingCounter{}, RateLimitPolicy{Limit: 1})(ok).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("fail-closed should reject, got %d", rw.Code)
	}
}

func TestMemoryCounterWindowReset(t *testing.T) {
	c := NewMemoryCounter(time.Minute)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 1; i <= 3; i++ {
		n, _, _ := c.Incr(context.Background(), "k")
		if n != int64(i) {
			t.Fatalf("hit %d counted as %d", i, n)
		}
	}
	now = now.Add(time.Minute)
	if n, ttl, _ := c.Incr(context.Background(), "k"); n != 1 || ttl != time.Minute {
		t.Fatalf("window did not reset: n=%d ttl=%s", n, ttl)
	}
}

func TestWithCORS(t *testing.T) {
	h := WithCORS(CORSPolicy{
		AllowedOrigins: []string{"https://book.example.com"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/availability", nil)
	req.Header.Set("Origin", "https://book.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rw.Code)
	}
	if rw.Header().Get("Access-Control-Allow-Origin") != "https://book.example.com" {
		t.Fatalf("unexpected allow origin %q", rw.Header().Get("Access-Control-Allow-Origin"))
	}

	other := httptest.NewRequest(http.MethodGet, "/availability", nil)
	other.Header.Set("Origin", "https://evil.example.com")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, other)
	if rw.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unexpected CORS header for unknown origin")
	}

	blocked := httptest.NewRequest(http.MethodOptions, "/availability", nil)
	blocked.Header.Set("Origin", "https://evil.example.com")
	blocked.Header.Set("Access-Control-Request-Method", "GET")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, blocked)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown preflight, got %d", rw.Code)
	}

	simple := httptest.NewRequest(http.MethodGet, "/availability", nil)
	simple.Header.Set("Origin", "https://book.example.com")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, simple)
	if rw.Header().Get("Access-Control-Expose-Headers") != RequestIDHeader {
		t.Fatalf("request id header not exposed: %v", rw.Header())
	}

	if WithCORS(CORSPolicy{}) != nil {
		t.Fatal("empty policy should produce no middleware")
	}
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeers(t *testing.T) {
	h := RateLimit(NewMemoryCounter(time.Minute), RateLimitPolicy{Limit: 2})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/availability", nil)
		req.RemoteAddr = "198.51.100.9:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		codes = append(codes, rw.Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("rotating X-Forwarded-For must not reset the bucket, got %v", codes)
	}
}

func TestClientKey(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.10 ", ""})
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}
	tests := []struct {
		name    string
		remote  string
		xff     []string
		trusted bool
		want    string
	}{
		{"no proxies configured", "198.51.100.9:5000", []string{"203.0.113.7"}, false, "198.51.100.9"},
		{"untrusted peer", "198.51.100.9:5000", []string{"203.0.113.7"}, true, "198.51.100.9"},
		{"trusted peer", "10.1.2.3:5000", []string{"203.0.113.7"}, true, "203.0.113.7"},
		{"spoofed left hop", "10.1.2.3:5000", []string{"1.1.1.1, 203.0.113.7"}, true, "203.0.113.7"},
		{"proxy chain", "192.0.2.10:443", []string{"203.0.113.7", "10.4.4.4"}, true, "203.0.113.7"},
		{"trusted peer without header", "10.1.2.3:5000", nil, true, "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			proxies := trusted
			if !tt.trusted {
				proxies = nil
			}
			if got := clientKey(req, proxies); got != tt.want {
				t.Fatalf("clientKey = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := ParseTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatal("expected error for invalid proxy")
	}
}

func TestRedisCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	c := NewRedisCounter(rdb, time.Minute, "rl:test")
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, ttl, err := c.Incr(ctx, "203.0.113.7")
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if n != int64(i) || ttl <= 0 || ttl > time.Minute {
			t.Fatalf("hit %d: n=%d ttl=%s", i, n, ttl)
		}
	}
	if !mr.Exists("rl:test:203.0.113.7") {
		t.Fatal("counter key not prefixed")
	}

	mr.FastForward(time.Minute)
	if n, _, err := c.Incr(ctx, "203.0.113.7"); err != nil || n != 1 {
		t.Fatalf("window did not reset: n=%d err=%v", n, err)
	}
}
