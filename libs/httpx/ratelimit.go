package httpx

import (
	"context"
	"log/slog"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Counter records one hit for key in the current fixed window and returns the
// hit count so far together with the time left in the window.
type Counter interface {
	Incr(ctx context.Context, key string) (count int64, ttl time.Duration, err error)
}

type RateLimitPolicy struct {
	Limit int
	// Exempt lists path prefixes that are never limited, such as health checks.
	Exempt []string
	// FailOpen lets requests through when the counter errors.
	FailOpen bool
	// TrustedProxies are the peers whose X-Forwarded-For is believed. With none
	// configured the header is ignored and the peer address is the client.
	TrustedProxies []netip.Prefix
	Logger         *slog.Logger
}

// RateLimit rejects clients that exceed p.Limit hits per window with 429 and
// reports the budget in X-RateLimit-* headers.
func RateLimit(c Counter, p RateLimitPolicy) Middleware {
	if p.Limit <= 0 {
		p.Limit = 60
	}
	limit := strconv.Itoa(p.Limit)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range p.Exempt {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			count, ttl, err := c.Incr(r.Context(), clientKey(r, p.TrustedProxies))
			if err != nil {
				if p.Logger != nil {
					p.Logger.Warn("rate limiter error", "err", err, "request_id", RequestIDFromContext(r.Context()))
				}
				if p.FailOpen {
					next.ServeHTTP(w, r)
					return
				}
				WriteError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
				return
			}

			remaining := int64(p.Limit) - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if count > int64(p.Limit) {
				secs := int(ttl.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MemoryCounter is a per-process fixed window counter for single instance
// deployments and tests.
type MemoryCounter struct {
	window    time.Duration
	now       func() time.Time
	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

type visitor struct {
	count     int64
	resetTime time.Time
}

func NewMemoryCounter(window time.Duration) *MemoryCounter {
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryCounter{
		window:   window,
		now:      time.Now,
		visitors: map[string]*visitor{},
	}
}

func (m *MemoryCounter) Incr(_ context.Context, key string) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)
	v := m.visitors[key]
	if v == nil || !now.Before(v.resetTime) {
		v = &visitor{resetTime: now.Add(m.window)}
		m.visitors[key] = v
	}
	v.count++
	return v.count, v.resetTime.Sub(now), nil
}

// sweep drops expired windows at most once per window so the map stays bounded
// by the number of active clients.
func (m *MemoryCounter) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < m.window {
		return
	}
	for k, v := range m.visitors {
		if !now.Before(v.resetTime) {
			delete(m.visitors, k)
		}
	}
	m.lastSweep = now
}

// clientKey is the peer address, or, when the peer is a trusted proxy, the
// right-most X-Forwarded-For hop that is not itself trusted.
func clientKey(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if len(trusted) == 0 || !isTrusted(peer, trusted) {
		return peer
	}
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !isTrusted(hop, trusted) {
			return hop
		}
		peer = hop
	}
	return peer
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies accepts CIDRs and bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
