package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/config"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/observe"
)

const (
	// rateWindow is the fixed-window length of the per-client limiter.
	rateWindow = time.Minute

	// pruneInterval is how often the background pruner removes expired
	// buckets.
	pruneInterval = time.Minute

	// maxBuckets caps the live bucket map. Inserting beyond the cap first
	// prunes every expired bucket, so an address-spoofing client cannot grow
	// the map without bound.
	maxBuckets = 10_000
)

// bucket is one client's fixed window: requests seen and when the window
// resets.
type bucket struct {
	count   int
	resetAt time.Time
}

// rateLimiter is a per-client fixed-window limiter. The limit is re-read
// from the config store on every check, so a settings update applies to the
// very next request. Safe for concurrent use.
type rateLimiter struct {
	store   *config.Store
	metrics *observe.Metrics
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newRateLimiter(store *config.Store, metrics *observe.Metrics) *rateLimiter {
	return &rateLimiter{
		store:   store,
		metrics: metrics,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// check admits or rejects one request from client. The first request of a
// fresh or expired window always admits with count 1.
func (rl *rateLimiter) check(ctx context.Context, client string) bool {
	limit := rl.store.Get().Server.RateLimitPerMinute
	if limit <= 0 {
		return true
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[client]
	if !ok || !now.Before(b.resetAt) {
		if !ok && len(rl.buckets) >= maxBuckets {
			rl.pruneLocked(now)
		}
		wasLive := ok
		rl.buckets[client] = &bucket{count: 1, resetAt: now.Add(rateWindow)}
		if !wasLive {
			rl.metrics.RateLimitBuckets.Add(ctx, 1)
		}
		return true
	}

	b.count++
	if b.count > limit {
		rl.metrics.RecordRateLimitReject(ctx)
		return false
	}
	return true
}

// pruneLocked removes every expired bucket. Caller holds mu.
func (rl *rateLimiter) pruneLocked(now time.Time) {
	removed := int64(0)
	for client, b := range rl.buckets {
		if !now.Before(b.resetAt) {
			delete(rl.buckets, client)
			removed++
		}
	}
	if removed > 0 {
		rl.metrics.RateLimitBuckets.Add(context.Background(), -removed)
	}
}

// live returns the number of live buckets.
func (rl *rateLimiter) live() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Run prunes expired buckets on a fixed cadence until ctx is cancelled.
func (rl *rateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			rl.pruneLocked(rl.now())
			rl.mu.Unlock()
		}
	}
}

// clientIP extracts the rate-limit identity for r. When the config names a
// trusted proxy header, its first comma-separated entry wins; otherwise the
// socket peer address is used.
func clientIP(r *http.Request, trustedHeader string) string {
	if trustedHeader != "" {
		if v := r.Header.Get(trustedHeader); v != "" {
			first, _, _ := strings.Cut(v, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
