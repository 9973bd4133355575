package httpapi

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/config"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/observe"
)

func newTestLimiter(t *testing.T, limit int) *rateLimiter {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	cfg := config.Default()
	cfg.Server.RateLimitPerMinute = limit
	return newRateLimiter(config.NewStore(cfg), metrics)
}

func TestRateLimiter_AdmitsUpToLimit(t *testing.T) {
	rl := newTestLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !rl.check(ctx, "1.2.3.4") {
			t.Fatalf("request %d rejected below the limit", i+1)
		}
	}
	if rl.check(ctx, "1.2.3.4") {
		t.Error("request above the limit admitted")
	}
	// A different client has its own bucket.
	if !rl.check(ctx, "5.6.7.8") {
		t.Error("separate client throttled by another client's bucket")
	}
}

func TestRateLimiter_WindowResetStartsAtOne(t *testing.T) {
	rl := newTestLimiter(t, 2)
	ctx := context.Background()

	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.check(ctx, "1.2.3.4")
	rl.check(ctx, "1.2.3.4")
	if rl.check(ctx, "1.2.3.4") {
		t.Fatal("limit not enforced before the reset")
	}

	// Advance past the window: the first check admits with a fresh count.
	now = now.Add(rateWindow + time.Second)
	if !rl.check(ctx, "1.2.3.4") {
		t.Fatal("first request after window reset rejected")
	}
	// The fresh window holds exactly limit requests again.
	if !rl.check(ctx, "1.2.3.4") {
		t.Error("second request after reset rejected; count did not restart at 1")
	}
	if rl.check(ctx, "1.2.3.4") {
		t.Error("third request after reset admitted")
	}
}

func TestRateLimiter_LimitReadFromStoreEachCheck(t *testing.T) {
	rl := newTestLimiter(t, 1)
	ctx := context.Background()

	rl.check(ctx, "1.2.3.4")
	if rl.check(ctx, "1.2.3.4") {
		t.Fatal("limit 1 not enforced")
	}

	// Raising the limit applies to the very next check, same window.
	limit := 10
	rl.store.Update(config.Patch{Server: &config.ServerPatch{RateLimitPerMinute: &limit}})
	if !rl.check(ctx, "1.2.3.4") {
		t.Error("raised limit not honoured without a window reset")
	}
}

func TestRateLimiter_EagerPruneAtCap(t *testing.T) {
	rl := newTestLimiter(t, 5)
	ctx := context.Background()

	now := time.Now()
	rl.now = func() time.Time { return now }

	// Fill the map to the cap.
	for i := 0; i < maxBuckets; i++ {
		rl.check(ctx, fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	if got := rl.live(); got != maxBuckets {
		t.Fatalf("live buckets = %d, want %d", got, maxBuckets)
	}

	// Let every bucket expire, then insert one more client: the insert must
	// prune the expired population instead of growing past the cap.
	now = now.Add(rateWindow + time.Second)
	if !rl.check(ctx, "192.0.2.1") {
		t.Fatal("fresh client rejected")
	}
	if got := rl.live(); got != 1 {
		t.Errorf("live buckets after eager prune = %d, want 1", got)
	}
}

func TestRateLimiter_BackgroundPrune(t *testing.T) {
	rl := newTestLimiter(t, 5)
	ctx := context.Background()

	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.check(ctx, "1.2.3.4")
	now = now.Add(rateWindow + time.Second)

	rl.mu.Lock()
	rl.pruneLocked(rl.now())
	rl.mu.Unlock()

	if got := rl.live(); got != 0 {
		t.Errorf("live buckets after prune = %d, want 0", got)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		header     string
		headerVal  string
		trusted    string
		want       string
	}{
		{"socket peer", "203.0.113.7:51000", "", "", "", "203.0.113.7"},
		{"proxy header ignored when untrusted", "203.0.113.7:51000", "X-Forwarded-For", "198.51.100.9", "", "203.0.113.7"},
		{"trusted proxy header", "203.0.113.7:51000", "X-Forwarded-For", "198.51.100.9", "X-Forwarded-For", "198.51.100.9"},
		{"first hop of chain", "203.0.113.7:51000", "X-Forwarded-For", "198.51.100.9, 10.0.0.1", "X-Forwarded-For", "198.51.100.9"},
		{"trusted header absent falls back", "203.0.113.7:51000", "", "", "X-Forwarded-For", "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/voice/turn", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.header != "" {
				req.Header.Set(tt.header, tt.headerVal)
			}
			if got := clientIP(req, tt.trusted); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
