package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newLimiter(t *testing.T) (*TokenBucketLimiter, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lim := NewTokenBucketLimiter(rdb)
	lim.now = func() time.Time { return clock }
	return lim, mr, &clock
}

func TestAllowDisabledTouchesNothing(t *testing.T) {
	lim, mr, _ := newLimiter(t)

	dec, err := lim.Allow(context.Background(), "test_inference", "10.0.0.1", Bucket{})
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !dec.Allowed {
		t.Fatal("expected allowed when bucket disabled")
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("disabled limiter wrote keys: %v", keys)
	}
}

func TestAllowBlocksAfterBurstAndRefills(t *testing.T) {
	lim, _, clock := newLimiter(t)
	ctx := context.Background()
	bucket := Bucket{RequestsPerMinute: 60, BurstSize: 2}

	for i := 0; i < 2; i++ {
		dec, err := lim.Allow(ctx, "test_inference", "10.0.0.1", bucket)
		if err != nil || !dec.Allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i, dec.Allowed, err)
		}
	}

	dec, err := lim.Allow(ctx, "test_inference", "10.0.0.1", bucket)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expected third request to be limited")
	}
	if dec.RetryAfter != time.Second {
		t.Fatalf("RetryAfter = %v, want 1s", dec.RetryAfter)
	}

	other, err := lim.Allow(ctx, "test_inference", "10.0.0.2", bucket)
	if err != nil || !other.Allowed {
		t.Fatalf("other subject should have its own bucket: %+v %v", other, err)
	}

	*clock = clock.Add(1500 * time.Millisecond)
	dec, err = lim.Allow(ctx, "test_inference", "10.0.0.1", bucket)
	if err != nil || !dec.Allowed {
		t.Fatalf("expected refill after 1.5s: %+v %v", dec, err)
	}
}

func TestAllowZeroBurstMeansOne(t *testing.T) {
	lim, _, _ := newLimiter(t)
	bucket := Bucket{RequestsPerMinute: 1}

	first, _ := lim.Allow(context.Background(), "s", "ip", bucket)
	second, _ := lim.Allow(context.Background(), "s", "ip", bucket)
	if !first.Allowed || second.Allowed {
		t.Fatalf("first=%v second=%v", first.Allowed, second.Allowed)
	}
	if second.RetryAfter < 59*time.Second || second.RetryAfter > 61*time.Second {
		t.Fatalf("RetryAfter = %v, want about 60s", second.RetryAfter)
	}
}

func TestAllowRedisDown(t *testing.T) {
	lim, mr, _ := newLimiter(t)
	mr.Close()

	if _, err := lim.Allow(context.Background(), "s", "ip", Bucket{RequestsPerMinute: 60, BurstSize: 1}); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}

func TestComputeTTLMS(t *testing.T) {
	tests := []struct {
		rate, capacity float64
		want           time.Duration
	}{
		{0, 1, 2 * time.Minute},
		{10, 1, 30 * time.Second},
		{1.0 / 60.0, 100, time.Hour},
		{1, 20, 45 * time.Second},
	}
	for _, tt := range tests {
		if got := computeTTLMS(tt.rate, tt.capacity); got != tt.want.Milliseconds() {
			t.Errorf("computeTTLMS(%v, %v) = %d, want %d", tt.rate, tt.capacity, got, tt.want.Milliseconds())
		}
	}
}
