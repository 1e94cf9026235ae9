package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterAllowsExactlyFirstN(t *testing.T) {
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	limiter, err := NewMemoryLimiter(5, 60*time.Second, func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewMemoryLimiter: %v", err)
	}
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		decision, err := limiter.Allow(ctx, "user-1")
		if err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d denied, want allowed", i)
		}
		if decision.Remaining != 5-i {
			t.Fatalf("request %d remaining = %d, want %d", i, decision.Remaining, 5-i)
		}
	}

	decision, err := limiter.Allow(ctx, "user-1")
	if err != nil {
		t.Fatalf("Allow #6: %v", err)
	}
	if decision.Allowed {
		t.Fatal("request 6 allowed, want denied")
	}
	if decision.Remaining != 0 {
		t.Fatalf("denied remaining = %d, want 0", decision.Remaining)
	}
	if decision.RetryAfter != 60*time.Second {
		t.Fatalf("retryAfter = %v, want 60s", decision.RetryAfter)
	}
}

func TestMemoryLimiterWindowReset(t *testing.T) {
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	limiter, err := NewMemoryLimiter(2, time.Minute, func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewMemoryLimiter: %v", err)
	}
	ctx := context.Background()

	limiter.Allow(ctx, "user-1")
	limiter.Allow(ctx, "user-1")
	if decision, _ := limiter.Allow(ctx, "user-1"); decision.Allowed {
		t.Fatal("third request allowed inside window")
	}

	now = now.Add(time.Minute)
	decision, err := limiter.Allow(ctx, "user-1")
	if err != nil {
		t.Fatalf("Allow after reset: %v", err)
	}
	if !decision.Allowed || decision.Remaining != 1 {
		t.Fatalf("after reset decision = %+v, want allowed with remaining 1", decision)
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	limiter, err := NewMemoryLimiter(1, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewMemoryLimiter: %v", err)
	}
	ctx := context.Background()

	if decision, _ := limiter.Allow(ctx, "user-a"); !decision.Allowed {
		t.Fatal("user-a first request denied")
	}
	if decision, _ := limiter.Allow(ctx, "user-b"); !decision.Allowed {
		t.Fatal("user-b first request denied after user-a consumed its quota")
	}
	if decision, _ := limiter.Allow(ctx, "user-a"); decision.Allowed {
		t.Fatal("user-a second request allowed, want denied")
	}
}

func TestMemoryLimiterRetryAfterShrinks(t *testing.T) {
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	limiter, err := NewMemoryLimiter(1, time.Minute, func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewMemoryLimiter: %v", err)
	}
	ctx := context.Background()

	limiter.Allow(ctx, "user-1")
	now = now.Add(45 * time.Second)
	decision, _ := limiter.Allow(ctx, "user-1")
	if decision.Allowed {
		t.Fatal("request inside window allowed")
	}
	if decision.RetryAfter != 15*time.Second {
		t.Fatalf("retryAfter = %v, want 15s", decision.RetryAfter)
	}
}
