package ratelimit

import (
	"context"
	"time"
)

// Decision reports the outcome of a rate limit check together with the
// headers clients need to back off correctly.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter applies a fixed-window rate limit per key. Implementations must
// count the request atomically: requests 1..limit within a window are
// allowed, all further requests are denied until the window resets.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
