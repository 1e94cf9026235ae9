package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// MemoryLimiter is an in-process fixed-window limiter suitable for single
// instance deployments and tests.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]windowEntry
}

type windowEntry struct {
	count int
	reset time.Time
}

// NewMemoryLimiter constructs a MemoryLimiter enforcing limit requests per window.
func NewMemoryLimiter(limit int, window time.Duration, clock func() time.Time) (*MemoryLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("ratelimit: limit and window must be positive")
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]windowEntry),
	}, nil
}

// Allow counts the request against the key's current window.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || !now.Before(entry.reset) {
		l.store[key] = windowEntry{count: 1, reset: now.Add(l.window)}
		l.pruneExpiredLocked(now)
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit - 1}, nil
	}

	if entry.count >= l.limit {
		return Decision{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			RetryAfter: entry.reset.Sub(now),
		}, nil
	}

	entry.count++
	l.store[key] = entry
	return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit - entry.count}, nil
}

func (l *MemoryLimiter) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if !now.Before(entry.reset) {
			delete(l.store, key)
		}
	}
}

var _ Limiter = (*MemoryLimiter)(nil)
