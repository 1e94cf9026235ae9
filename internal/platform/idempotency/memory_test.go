package idempotency

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreCleanupExpiredRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

	if _, err := store.Reserve(ctx, "stale|user-1", "fp-1", now.Add(-2*time.Hour), time.Hour); err != nil {
		t.Fatalf("failed to seed stale record: %v", err)
	}
	if _, err := store.Reserve(ctx, "fresh|user-1", "fp-2", now, time.Hour); err != nil {
		t.Fatalf("failed to seed fresh record: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("cleanup returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 expired record removed, got %d", removed)
	}

	reservation, err := store.Reserve(ctx, "fresh|user-1", "fp-2", now, time.Hour)
	if err != nil {
		t.Fatalf("reserve after cleanup returned error: %v", err)
	}
	if reservation.State != ReservationStatePending {
		t.Fatalf("expected fresh record to survive cleanup, got state %d", reservation.State)
	}
}

func TestMemoryStoreExpiredReservationIsReissued(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	start := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

	if _, err := store.Reserve(ctx, "key|user-1", "fp-1", start, time.Minute); err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}

	later := start.Add(2 * time.Minute)
	reservation, err := store.Reserve(ctx, "key|user-1", "fp-1", later, time.Minute)
	if err != nil {
		t.Fatalf("reserve after expiry returned error: %v", err)
	}
	if reservation.State != ReservationStateNew {
		t.Fatalf("expected expired key to be reissued as new, got state %d", reservation.State)
	}
}
