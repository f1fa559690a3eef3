package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rowanvale/mise/internal/database"
)

func setupRateLimitTestDB(t *testing.T) (*sql.DB, *RateLimitStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, NewRateLimitStore(db)
}

func TestRateLimitTakeWithinBudget(t *testing.T) {
	_, rs := setupRateLimitTestDB(t)

	for i := 1; i <= 5; i++ {
		entry, allowed, err := rs.Take(1, "reconcile", 5, time.Hour)
		if err != nil {
			t.Fatalf("take %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("take %d denied, want allowed", i)
		}
		if entry.Count != i {
			t.Errorf("take %d count = %d, want %d", i, entry.Count, i)
		}
	}
}

func TestRateLimitTakeOverBudgetLocks(t *testing.T) {
	_, rs := setupRateLimitTestDB(t)

	for i := 0; i < 5; i++ {
		rs.Take(1, "reconcile", 5, time.Hour)
	}

	entry, allowed, err := rs.Take(1, "reconcile", 5, time.Hour)
	if err != nil {
		t.Fatalf("take over budget: %v", err)
	}
	if allowed {
		t.Fatal("expected sixth take to be denied")
	}
	if entry.LockedUntil == nil {
		t.Fatal("expected lock to be set")
	}
	if !entry.LockedUntil.Equal(entry.WindowEndsAt) {
		t.Errorf("lock = %v, want window end %v", entry.LockedUntil, entry.WindowEndsAt)
	}

	// Still denied while the lock holds.
	_, allowed, _ = rs.Take(1, "reconcile", 5, time.Hour)
	if allowed {
		t.Error("expected take during lock to be denied")
	}
}

func TestRateLimitWindowResetStartsAtOne(t *testing.T) {
	db, rs := setupRateLimitTestDB(t)

	for i := 0; i < 6; i++ {
		rs.Take(1, "reconcile", 5, time.Hour)
	}

	// Move the window and lock into the past.
	if _, err := db.Exec(
		`UPDATE rate_limits SET window_ends_at = datetime('now', '-1 minute'), locked_until = datetime('now', '-1 minute')
		 WHERE user_id = 1 AND action = 'reconcile'`,
	); err != nil {
		t.Fatalf("age window: %v", err)
	}

	entry, allowed, err := rs.Take(1, "reconcile", 5, time.Hour)
	if err != nil {
		t.Fatalf("take after window: %v", err)
	}
	if !allowed {
		t.Fatal("expected fresh window to allow")
	}
	if entry.Count != 1 {
		t.Errorf("count = %d, want 1", entry.Count)
	}
	if entry.LockedUntil != nil {
		t.Error("expected lock cleared on fresh window")
	}
}

func TestRateLimitActionsAreIndependent(t *testing.T) {
	_, rs := setupRateLimitTestDB(t)

	for i := 0; i < 6; i++ {
		rs.Take(1, "reconcile", 5, time.Hour)
	}

	_, allowed, err := rs.Take(1, "export", 5, time.Hour)
	if err != nil {
		t.Fatalf("take other action: %v", err)
	}
	if !allowed {
		t.Error("lock on one action must not affect another")
	}

	_, allowed, _ = rs.Take(2, "reconcile", 5, time.Hour)
	if !allowed {
		t.Error("lock on one user must not affect another")
	}
}

func TestRateLimitGetDoesNotConsume(t *testing.T) {
	_, rs := setupRateLimitTestDB(t)

	rs.Take(1, "reconcile", 5, time.Hour)

	for i := 0; i < 3; i++ {
		entry, err := rs.Get(1, "reconcile")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if entry.Count != 1 {
			t.Errorf("count = %d after reads, want 1", entry.Count)
		}
	}
}
