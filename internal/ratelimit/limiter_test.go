package ratelimit

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/rowanvale/mise/internal/database"
	"github.com/rowanvale/mise/internal/model"
	"github.com/rowanvale/mise/internal/store"
)

func setupLimiterTest(t *testing.T) (*sql.DB, *AdminLimiter) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, NewAdminLimiter(store.NewRateLimitStore(db))
}

func TestCheckConsumesBudget(t *testing.T) {
	_, l := setupLimiterTest(t)

	for i := 1; i <= 5; i++ {
		status, err := l.Check(1, ActionReconcile)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !status.Allowed {
			t.Fatalf("check %d denied, want allowed", i)
		}
		if status.Remaining != 5-i {
			t.Errorf("check %d remaining = %d, want %d", i, status.Remaining, 5-i)
		}
	}

	status, err := l.Check(1, ActionReconcile)
	if !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("sixth check = %v, want ErrRateLimited", err)
	}
	if status.Allowed {
		t.Error("denied status must not report allowed")
	}
	if status.LockedUntil == nil {
		t.Error("denied status should carry the lock expiry")
	}
}

func TestStatusDoesNotConsume(t *testing.T) {
	_, l := setupLimiterTest(t)

	if _, err := l.Check(1, ActionReconcile); err != nil {
		t.Fatalf("check: %v", err)
	}

	for i := 0; i < 3; i++ {
		status, err := l.Status(1, ActionReconcile)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if !status.Allowed || status.Remaining != 4 {
			t.Errorf("status = %+v after reads, want allowed with 4 remaining", status)
		}
	}
}

func TestStatusFreshUser(t *testing.T) {
	_, l := setupLimiterTest(t)

	status, err := l.Status(42, ActionReconcile)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Allowed || status.Remaining != 5 {
		t.Errorf("status = %+v, want full budget", status)
	}
}

func TestCheckAfterWindowElapsed(t *testing.T) {
	db, l := setupLimiterTest(t)

	for i := 0; i < 6; i++ {
		l.Check(1, ActionReconcile)
	}

	db.Exec(
		`UPDATE rate_limits SET window_ends_at = datetime('now', '-1 minute'), locked_until = datetime('now', '-1 minute')
		 WHERE user_id = 1`,
	)

	status, err := l.Check(1, ActionReconcile)
	if err != nil {
		t.Fatalf("check after window: %v", err)
	}
	if !status.Allowed || status.Remaining != 4 {
		t.Errorf("status = %+v, want fresh window with 4 remaining", status)
	}
}
