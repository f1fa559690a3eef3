package store

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/rowanvale/mise/internal/database"
	"github.com/rowanvale/mise/internal/model"
)

func setupEmailCodeTestDB(t *testing.T) (*sql.DB, *EmailCodeStore, *UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, NewEmailCodeStore(db), NewUserStore(db)
}

func TestEmailCodeCreate(t *testing.T) {
	_, es, us := setupEmailCodeTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "")
	ec, err := es.Create(u.ID)
	if err != nil {
		t.Fatalf("create code: %v", err)
	}
	if len(ec.Code) != 6 {
		t.Errorf("code length = %d, want 6", len(ec.Code))
	}
	for _, c := range ec.Code {
		if c < '0' || c > '9' {
			t.Errorf("code %q contains non-digit", ec.Code)
			break
		}
	}
}

func TestEmailCodeResendThrottle(t *testing.T) {
	db, es, us := setupEmailCodeTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "")
	first, _ := es.Create(u.ID)

	if _, err := es.Create(u.ID); !errors.Is(err, model.ErrCodeThrottled) {
		t.Errorf("immediate resend = %v, want ErrCodeThrottled", err)
	}

	// Age the first code past the resend interval.
	db.Exec(`UPDATE email_codes SET created_at = datetime('now', '-2 minutes') WHERE id = ?`, first.ID)

	second, err := es.Create(u.ID)
	if err != nil {
		t.Fatalf("resend after interval: %v", err)
	}

	// The resend invalidated the first code.
	latest, _ := es.GetLatestByUser(u.ID)
	if latest == nil || latest.ID != second.ID {
		t.Errorf("latest = %+v, want code %d", latest, second.ID)
	}
	consumed, _ := es.Consume(first.ID)
	if consumed {
		t.Error("superseded code should not be consumable")
	}
}

func TestEmailCodeConsumeSingleUse(t *testing.T) {
	_, es, us := setupEmailCodeTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "")
	ec, _ := es.Create(u.ID)

	consumed, err := es.Consume(ec.ID)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !consumed {
		t.Fatal("expected first consume to succeed")
	}

	consumed, err = es.Consume(ec.ID)
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if consumed {
		t.Error("expected second consume to fail")
	}
}

func TestEmailCodeConsumeExpired(t *testing.T) {
	db, es, us := setupEmailCodeTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "")
	ec, _ := es.Create(u.ID)

	db.Exec(`UPDATE email_codes SET expires_at = datetime('now', '-1 minute') WHERE id = ?`, ec.ID)

	consumed, err := es.Consume(ec.ID)
	if err != nil {
		t.Fatalf("consume expired: %v", err)
	}
	if consumed {
		t.Error("expired code should not be consumable")
	}
	latest, _ := es.GetLatestByUser(u.ID)
	if latest != nil {
		t.Error("expired code should not appear as latest")
	}
}

func TestEmailCodeIncrementAttempts(t *testing.T) {
	_, es, us := setupEmailCodeTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "")
	ec, _ := es.Create(u.ID)

	for want := 1; want <= 3; want++ {
		got, err := es.IncrementAttempts(ec.ID)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Errorf("attempts = %d, want %d", got, want)
		}
	}
}
