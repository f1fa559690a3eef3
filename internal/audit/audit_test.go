package audit

import (
	"log/slog"
	"testing"

	"github.com/rowanvale/mise/internal/database"
	"github.com/rowanvale/mise/internal/store"
)

func TestRecorderWritesEvents(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	events := store.NewAuditStore(db)
	rec := NewRecorder(events, slog.Default())

	rec.Record(1, ActionLogin, "")
	rec.Record(1, ActionCompanySwitch, "company 3")
	rec.Record(2, ActionLogin, "")

	got, err := events.ListRecentByUser(1, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events for user 1 = %d, want 2", len(got))
	}
	for _, e := range got {
		if e.UserID != 1 {
			t.Errorf("event %s belongs to user %d, want 1", e.ID, e.UserID)
		}
		if e.ID == "" {
			t.Error("event should carry a generated id")
		}
	}

	limited, err := events.ListRecentByUser(1, 1)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited list = %d events, want 1", len(limited))
	}
}
