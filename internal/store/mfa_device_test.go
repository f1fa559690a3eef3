package store

import (
	"errors"
	"testing"

	"github.com/rowanvale/mise/internal/database"
	"github.com/rowanvale/mise/internal/model"
)

func setupMFADeviceTestDB(t *testing.T) (*MFADeviceStore, *UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMFADeviceStore(db), NewUserStore(db)
}

func TestMFADeviceCreateUnverified(t *testing.T) {
	ds, us := setupMFADeviceTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "")
	d, err := ds.Create(u.ID, model.MFAKindTOTP, "JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("create device: %v", err)
	}
	if d.Verified {
		t.Error("new device must start unverified")
	}
	if d.IsPrimary {
		t.Error("new device must not be primary")
	}
}

func TestMarkVerifiedIf(t *testing.T) {
	ds, us := setupMFADeviceTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "")
	d, _ := ds.Create(u.ID, model.MFAKindTOTP, "JBSWY3DPEHPK3PXP")

	changed, err := ds.MarkVerifiedIf(d.ID)
	if err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	if !changed {
		t.Fatal("expected first verification to apply")
	}

	changed, err = ds.MarkVerifiedIf(d.ID)
	if err != nil {
		t.Fatalf("second mark verified: %v", err)
	}
	if changed {
		t.Error("expected repeat verification to change nothing")
	}
}

func TestSetPrimaryDemotesPrevious(t *testing.T) {
	ds, us := setupMFADeviceTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "")
	totpDev, _ := ds.Create(u.ID, model.MFAKindTOTP, "JBSWY3DPEHPK3PXP")
	emailDev, _ := ds.Create(u.ID, model.MFAKindEmail, "")
	ds.MarkVerifiedIf(totpDev.ID)
	ds.MarkVerifiedIf(emailDev.ID)

	if err := ds.SetPrimary(u.ID, totpDev.ID); err != nil {
		t.Fatalf("set primary: %v", err)
	}
	if err := ds.SetPrimary(u.ID, emailDev.ID); err != nil {
		t.Fatalf("set second primary: %v", err)
	}

	devices, _ := ds.ListByUser(u.ID)
	primaries := 0
	for _, d := range devices {
		if d.IsPrimary {
			primaries++
			if d.ID != emailDev.ID {
				t.Errorf("primary = device %d, want %d", d.ID, emailDev.ID)
			}
		}
	}
	if primaries != 1 {
		t.Errorf("primary count = %d, want 1", primaries)
	}
}

func TestSetPrimaryRequiresVerified(t *testing.T) {
	ds, us := setupMFADeviceTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "")
	d, _ := ds.Create(u.ID, model.MFAKindTOTP, "JBSWY3DPEHPK3PXP")

	err := ds.SetPrimary(u.ID, d.ID)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("set primary on unverified device = %v, want ErrNotFound", err)
	}
}

func TestSetPrimaryWrongUser(t *testing.T) {
	ds, us := setupMFADeviceTestDB(t)

	alice, _ := us.Create("alice@example.com", "Alice", "")
	bob, _ := us.Create("bob@example.com", "Bob", "")
	d, _ := ds.Create(alice.ID, model.MFAKindTOTP, "JBSWY3DPEHPK3PXP")
	ds.MarkVerifiedIf(d.ID)

	err := ds.SetPrimary(bob.ID, d.ID)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("set primary on another user's device = %v, want ErrNotFound", err)
	}
}

func TestHasVerified(t *testing.T) {
	ds, us := setupMFADeviceTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "")

	has, err := ds.HasVerified(u.ID)
	if err != nil {
		t.Fatalf("has verified: %v", err)
	}
	if has {
		t.Error("user with no devices should not require a second factor")
	}

	d, _ := ds.Create(u.ID, model.MFAKindTOTP, "JBSWY3DPEHPK3PXP")
	has, _ = ds.HasVerified(u.ID)
	if has {
		t.Error("unverified device should not require a second factor")
	}

	ds.MarkVerifiedIf(d.ID)
	has, _ = ds.HasVerified(u.ID)
	if !has {
		t.Error("verified device should require a second factor")
	}
}

func TestGetPrimary(t *testing.T) {
	ds, us := setupMFADeviceTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "")

	p, err := ds.GetPrimary(u.ID)
	if err != nil {
		t.Fatalf("get primary: %v", err)
	}
	if p != nil {
		t.Error("expected nil primary for user with no devices")
	}

	d, _ := ds.Create(u.ID, model.MFAKindEmail, "")
	ds.MarkVerifiedIf(d.ID)
	ds.SetPrimary(u.ID, d.ID)

	p, _ = ds.GetPrimary(u.ID)
	if p == nil || p.ID != d.ID {
		t.Errorf("primary = %+v, want device %d", p, d.ID)
	}
}
