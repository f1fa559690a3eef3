package reconcile

import (
	"database/sql"
	"log/slog"
	"testing"

	"github.com/rowanvale/mise/internal/database"
	"github.com/rowanvale/mise/internal/permission"
	"github.com/rowanvale/mise/internal/store"
)

func setupJobTest(t *testing.T) (*sql.DB, *Job, *store.CompanyStore, *store.UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cs := store.NewCompanyStore(db)
	return db, NewJob(cs, slog.Default()), cs, store.NewUserStore(db)
}

func TestRestoreMissingOwners(t *testing.T) {
	_, job, cs, us := setupJobTest(t)

	// Five companies with a NULL owner but exactly one active owner
	// membership each.
	for i := 0; i < 5; i++ {
		u, _ := us.Create(string(rune('a'+i))+"@example.com", "Owner", "")
		c, _ := cs.Create("Kitchen")
		cs.AddMember(c.ID, u.ID, permission.RoleOwner)
	}

	result, err := job.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Repaired != 5 {
		t.Errorf("repaired = %d, want 5", result.Repaired)
	}
	if result.Errors != 0 {
		t.Errorf("errors = %d, want 0", result.Errors)
	}

	companies, _ := cs.List()
	for _, c := range companies {
		if c.OwnerID == nil {
			t.Errorf("company %d still has no owner", c.ID)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	_, job, cs, us := setupJobTest(t)

	u, _ := us.Create("owner@example.com", "Owner", "")
	c, _ := cs.Create("Kitchen")
	cs.AddMember(c.ID, u.ID, permission.RoleOwner)

	first, err := job.Run()
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Repaired != 1 {
		t.Fatalf("first run repaired = %d, want 1", first.Repaired)
	}

	second, err := job.Run()
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Repaired != 0 {
		t.Errorf("second run repaired = %d, want 0", second.Repaired)
	}
	if second.Errors != 0 {
		t.Errorf("second run errors = %d, want 0", second.Errors)
	}
	if first.RunID == second.RunID {
		t.Error("each run should carry a distinct id")
	}
}

func TestAmbiguousOwnerIsSkipped(t *testing.T) {
	_, job, cs, us := setupJobTest(t)

	u1, _ := us.Create("a@example.com", "A", "")
	u2, _ := us.Create("b@example.com", "B", "")
	c, _ := cs.Create("Kitchen")
	cs.AddMember(c.ID, u1.ID, permission.RoleOwner)
	cs.AddMember(c.ID, u2.ID, permission.RoleOwner)

	result, err := job.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Repaired != 0 {
		t.Errorf("repaired = %d, want 0 for ambiguous ownership", result.Repaired)
	}
	if result.Skipped == 0 {
		t.Error("expected the ambiguous company to be counted as skipped")
	}

	got, _ := cs.GetByID(c.ID)
	if got.OwnerID != nil {
		t.Error("ambiguous company must be left untouched")
	}
}

func TestNoOwnerCandidateIsSkipped(t *testing.T) {
	_, job, cs, us := setupJobTest(t)

	u, _ := us.Create("staff@example.com", "Staff", "")
	c, _ := cs.Create("Kitchen")
	cs.AddMember(c.ID, u.ID, permission.RoleStaff)

	result, err := job.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Repaired != 0 {
		t.Errorf("repaired = %d, want 0 with no owner membership", result.Repaired)
	}
	got, _ := cs.GetByID(c.ID)
	if got.OwnerID != nil {
		t.Error("company without an owner candidate must be left untouched")
	}
}

func TestCreateMissingOwnerMembership(t *testing.T) {
	_, job, cs, us := setupJobTest(t)

	u, _ := us.Create("owner@example.com", "Owner", "")
	c, _ := cs.Create("Kitchen")
	if _, err := cs.SetOwnerIf(c.ID, nil, u.ID); err != nil {
		t.Fatalf("set owner: %v", err)
	}

	result, err := job.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Repaired != 1 {
		t.Errorf("repaired = %d, want 1", result.Repaired)
	}

	m, _ := cs.GetMember(c.ID, u.ID)
	if m == nil || m.Role != permission.RoleOwner || !m.IsActive {
		t.Errorf("owner membership = %+v, want active owner", m)
	}
}

func TestRepairDriftedOwnerMembership(t *testing.T) {
	_, job, cs, us := setupJobTest(t)

	u, _ := us.Create("owner@example.com", "Owner", "")
	c, _ := cs.Create("Kitchen")
	cs.SetOwnerIf(c.ID, nil, u.ID)
	cs.AddMember(c.ID, u.ID, permission.RoleStaff)

	result, err := job.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Repaired != 1 {
		t.Errorf("repaired = %d, want 1", result.Repaired)
	}

	m, _ := cs.GetMember(c.ID, u.ID)
	if m.Role != permission.RoleOwner {
		t.Errorf("role = %q, want owner", m.Role)
	}

	// Inactive owner membership is the other drift shape.
	cs.SetMemberActive(c.ID, u.ID, false)
	result, _ = job.Run()
	if result.Repaired != 1 {
		t.Errorf("repaired = %d, want 1 after deactivation", result.Repaired)
	}
	m, _ = cs.GetMember(c.ID, u.ID)
	if !m.IsActive {
		t.Error("owner membership should be reactivated")
	}
}

func TestDeactivateOrphanedMemberships(t *testing.T) {
	_, job, cs, us := setupJobTest(t)

	u, _ := us.Create("alice@example.com", "Alice", "")
	c, _ := cs.Create("Doomed Kitchen")
	cs.AddMember(c.ID, u.ID, permission.RoleStaff)
	if err := cs.Delete(c.ID); err != nil {
		t.Fatalf("delete company: %v", err)
	}

	result, err := job.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Repaired != 1 {
		t.Errorf("repaired = %d, want 1", result.Repaired)
	}

	orphans, _ := cs.ListOrphanedMemberships()
	if len(orphans) != 0 {
		t.Errorf("active orphans = %d, want 0", len(orphans))
	}

	// The row survives deactivated; a second pass finds nothing.
	second, _ := job.Run()
	if second.Repaired != 0 {
		t.Errorf("second run repaired = %d, want 0", second.Repaired)
	}
}
