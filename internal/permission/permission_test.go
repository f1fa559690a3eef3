package permission

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role       string
		capability string
		want       bool
	}{
		{RoleOwner, CapCompanyManage, true},
		{RoleOwner, CapBillingView, true},
		{RoleAdmin, CapStaffManage, true},
		{RoleAdmin, CapCompanyManage, false},
		{RoleStaff, CapProductionWrite, true},
		{RoleStaff, CapRecipesWrite, false},
		{RoleStaff, CapStaffManage, false},
		{RoleStaff, CapBillingView, false},
		{"ghost", CapRecipesRead, false},
		{RoleOwner, "unknown:capability", false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.capability); got != tt.want {
			t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.capability, got, tt.want)
		}
	}
}

func TestHasAny(t *testing.T) {
	if !HasAny(RoleStaff, CapStaffManage, CapProductionWrite) {
		t.Error("staff holds production:write, HasAny should be true")
	}
	if HasAny(RoleStaff, CapStaffManage, CapCompanyManage) {
		t.Error("staff holds neither capability, HasAny should be false")
	}
}

func TestHasAll(t *testing.T) {
	if !HasAll(RoleOwner, CapRecipesWrite, CapStaffManage, CapCompanyManage) {
		t.Error("owner holds every capability, HasAll should be true")
	}
	if HasAll(RoleAdmin, CapStaffManage, CapCompanyManage) {
		t.Error("admin lacks company:manage, HasAll should be false")
	}
}

func TestHasRole(t *testing.T) {
	if !HasRole(RoleOwner, RoleOwner, RoleAdmin) {
		t.Error("owner is in the required set")
	}
	if !HasRole(RoleAdmin, RoleOwner, RoleAdmin) {
		t.Error("admin is in the required set")
	}
	if HasRole(RoleStaff, RoleOwner, RoleAdmin) {
		t.Error("staff is not in the required set")
	}
	if HasRole(RoleStaff) {
		t.Error("empty required set matches nothing")
	}
}
