package permission

// Membership roles. Owner is the company principal on record; admin runs
// day-to-day operations; staff work the floor.
const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// Capabilities gated by the table below.
const (
	CapRecipesRead      = "recipes:read"
	CapRecipesWrite     = "recipes:write"
	CapIngredientsRead  = "ingredients:read"
	CapIngredientsWrite = "ingredients:write"
	CapProductionRead   = "production:read"
	CapProductionWrite  = "production:write"
	CapStaffRead        = "staff:read"
	CapStaffManage      = "staff:manage"
	CapCompanyManage    = "company:manage"
	CapBillingView      = "billing:view"
)

// roleCapabilities is the single source of truth for role gating. Flows
// that must not move when this table is edited check the role directly
// via HasRole instead; see that function's comment before unifying the
// two paths.
var roleCapabilities = map[string]map[string]bool{
	RoleOwner: {
		CapRecipesRead:      true,
		CapRecipesWrite:     true,
		CapIngredientsRead:  true,
		CapIngredientsWrite: true,
		CapProductionRead:   true,
		CapProductionWrite:  true,
		CapStaffRead:        true,
		CapStaffManage:      true,
		CapCompanyManage:    true,
		CapBillingView:      true,
	},
	RoleAdmin: {
		CapRecipesRead:      true,
		CapRecipesWrite:     true,
		CapIngredientsRead:  true,
		CapIngredientsWrite: true,
		CapProductionRead:   true,
		CapProductionWrite:  true,
		CapStaffRead:        true,
		CapStaffManage:      true,
		CapBillingView:      true,
	},
	RoleStaff: {
		CapRecipesRead:     true,
		CapIngredientsRead: true,
		CapProductionRead:  true,
		CapProductionWrite: true,
		CapStaffRead:       true,
	},
}

// HasPermission reports whether the role grants the capability.
func HasPermission(role, capability string) bool {
	return roleCapabilities[role][capability]
}

// HasAny reports whether the role grants at least one of the capabilities.
func HasAny(role string, capabilities ...string) bool {
	for _, c := range capabilities {
		if HasPermission(role, c) {
			return true
		}
	}
	return false
}

// HasAll reports whether the role grants every capability.
func HasAll(role string, capabilities ...string) bool {
	for _, c := range capabilities {
		if !HasPermission(role, c) {
			return false
		}
	}
	return true
}

// HasRole is the deliberate escape hatch around the capability table:
// billing and integration flows require an exact role on the resolved
// membership so that future table edits cannot widen access to them.
// Keep direct role checks funnelled through here rather than comparing
// strings at call sites.
func HasRole(role string, required ...string) bool {
	for _, r := range required {
		if role == r {
			return true
		}
	}
	return false
}
