package tenant

import (
	"github.com/rowanvale/mise/internal/model"
	"github.com/rowanvale/mise/internal/store"
)

// Resolution is the company a principal is acting under and the role
// their membership grants there.
type Resolution struct {
	CompanyID int64
	Role      string
}

// Resolver picks the active company for a principal with one or more
// memberships.
type Resolver struct {
	companies *store.CompanyStore
}

func NewResolver(companies *store.CompanyStore) *Resolver {
	return &Resolver{companies: companies}
}

// Resolve returns the principal's acting company: the active membership
// with the earliest creation time, i.e. the first company they joined.
// The choice is deterministic; the same membership set always resolves
// to the same company. Fails with ErrNoActiveCompany when the user holds
// no active membership.
func (r *Resolver) Resolve(userID int64) (Resolution, error) {
	memberships, err := r.companies.ListActiveMembershipsForUser(userID)
	if err != nil {
		return Resolution{}, err
	}
	if len(memberships) == 0 {
		return Resolution{}, model.ErrNoActiveCompany
	}

	// The store orders by created_at then id, so the head is the oldest.
	first := memberships[0]
	return Resolution{CompanyID: first.CompanyID, Role: first.Role}, nil
}

// ResolveMembership verifies that the user holds an active membership in
// a specific company, for flows where the company is chosen explicitly
// (e.g. switching tenants).
func (r *Resolver) ResolveMembership(userID, companyID int64) (Resolution, error) {
	m, err := r.companies.GetMember(companyID, userID)
	if err != nil {
		return Resolution{}, err
	}
	if m == nil || !m.IsActive {
		return Resolution{}, model.ErrNoActiveCompany
	}
	return Resolution{CompanyID: m.CompanyID, Role: m.Role}, nil
}
