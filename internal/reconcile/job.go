package reconcile

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/rowanvale/mise/internal/model"
	"github.com/rowanvale/mise/internal/permission"
	"github.com/rowanvale/mise/internal/store"
)

// Result summarizes one reconciliation pass.
type Result struct {
	RunID    string `json:"run_id"`
	Scanned  int    `json:"scanned"`
	Repaired int    `json:"repaired"`
	Skipped  int    `json:"skipped"`
	Errors   int    `json:"errors"`
}

// Job scans companies and memberships for structural drift and applies
// minimal corrective writes. Every repair is conditioned on the drift
// still being present at write time, so a pass is idempotent and safe to
// run alongside live traffic or a concurrent pass.
type Job struct {
	companies *store.CompanyStore
	logger    *slog.Logger
}

func NewJob(companies *store.CompanyStore, logger *slog.Logger) *Job {
	return &Job{companies: companies, logger: logger}
}

// Run performs one full scan-and-repair pass.
func (j *Job) Run() (Result, error) {
	result := Result{RunID: uuid.NewString()}
	log := j.logger.With("run_id", result.RunID)

	companies, err := j.companies.List()
	if err != nil {
		return result, err
	}

	for _, company := range companies {
		result.Scanned++
		j.reconcileCompany(company, &result, log)
	}

	orphans, err := j.companies.ListOrphanedMemberships()
	if err != nil {
		return result, err
	}
	for _, m := range orphans {
		result.Scanned++
		changed, err := j.companies.DeactivateMembershipIf(m.ID)
		if err != nil {
			log.Error("deactivate orphaned membership", "membership_id", m.ID, "error", err)
			result.Errors++
			continue
		}
		if changed {
			log.Info("deactivated orphaned membership", "membership_id", m.ID, "company_id", m.CompanyID)
			result.Repaired++
		} else {
			result.Skipped++
		}
	}

	log.Info("reconciliation complete",
		"scanned", result.Scanned,
		"repaired", result.Repaired,
		"skipped", result.Skipped,
		"errors", result.Errors,
	)
	return result, nil
}

func (j *Job) reconcileCompany(company model.Company, result *Result, log *slog.Logger) {
	members, err := j.companies.ListMembers(company.ID)
	if err != nil {
		log.Error("list members", "company_id", company.ID, "error", err)
		result.Errors++
		return
	}

	var activeOwners []model.Membership
	for _, m := range members {
		if m.IsActive && m.Role == permission.RoleOwner {
			activeOwners = append(activeOwners, m)
		}
	}

	if company.OwnerID == nil {
		// Missing owner: recoverable only when exactly one active OWNER
		// membership identifies them.
		switch len(activeOwners) {
		case 1:
			changed, err := j.companies.SetOwnerIf(company.ID, nil, activeOwners[0].UserID)
			if err != nil {
				log.Error("set company owner", "company_id", company.ID, "error", err)
				result.Errors++
				return
			}
			if changed {
				log.Info("restored company owner", "company_id", company.ID, "user_id", activeOwners[0].UserID)
				result.Repaired++
			} else {
				result.Skipped++
			}
		case 0:
			log.Warn("company has no owner and no owner membership", "company_id", company.ID)
			result.Skipped++
		default:
			log.Warn("company has multiple owner memberships", "company_id", company.ID, "count", len(activeOwners))
			result.Skipped++
		}
		return
	}

	// Owner on record: they must hold an active OWNER membership.
	member, err := j.companies.GetMember(company.ID, *company.OwnerID)
	if err != nil {
		log.Error("get owner membership", "company_id", company.ID, "error", err)
		result.Errors++
		return
	}

	if member == nil {
		if _, err := j.companies.AddMember(company.ID, *company.OwnerID, permission.RoleOwner); err != nil {
			// A concurrent insert for the same pair loses the unique
			// race; the drift is gone either way.
			log.Warn("add owner membership", "company_id", company.ID, "user_id", *company.OwnerID, "error", err)
			result.Skipped++
			return
		}
		log.Info("created owner membership", "company_id", company.ID, "user_id", *company.OwnerID)
		result.Repaired++
		return
	}

	if member.Role == permission.RoleOwner && member.IsActive {
		return
	}

	changed, err := j.companies.RepairOwnerMembershipIf(company.ID, *company.OwnerID, permission.RoleOwner)
	if err != nil {
		log.Error("repair owner membership", "company_id", company.ID, "error", err)
		result.Errors++
		return
	}
	if changed {
		log.Info("repaired owner membership", "company_id", company.ID, "user_id", *company.OwnerID)
		result.Repaired++
	} else {
		result.Skipped++
	}
}
