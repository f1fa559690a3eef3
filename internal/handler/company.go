package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rowanvale/mise/internal/audit"
	"github.com/rowanvale/mise/internal/auth"
	"github.com/rowanvale/mise/internal/billing"
	"github.com/rowanvale/mise/internal/model"
	"github.com/rowanvale/mise/internal/store"
	"github.com/rowanvale/mise/internal/tenant"
)

type CompanyHandler struct {
	companies    *store.CompanyStore
	userSessions *store.UserSessionStore
	resolver     *tenant.Resolver
	entitlements *billing.Client
	recorder     *audit.Recorder
	logger       *slog.Logger
}

func NewCompanyHandler(
	companies *store.CompanyStore,
	userSessions *store.UserSessionStore,
	resolver *tenant.Resolver,
	entitlements *billing.Client,
	recorder *audit.Recorder,
	logger *slog.Logger,
) *CompanyHandler {
	return &CompanyHandler{
		companies:    companies,
		userSessions: userSessions,
		resolver:     resolver,
		entitlements: entitlements,
		recorder:     recorder,
		logger:       logger,
	}
}

type companyEntry struct {
	Company model.Company `json:"company"`
	Role    string        `json:"role"`
	Current bool          `json:"current"`
}

// List returns every company the caller holds an active membership in,
// flagging the one their session is acting under.
func (h *CompanyHandler) List(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.UserFromContext(r.Context())

	memberships, err := h.companies.ListActiveMembershipsForUser(ac.UserID)
	if err != nil {
		h.logger.Error("list memberships", "user_id", ac.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	entries := []companyEntry{}
	for _, m := range memberships {
		company, err := h.companies.GetByID(m.CompanyID)
		if err != nil {
			h.logger.Error("get company", "company_id", m.CompanyID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if company == nil {
			// Orphaned membership awaiting reconciliation.
			continue
		}
		entries = append(entries, companyEntry{
			Company: *company,
			Role:    m.Role,
			Current: m.CompanyID == ac.CompanyID,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

type switchRequest struct {
	CompanyID int64 `json:"company_id"`
}

// Switch moves the caller's session to another company they are an active
// member of. The role in the response is the one their membership grants
// there, which may differ from the role they just held.
func (h *CompanyHandler) Switch(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.UserFromContext(r.Context())

	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.CompanyID == 0 {
		writeError(w, http.StatusBadRequest, "company_id is required")
		return
	}

	res, err := h.resolver.ResolveMembership(ac.UserID, req.CompanyID)
	if err != nil {
		if errors.Is(err, model.ErrNoActiveCompany) {
			writeError(w, http.StatusForbidden, "not an active member of this company")
			return
		}
		h.logger.Error("resolve membership", "user_id", ac.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	changed, err := h.userSessions.SwitchCompanyIf(ac.SessionID, res.CompanyID)
	if err != nil {
		h.logger.Error("switch session company", "session_id", ac.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !changed {
		// Session vanished between middleware and here (logout race).
		writeError(w, http.StatusUnauthorized, "session no longer valid")
		return
	}

	h.recorder.Record(ac.UserID, audit.ActionCompanySwitch, fmt.Sprintf("company %d", res.CompanyID))
	writeJSON(w, http.StatusOK, map[string]any{
		"company_id": res.CompanyID,
		"role":       res.Role,
	})
}

// Entitlement reports the acting company's subscription state. Routing
// restricts this to owners and admins by exact role, independent of the
// capability table.
func (h *CompanyHandler) Entitlement(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.UserFromContext(r.Context())

	company, err := h.companies.GetByID(ac.CompanyID)
	if err != nil || company == nil {
		h.logger.Error("entitlement company lookup", "company_id", ac.CompanyID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	ent, err := h.entitlements.Lookup(r.Context(), company.BillingCustomerID)
	if err != nil {
		h.logger.Error("entitlement lookup", "company_id", ac.CompanyID, "error", err)
		writeError(w, http.StatusBadGateway, "billing lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, ent)
}
