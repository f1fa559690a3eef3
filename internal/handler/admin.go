package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/rowanvale/mise/internal/audit"
	"github.com/rowanvale/mise/internal/auth"
	"github.com/rowanvale/mise/internal/middleware"
	"github.com/rowanvale/mise/internal/model"
	"github.com/rowanvale/mise/internal/ratelimit"
	"github.com/rowanvale/mise/internal/reconcile"
	"github.com/rowanvale/mise/internal/store"
)

type AdminHandler struct {
	verifier      *auth.Verifier
	adminSessions *store.AdminSessionStore
	userSessions  *store.UserSessionStore
	userStore     *store.UserStore
	limiter       *ratelimit.AdminLimiter
	job           *reconcile.Job
	recorder      *audit.Recorder
	logger        *slog.Logger
}

func NewAdminHandler(
	verifier *auth.Verifier,
	adminSessions *store.AdminSessionStore,
	userSessions *store.UserSessionStore,
	userStore *store.UserStore,
	limiter *ratelimit.AdminLimiter,
	job *reconcile.Job,
	recorder *audit.Recorder,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		verifier:      verifier,
		adminSessions: adminSessions,
		userSessions:  userSessions,
		userStore:     userStore,
		limiter:       limiter,
		job:           job,
		recorder:      recorder,
		logger:        logger,
	}
}

// Login authenticates an administrator into the admin session namespace.
// Non-admin accounts get the same response as bad credentials, so the
// endpoint does not confirm which accounts hold admin rights.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Email = strings.TrimSpace(req.Email)

	user, err := h.verifier.Verify(req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrValidation):
			writeError(w, http.StatusBadRequest, "email and password are required")
		case errors.Is(err, model.ErrInvalidCredentials), errors.Is(err, model.ErrAccountDisabled):
			writeError(w, http.StatusUnauthorized, "invalid email or password")
		default:
			h.logger.Error("admin verify credentials", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if !user.IsAdmin {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	sess, err := h.adminSessions.Create(user.ID)
	if err != nil {
		h.logger.Error("create admin session", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AdminSessionCookie,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   12 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil,
	})

	h.recorder.Record(user.ID, audit.ActionAdminLogin, "")
	writeJSON(w, http.StatusOK, map[string]any{"user_id": user.ID})
}

func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.AdminSessionCookie); err == nil && cookie.Value != "" {
		if err := h.adminSessions.Destroy(cookie.Value); err != nil {
			h.logger.Error("destroy admin session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AdminSessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Reconcile triggers a manual reconciliation pass. Each admin gets a
// fixed budget of runs per window; a run that starts consumes one whether
// or not it repairs anything.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.AdminFromContext(r.Context())

	status, err := h.limiter.Check(ac.UserID, ratelimit.ActionReconcile)
	if err != nil {
		if errors.Is(err, model.ErrRateLimited) {
			writeJSON(w, http.StatusTooManyRequests, status)
			return
		}
		h.logger.Error("reconcile rate check", "user_id", ac.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	result, err := h.job.Run()
	if err != nil {
		h.logger.Error("manual reconcile", "user_id", ac.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}

	h.recorder.Record(ac.UserID, audit.ActionReconcileManual, result.RunID)
	writeJSON(w, http.StatusOK, result)
}

// ReconcileStatus reports the caller's remaining reconcile budget without
// consuming any of it.
func (h *AdminHandler) ReconcileStatus(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.AdminFromContext(r.Context())

	status, err := h.limiter.Status(ac.UserID, ratelimit.ActionReconcile)
	if err != nil {
		h.logger.Error("reconcile status", "user_id", ac.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// DeactivateUser disables an account and revokes its sessions in both
// namespaces. The user row and memberships are kept for history.
func (h *AdminHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.AdminFromContext(r.Context())

	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if userID == ac.UserID {
		writeError(w, http.StatusBadRequest, "cannot deactivate your own account")
		return
	}

	user, err := h.userStore.GetByID(userID)
	if err != nil {
		h.logger.Error("deactivate lookup", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.userStore.SetActive(userID, false); err != nil {
		h.logger.Error("deactivate user", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.userSessions.DeleteByUserID(userID); err != nil {
		h.logger.Error("revoke user sessions", "user_id", userID, "error", err)
	}
	if err := h.adminSessions.DeleteByUserID(userID); err != nil {
		h.logger.Error("revoke admin sessions", "user_id", userID, "error", err)
	}

	h.recorder.Record(ac.UserID, audit.ActionUserDeactivate, fmt.Sprintf("user %d", userID))
	w.WriteHeader(http.StatusNoContent)
}
