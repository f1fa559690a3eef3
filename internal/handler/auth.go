package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rowanvale/mise/internal/audit"
	"github.com/rowanvale/mise/internal/auth"
	"github.com/rowanvale/mise/internal/mfa"
	"github.com/rowanvale/mise/internal/middleware"
	"github.com/rowanvale/mise/internal/model"
	"github.com/rowanvale/mise/internal/store"
	"github.com/rowanvale/mise/internal/tenant"
)

type AuthHandler struct {
	verifier     *auth.Verifier
	engine       *mfa.Engine
	resolver     *tenant.Resolver
	userSessions *store.UserSessionStore
	userStore    *store.UserStore
	recorder     *audit.Recorder
	logger       *slog.Logger
}

func NewAuthHandler(
	verifier *auth.Verifier,
	engine *mfa.Engine,
	resolver *tenant.Resolver,
	userSessions *store.UserSessionStore,
	userStore *store.UserStore,
	recorder *audit.Recorder,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		verifier:     verifier,
		engine:       engine,
		resolver:     resolver,
		userSessions: userSessions,
		userStore:    userStore,
		recorder:     recorder,
		logger:       logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies credentials and either mints a session directly or, when
// the account has a verified second factor, opens an MFA challenge. Unknown
// emails and wrong passwords produce the same response, so the endpoint
// leaks nothing about which addresses have accounts.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
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
		case errors.Is(err, model.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid email or password")
		case errors.Is(err, model.ErrAccountDisabled):
			writeError(w, http.StatusForbidden, "account is disabled")
		default:
			h.logger.Error("verify credentials", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	required, err := h.engine.Required(user.ID)
	if err != nil {
		h.logger.Error("check mfa required", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if required {
		challenge, err := h.engine.IssueChallenge(user.ID)
		if err != nil {
			h.logger.Error("issue mfa challenge", "user_id", user.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"mfa_required":    true,
			"challenge_token": challenge.Token,
		})
		return
	}

	h.finishLogin(w, r, user.ID, audit.ActionLogin)
}

type mfaVerifyRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code"`
}

// MFAVerify completes a pending challenge and mints the session the
// password step withheld.
func (h *AuthHandler) MFAVerify(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ChallengeToken == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "challenge_token and code are required")
		return
	}

	userID, err := h.engine.AnswerChallenge(req.ChallengeToken, req.Code)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCode) {
			writeError(w, http.StatusUnauthorized, "invalid or expired code")
			return
		}
		h.logger.Error("answer mfa challenge", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.finishLogin(w, r, userID, audit.ActionLoginMFA)
}

// finishLogin resolves the acting company, mints a session, and sets the
// cookie. Shared by the direct and post-MFA paths.
func (h *AuthHandler) finishLogin(w http.ResponseWriter, r *http.Request, userID int64, action string) {
	res, err := h.resolver.Resolve(userID)
	if err != nil {
		if errors.Is(err, model.ErrNoActiveCompany) {
			writeError(w, http.StatusForbidden, "no active company membership")
			return
		}
		h.logger.Error("resolve company", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	sess, err := h.userSessions.Create(userID, res.CompanyID)
	if err != nil {
		h.logger.Error("create session", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.UserSessionCookie,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   30 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})

	h.recorder.Record(userID, action, "")
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"company_id": res.CompanyID,
		"role":       res.Role,
	})
}

// Logout destroys the session behind the cookie and clears it. Both steps
// are idempotent.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.UserSessionCookie); err == nil && cookie.Value != "" {
		if err := h.userSessions.Destroy(cookie.Value); err != nil {
			h.logger.Error("destroy session", "error", err)
		}
	}
	if ac, ok := auth.UserFromContext(r.Context()); ok {
		h.recorder.Record(ac.UserID, audit.ActionLogout, "")
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.UserSessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the acting identity resolved by the session middleware.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	user, err := h.userStore.GetByID(ac.UserID)
	if err != nil || user == nil {
		h.logger.Error("me lookup", "user_id", ac.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":       user,
		"company_id": ac.CompanyID,
		"role":       ac.Role,
	})
}
