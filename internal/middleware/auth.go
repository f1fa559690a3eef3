package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/rowanvale/mise/internal/auth"
	"github.com/rowanvale/mise/internal/model"
	"github.com/rowanvale/mise/internal/permission"
	"github.com/rowanvale/mise/internal/store"
)

// Cookie names for the two trust domains. The admin cookie is never read
// on user routes and vice versa, so a token can only reach the store that
// issued it.
const (
	UserSessionCookie  = "mise_session"
	AdminSessionCookie = "mise_admin_session"
)

// RequireUser validates the user-namespace session cookie and populates
// AuthContext with the acting user, company, and membership role.
func RequireUser(sessions *store.UserSessionStore, users *store.UserStore, companies *store.CompanyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(UserSessionCookie)
			if err != nil || cookie.Value == "" {
				http.Error(w, "Unauthenticated", http.StatusUnauthorized)
				return
			}

			sess, err := sessions.Validate(cookie.Value)
			if err != nil {
				if !errors.Is(err, model.ErrInvalidSession) && !errors.Is(err, model.ErrSessionExpired) {
					logger.Error("validate session", "error", err)
				}
				clearCookie(w, UserSessionCookie)
				http.Error(w, "Unauthenticated", http.StatusUnauthorized)
				return
			}

			user, err := users.GetByID(sess.UserID)
			if err != nil {
				logger.Error("session user lookup", "error", err)
				http.Error(w, "Internal error", http.StatusInternalServerError)
				return
			}
			if user == nil || !user.IsActive {
				clearCookie(w, UserSessionCookie)
				http.Error(w, "Unauthenticated", http.StatusUnauthorized)
				return
			}

			member, err := companies.GetMember(sess.CompanyID, sess.UserID)
			if err != nil {
				logger.Error("session membership lookup", "error", err)
				http.Error(w, "Internal error", http.StatusInternalServerError)
				return
			}
			if member == nil || !member.IsActive {
				clearCookie(w, UserSessionCookie)
				http.Error(w, "Unauthenticated", http.StatusUnauthorized)
				return
			}

			ac := auth.AuthContext{
				UserID:    sess.UserID,
				CompanyID: sess.CompanyID,
				Role:      member.Role,
				SessionID: sess.ID,
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), ac)))
		})
	}
}

// RequireAdmin validates the admin-namespace session cookie. The user
// behind it must still be an active administrator.
func RequireAdmin(sessions *store.AdminSessionStore, users *store.UserStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(AdminSessionCookie)
			if err != nil || cookie.Value == "" {
				http.Error(w, "Unauthenticated", http.StatusUnauthorized)
				return
			}

			sess, err := sessions.Validate(cookie.Value)
			if err != nil {
				if !errors.Is(err, model.ErrInvalidSession) && !errors.Is(err, model.ErrSessionExpired) {
					logger.Error("validate admin session", "error", err)
				}
				clearCookie(w, AdminSessionCookie)
				http.Error(w, "Unauthenticated", http.StatusUnauthorized)
				return
			}

			user, err := users.GetByID(sess.UserID)
			if err != nil {
				logger.Error("admin session user lookup", "error", err)
				http.Error(w, "Internal error", http.StatusInternalServerError)
				return
			}
			if user == nil || !user.IsActive || !user.IsAdmin {
				clearCookie(w, AdminSessionCookie)
				http.Error(w, "Unauthenticated", http.StatusUnauthorized)
				return
			}

			ac := auth.AdminContext{UserID: sess.UserID, SessionID: sess.ID}
			next.ServeHTTP(w, r.WithContext(auth.WithAdmin(r.Context(), ac)))
		})
	}
}

// RequirePermission gates a route on the capability table for the
// resolved membership role.
func RequirePermission(capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := auth.UserFromContext(r.Context())
			if !ok {
				http.Error(w, "Unauthenticated", http.StatusUnauthorized)
				return
			}
			if !permission.HasPermission(ac.Role, capability) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole gates a route on an exact membership role, bypassing the
// capability table. Reserved for flows that must not move when the table
// is edited (billing, integrations).
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := auth.UserFromContext(r.Context())
			if !ok {
				http.Error(w, "Unauthenticated", http.StatusUnauthorized)
				return
			}
			if !permission.HasRole(ac.Role, roles...) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
