package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rowanvale/mise/internal/audit"
	"github.com/rowanvale/mise/internal/auth"
	"github.com/rowanvale/mise/internal/billing"
	"github.com/rowanvale/mise/internal/handler"
	"github.com/rowanvale/mise/internal/mfa"
	"github.com/rowanvale/mise/internal/middleware"
	"github.com/rowanvale/mise/internal/permission"
	"github.com/rowanvale/mise/internal/ratelimit"
	"github.com/rowanvale/mise/internal/reconcile"
	"github.com/rowanvale/mise/internal/store"
	"github.com/rowanvale/mise/internal/tenant"
)

// Config carries everything main needs to hand the server at startup.
type Config struct {
	Issuer  string
	Mailer  mfa.Mailer
	Billing billing.Config
}

type Server struct {
	db            *sql.DB
	authH         *handler.AuthHandler
	mfaH          *handler.MFAHandler
	companyH      *handler.CompanyHandler
	adminH        *handler.AdminHandler
	userStore     *store.UserStore
	companyStore  *store.CompanyStore
	userSessions  *store.UserSessionStore
	adminSessions *store.AdminSessionStore
	emailCodes    *store.EmailCodeStore
	challenges    *store.MFAChallengeStore
	rateLimits    *store.RateLimitStore
	throttle      *middleware.ThrottleLimiter
	job           *reconcile.Job
	logger        *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	userStore := store.NewUserStore(db)
	companyStore := store.NewCompanyStore(db)
	userSessions := store.NewUserSessionStore(db)
	adminSessions := store.NewAdminSessionStore(db)
	deviceStore := store.NewMFADeviceStore(db)
	emailCodes := store.NewEmailCodeStore(db)
	challenges := store.NewMFAChallengeStore(db)
	rateLimits := store.NewRateLimitStore(db)
	auditStore := store.NewAuditStore(db)

	verifier := auth.NewVerifier(userStore)
	engine := mfa.NewEngine(deviceStore, emailCodes, challenges, userStore, cfg.Mailer, cfg.Issuer, logger.With("component", "mfa"))
	resolver := tenant.NewResolver(companyStore)
	entitlements := billing.NewClient(cfg.Billing)
	limiter := ratelimit.NewAdminLimiter(rateLimits)
	job := reconcile.NewJob(companyStore, logger.With("component", "reconcile"))
	recorder := audit.NewRecorder(auditStore, logger.With("component", "audit"))

	return &Server{
		db:            db,
		authH:         handler.NewAuthHandler(verifier, engine, resolver, userSessions, userStore, recorder, logger.With("component", "auth")),
		mfaH:          handler.NewMFAHandler(engine, deviceStore, userStore, recorder, logger.With("component", "mfa_handler")),
		companyH:      handler.NewCompanyHandler(companyStore, userSessions, resolver, entitlements, recorder, logger.With("component", "company")),
		adminH:        handler.NewAdminHandler(verifier, adminSessions, userSessions, userStore, limiter, job, recorder, logger.With("component", "admin")),
		userStore:     userStore,
		companyStore:  companyStore,
		userSessions:  userSessions,
		adminSessions: adminSessions,
		emailCodes:    emailCodes,
		challenges:    challenges,
		rateLimits:    rateLimits,
		throttle:      middleware.NewThrottleLimiter(),
		job:           job,
		logger:        logger,
	}
}

// UserSessionStore returns the user session store for cleanup tasks.
func (s *Server) UserSessionStore() *store.UserSessionStore {
	return s.userSessions
}

// AdminSessionStore returns the admin session store for cleanup tasks.
func (s *Server) AdminSessionStore() *store.AdminSessionStore {
	return s.adminSessions
}

// EmailCodeStore returns the email code store for cleanup tasks.
func (s *Server) EmailCodeStore() *store.EmailCodeStore {
	return s.emailCodes
}

// ChallengeStore returns the challenge store for cleanup tasks.
func (s *Server) ChallengeStore() *store.MFAChallengeStore {
	return s.challenges
}

// RateLimitStore returns the rate limit store for cleanup tasks.
func (s *Server) RateLimitStore() *store.RateLimitStore {
	return s.rateLimits
}

// ThrottleLimiter returns the IP throttle for cleanup tasks.
func (s *Server) ThrottleLimiter() *middleware.ThrottleLimiter {
	return s.throttle
}

// ReconcileJob returns the membership reconciliation job for scheduling.
func (s *Server) ReconcileJob() *reconcile.Job {
	return s.job
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes, throttled by client IP before any credential work.
	outerMux.HandleFunc("POST /api/auth/login", s.throttled(s.authH.Login))
	outerMux.HandleFunc("POST /api/auth/mfa/verify", s.throttled(s.authH.MFAVerify))
	outerMux.HandleFunc("POST /api/admin/login", s.throttled(s.adminH.Login))
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// User routes behind the user session namespace.
	userMux := http.NewServeMux()
	s.registerUserRoutes(userMux)
	userAuth := middleware.RequireUser(s.userSessions, s.userStore, s.companyStore, s.logger.With("component", "auth_middleware"))
	outerMux.Handle("/api/", userAuth(userMux))

	// Admin routes behind the admin session namespace.
	adminMux := http.NewServeMux()
	s.registerAdminRoutes(adminMux)
	adminAuth := middleware.RequireAdmin(s.adminSessions, s.userStore, s.logger.With("component", "admin_middleware"))
	outerMux.Handle("/api/admin/", adminAuth(adminMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) throttled(h http.HandlerFunc) http.HandlerFunc {
	th := middleware.Throttle(s.throttle, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		th(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerUserRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/logout", s.authH.Logout)
	mux.HandleFunc("GET /api/auth/me", s.authH.Me)

	mux.HandleFunc("GET /api/mfa/devices", s.mfaH.ListDevices)
	mux.HandleFunc("POST /api/mfa/devices/totp", s.mfaH.EnrollTOTP)
	mux.HandleFunc("POST /api/mfa/devices/email", s.mfaH.EnrollEmail)
	mux.HandleFunc("POST /api/mfa/devices/verify", s.mfaH.VerifyDevice)
	mux.HandleFunc("POST /api/mfa/devices/primary", s.mfaH.SetPrimary)
	mux.HandleFunc("POST /api/mfa/codes/send", s.mfaH.SendCode)

	mux.HandleFunc("GET /api/companies", s.companyH.List)
	mux.HandleFunc("POST /api/companies/switch", s.companyH.Switch)

	// Billing state is gated by exact role, not the capability table.
	billingGate := middleware.RequireRole(permission.RoleOwner, permission.RoleAdmin)
	mux.Handle("GET /api/companies/billing", billingGate(http.HandlerFunc(s.companyH.Entitlement)))
}

func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/admin/logout", s.adminH.Logout)
	mux.HandleFunc("POST /api/admin/reconcile", s.adminH.Reconcile)
	mux.HandleFunc("GET /api/admin/reconcile/status", s.adminH.ReconcileStatus)
	mux.HandleFunc("POST /api/admin/users/{id}/deactivate", s.adminH.DeactivateUser)
}
