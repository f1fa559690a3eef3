package audit

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/rowanvale/mise/internal/store"
)

// Actions recorded by the identity core.
const (
	ActionLogin           = "login"
	ActionLoginMFA        = "login_mfa"
	ActionLogout          = "logout"
	ActionAdminLogin      = "admin_login"
	ActionMFAEnroll       = "mfa_enroll"
	ActionMFAVerify       = "mfa_verify"
	ActionMFASetPrimary   = "mfa_set_primary"
	ActionCompanySwitch   = "company_switch"
	ActionReconcileManual = "reconcile_manual"
	ActionUserDeactivate  = "user_deactivate"
)

// Recorder writes activity events on a best-effort basis. A failed write
// is logged for operators and swallowed; recording who did what must
// never block or fail the operation being recorded.
type Recorder struct {
	events *store.AuditStore
	logger *slog.Logger
}

func NewRecorder(events *store.AuditStore, logger *slog.Logger) *Recorder {
	return &Recorder{events: events, logger: logger}
}

// Record appends one activity event.
func (r *Recorder) Record(userID int64, action, detail string) {
	if err := r.events.Create(uuid.NewString(), userID, action, detail); err != nil {
		r.logger.Error("record audit event", "user_id", userID, "action", action, "error", err)
	}
}
