package mfa

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/rowanvale/mise/internal/model"
	"github.com/rowanvale/mise/internal/store"
)

// Mailer delivers one-time codes and account notifications. Delivery is
// best-effort; a failed send never invalidates an issued code.
type Mailer interface {
	SendMFACode(toEmail, code string) error
	SendSecurityAlert(toEmail, subject, body string) error
}

// Engine manages MFA devices and challenges for both factor kinds.
type Engine struct {
	devices    *store.MFADeviceStore
	codes      *store.EmailCodeStore
	challenges *store.MFAChallengeStore
	users      *store.UserStore
	mail       Mailer
	issuer     string
	logger     *slog.Logger
}

func NewEngine(
	devices *store.MFADeviceStore,
	codes *store.EmailCodeStore,
	challenges *store.MFAChallengeStore,
	users *store.UserStore,
	mail Mailer,
	issuer string,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		devices:    devices,
		codes:      codes,
		challenges: challenges,
		users:      users,
		mail:       mail,
		issuer:     issuer,
		logger:     logger,
	}
}

// totpOpts allows one time-step of clock drift in either direction.
var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// EnrollTOTP generates a fresh secret, persists an unverified device, and
// returns the device together with the otpauth:// provisioning URI for QR
// rendering.
func (e *Engine) EnrollTOTP(userID int64, accountEmail string) (*model.MFADevice, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountEmail,
	})
	if err != nil {
		return nil, "", fmt.Errorf("generate totp key: %w", err)
	}

	device, err := e.devices.Create(userID, model.MFAKindTOTP, key.Secret())
	if err != nil {
		return nil, "", err
	}

	e.notify(userID, "New authenticator enrolled", "A new authenticator app was added to your account. If this wasn't you, contact support.")
	return device, key.URL(), nil
}

// EnrollEmail persists an unverified email-code device. The user's email
// address is the delivery target, so the device carries no secret.
func (e *Engine) EnrollEmail(userID int64) (*model.MFADevice, error) {
	device, err := e.devices.Create(userID, model.MFAKindEmail, "")
	if err != nil {
		return nil, err
	}
	e.notify(userID, "Email verification enabled", "Email one-time codes were added to your account. If this wasn't you, contact support.")
	return device, nil
}

// VerifyDevice checks a code against the device and, on first success,
// transitions it from unverified to verified. A wrong code fails with
// ErrInvalidCode and mutates nothing.
func (e *Engine) VerifyDevice(userID, deviceID int64, code string) (*model.MFADevice, error) {
	device, err := e.devices.GetByID(deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil || device.UserID != userID {
		return nil, model.ErrNotFound
	}

	if err := e.checkDeviceCode(device, code); err != nil {
		return nil, err
	}

	if _, err := e.devices.MarkVerifiedIf(device.ID); err != nil {
		return nil, err
	}
	return e.devices.GetByID(device.ID)
}

// SetPrimary promotes a verified device owned by userID, demoting any
// previous primary atomically.
func (e *Engine) SetPrimary(userID, deviceID int64) error {
	return e.devices.SetPrimary(userID, deviceID)
}

// SendEmailCode issues a fresh one-time code and mails it. Issuance is
// throttled per user; the mail send itself is best-effort.
func (e *Engine) SendEmailCode(userID int64) error {
	user, err := e.users.GetByID(userID)
	if err != nil {
		return err
	}
	if user == nil {
		return model.ErrNotFound
	}

	ec, err := e.codes.Create(userID)
	if err != nil {
		return err
	}

	if err := e.mail.SendMFACode(user.Email, ec.Code); err != nil {
		e.logger.Warn("send mfa code", "user_id", userID, "error", err)
	}
	return nil
}

// VerifyEmailCode checks a code against the user's pending email code.
// The code is single-use: it is consumed on success, and burned after too
// many failed attempts.
func (e *Engine) VerifyEmailCode(userID int64, code string) error {
	latest, err := e.codes.GetLatestByUser(userID)
	if err != nil {
		return err
	}
	if latest == nil {
		return model.ErrInvalidCode
	}

	if latest.Attempts >= e.codes.MaxAttempts() {
		if err := e.codes.MarkUsed(latest.ID); err != nil {
			return err
		}
		return model.ErrInvalidCode
	}

	if latest.Code != code {
		attempts, err := e.codes.IncrementAttempts(latest.ID)
		if err != nil {
			return err
		}
		if attempts >= e.codes.MaxAttempts() {
			if err := e.codes.MarkUsed(latest.ID); err != nil {
				return err
			}
		}
		return model.ErrInvalidCode
	}

	consumed, err := e.codes.Consume(latest.ID)
	if err != nil {
		return err
	}
	if !consumed {
		// A concurrent verification got there first.
		return model.ErrInvalidCode
	}
	return nil
}

// Required reports whether login must demand a second factor for the
// user, i.e. whether they own at least one verified device.
func (e *Engine) Required(userID int64) (bool, error) {
	return e.devices.HasVerified(userID)
}

// IssueChallenge opens the pending state between a correct password and a
// completed second factor. For users whose primary factor is email, a
// code is sent immediately.
func (e *Engine) IssueChallenge(userID int64) (*model.MFAChallenge, error) {
	challenge, err := e.challenges.Create(userID)
	if err != nil {
		return nil, err
	}

	primary, err := e.devices.GetPrimary(userID)
	if err != nil {
		return nil, err
	}
	if primary != nil && primary.Kind == model.MFAKindEmail {
		if err := e.SendEmailCode(userID); err != nil && err != model.ErrCodeThrottled {
			e.logger.Warn("send challenge code", "user_id", userID, "error", err)
		}
	}
	return challenge, nil
}

// AnswerChallenge verifies a code against the challenge's user and closes
// the challenge on success, returning the user id the caller may now mint
// a session for. Failures count toward the challenge's attempt budget.
func (e *Engine) AnswerChallenge(token, code string) (int64, error) {
	challenge, err := e.challenges.GetPending(token)
	if err != nil {
		return 0, err
	}
	if challenge == nil {
		return 0, model.ErrInvalidCode
	}

	if challenge.Attempts >= e.challenges.MaxAttempts() {
		if err := e.challenges.MarkUsed(challenge.ID); err != nil {
			return 0, err
		}
		return 0, model.ErrInvalidCode
	}

	if err := e.verifyAgainstUserDevices(challenge.UserID, code); err != nil {
		if err == model.ErrInvalidCode {
			attempts, incErr := e.challenges.IncrementAttempts(challenge.ID)
			if incErr != nil {
				return 0, incErr
			}
			if attempts >= e.challenges.MaxAttempts() {
				if mErr := e.challenges.MarkUsed(challenge.ID); mErr != nil {
					return 0, mErr
				}
			}
		}
		return 0, err
	}

	consumed, err := e.challenges.Consume(challenge.ID)
	if err != nil {
		return 0, err
	}
	if !consumed {
		return 0, model.ErrInvalidCode
	}
	return challenge.UserID, nil
}

// verifyAgainstUserDevices tries the code against the user's primary
// device first, then any other verified device.
func (e *Engine) verifyAgainstUserDevices(userID int64, code string) error {
	devices, err := e.devices.ListByUser(userID)
	if err != nil {
		return err
	}

	ordered := make([]model.MFADevice, 0, len(devices))
	for _, d := range devices {
		if d.Verified && d.IsPrimary {
			ordered = append(ordered, d)
		}
	}
	for _, d := range devices {
		if d.Verified && !d.IsPrimary {
			ordered = append(ordered, d)
		}
	}
	if len(ordered) == 0 {
		return model.ErrInvalidCode
	}

	for _, d := range ordered {
		if err := e.checkDeviceCode(&d, code); err == nil {
			return nil
		} else if err != model.ErrInvalidCode {
			return err
		}
	}
	return model.ErrInvalidCode
}

// checkDeviceCode validates a code against one device without mutating
// device state. Email codes are consumed here since they are single-use.
func (e *Engine) checkDeviceCode(device *model.MFADevice, code string) error {
	switch device.Kind {
	case model.MFAKindTOTP:
		valid, err := totp.ValidateCustom(code, device.Secret, time.Now().UTC(), totpOpts)
		if err != nil {
			return fmt.Errorf("validate totp: %w", err)
		}
		if !valid {
			return model.ErrInvalidCode
		}
		return nil
	case model.MFAKindEmail:
		return e.VerifyEmailCode(device.UserID, code)
	default:
		return fmt.Errorf("unknown mfa device kind %q", device.Kind)
	}
}

// notify sends an account security notification. Failures are logged and
// swallowed; notification must never fail the primary operation.
func (e *Engine) notify(userID int64, subject, body string) {
	user, err := e.users.GetByID(userID)
	if err != nil || user == nil {
		e.logger.Warn("notify lookup", "user_id", userID, "error", err)
		return
	}
	if err := e.mail.SendSecurityAlert(user.Email, subject, body); err != nil {
		e.logger.Warn("send security alert", "user_id", userID, "error", err)
	}
}
