package store

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/rowanvale/mise/internal/model"
)

const (
	emailCodeTTL        = 10 * time.Minute
	emailCodeMinResend  = time.Minute
	emailCodeMaxAttempt = 5
)

type EmailCodeStore struct {
	db *sql.DB
}

func NewEmailCodeStore(db *sql.DB) *EmailCodeStore {
	return &EmailCodeStore{db: db}
}

func scanEmailCode(scanner interface{ Scan(...any) error }) (*model.EmailCode, error) {
	var ec model.EmailCode
	var usedAt sql.NullTime
	err := scanner.Scan(&ec.ID, &ec.UserID, &ec.Code, &ec.ExpiresAt, &usedAt, &ec.Attempts, &ec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		ec.UsedAt = &usedAt.Time
	}
	return &ec, nil
}

const emailCodeCols = `id, user_id, code, expires_at, used_at, attempts, created_at`

// generateCode returns a 6-digit numeric code (100000-999999).
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Create issues a fresh single-use code for the user. A send inside the
// minimum resend interval fails with ErrCodeThrottled; otherwise any
// previous pending code is invalidated first.
func (s *EmailCodeStore) Create(userID int64) (*model.EmailCode, error) {
	latest, err := s.GetLatestByUser(userID)
	if err != nil {
		return nil, err
	}
	if latest != nil && time.Since(latest.CreatedAt) < emailCodeMinResend {
		return nil, model.ErrCodeThrottled
	}

	_, err = s.db.Exec(
		`UPDATE email_codes SET used_at = datetime('now') WHERE user_id = ? AND used_at IS NULL AND expires_at > datetime('now')`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("invalidate previous codes: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().UTC().Add(emailCodeTTL)

	result, err := s.db.Exec(
		`INSERT INTO email_codes (user_id, code, expires_at) VALUES (?, ?, ?)`,
		userID, code, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert email code: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+emailCodeCols+` FROM email_codes WHERE id = ?`, id)
	return scanEmailCode(row)
}

// GetLatestByUser returns the most recent pending (unexpired, unused)
// code for a user, or nil.
func (s *EmailCodeStore) GetLatestByUser(userID int64) (*model.EmailCode, error) {
	row := s.db.QueryRow(
		`SELECT `+emailCodeCols+` FROM email_codes WHERE user_id = ? AND expires_at > datetime('now') AND used_at IS NULL ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID,
	)
	ec, err := scanEmailCode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest email code: %w", err)
	}
	return ec, nil
}

// Consume marks the code used only while it is still pending, so two
// concurrent verifications cannot both succeed. Returns true if this
// call consumed it.
func (s *EmailCodeStore) Consume(id int64) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE email_codes SET used_at = datetime('now') WHERE id = ? AND used_at IS NULL AND expires_at > datetime('now')`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("consume email code: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// IncrementAttempts increments the failed-attempt count and returns the
// new value.
func (s *EmailCodeStore) IncrementAttempts(id int64) (int, error) {
	_, err := s.db.Exec(`UPDATE email_codes SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}

	var attempts int
	err = s.db.QueryRow(`SELECT attempts FROM email_codes WHERE id = ?`, id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("read attempts: %w", err)
	}
	return attempts, nil
}

// MaxAttempts is the per-code failed-attempt budget before the code is
// burned.
func (s *EmailCodeStore) MaxAttempts() int {
	return emailCodeMaxAttempt
}

func (s *EmailCodeStore) MarkUsed(id int64) error {
	_, err := s.db.Exec(`UPDATE email_codes SET used_at = datetime('now') WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark email code used: %w", err)
	}
	return nil
}

func (s *EmailCodeStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM email_codes WHERE expires_at <= datetime('now')`)
	if err != nil {
		return 0, fmt.Errorf("delete expired email codes: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
