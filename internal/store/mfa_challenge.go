package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rowanvale/mise/internal/model"
)

const (
	mfaChallengeTTL        = 5 * time.Minute
	mfaChallengeMaxAttempt = 5
)

// MFAChallengeStore holds the pending state between a correct password
// and a completed second factor.
type MFAChallengeStore struct {
	db *sql.DB
}

func NewMFAChallengeStore(db *sql.DB) *MFAChallengeStore {
	return &MFAChallengeStore{db: db}
}

func scanMFAChallenge(scanner interface{ Scan(...any) error }) (*model.MFAChallenge, error) {
	var c model.MFAChallenge
	var usedAt sql.NullTime
	err := scanner.Scan(&c.ID, &c.Token, &c.UserID, &c.Attempts, &c.ExpiresAt, &usedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		c.UsedAt = &usedAt.Time
	}
	return &c, nil
}

const mfaChallengeCols = `id, token, user_id, attempts, expires_at, used_at, created_at`

func (s *MFAChallengeStore) Create(userID int64) (*model.MFAChallenge, error) {
	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().UTC().Add(mfaChallengeTTL)

	result, err := s.db.Exec(
		`INSERT INTO mfa_challenges (token, user_id, expires_at) VALUES (?, ?, ?)`,
		token, userID, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert mfa challenge: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+mfaChallengeCols+` FROM mfa_challenges WHERE id = ?`, id)
	return scanMFAChallenge(row)
}

// GetPending returns the challenge for the token if it is still open, or
// nil when unknown, expired, or already answered.
func (s *MFAChallengeStore) GetPending(token string) (*model.MFAChallenge, error) {
	row := s.db.QueryRow(
		`SELECT `+mfaChallengeCols+` FROM mfa_challenges WHERE token = ? AND expires_at > datetime('now') AND used_at IS NULL`,
		token,
	)
	c, err := scanMFAChallenge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending mfa challenge: %w", err)
	}
	return c, nil
}

// Consume closes the challenge only while it is still open. Returns true
// if this call closed it.
func (s *MFAChallengeStore) Consume(id int64) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE mfa_challenges SET used_at = datetime('now') WHERE id = ? AND used_at IS NULL AND expires_at > datetime('now')`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("consume mfa challenge: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *MFAChallengeStore) IncrementAttempts(id int64) (int, error) {
	_, err := s.db.Exec(`UPDATE mfa_challenges SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}

	var attempts int
	err = s.db.QueryRow(`SELECT attempts FROM mfa_challenges WHERE id = ?`, id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("read attempts: %w", err)
	}
	return attempts, nil
}

func (s *MFAChallengeStore) MaxAttempts() int {
	return mfaChallengeMaxAttempt
}

func (s *MFAChallengeStore) MarkUsed(id int64) error {
	_, err := s.db.Exec(`UPDATE mfa_challenges SET used_at = datetime('now') WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark mfa challenge used: %w", err)
	}
	return nil
}

func (s *MFAChallengeStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM mfa_challenges WHERE expires_at <= datetime('now')`)
	if err != nil {
		return 0, fmt.Errorf("delete expired mfa challenges: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
