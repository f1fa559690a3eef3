package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rowanvale/mise/internal/model"
)

const (
	userSessionTTL  = 30 * 24 * time.Hour
	adminSessionTTL = 12 * time.Hour
)

func newSessionToken() (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(tokenBytes), nil
}

// UserSessionStore issues and validates tokens for the ordinary-user trust
// domain. Admin tokens live in a separate table behind AdminSessionStore,
// so a token can only ever validate in the namespace that issued it.
type UserSessionStore struct {
	db *sql.DB
}

func NewUserSessionStore(db *sql.DB) *UserSessionStore {
	return &UserSessionStore{db: db}
}

func scanUserSession(scanner interface{ Scan(...any) error }) (*model.UserSession, error) {
	var s model.UserSession
	err := scanner.Scan(&s.ID, &s.Token, &s.UserID, &s.CompanyID, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const userSessionCols = `id, token, user_id, company_id, expires_at, created_at`

// Create generates a new session with a crypto-random token.
func (s *UserSessionStore) Create(userID, companyID int64) (*model.UserSession, error) {
	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().UTC().Add(userSessionTTL)

	result, err := s.db.Exec(
		`INSERT INTO user_sessions (token, user_id, company_id, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, companyID, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+userSessionCols+` FROM user_sessions WHERE id = ?`, id)
	return scanUserSession(row)
}

// Validate returns the session for the token. Unknown tokens fail with
// ErrInvalidSession; expired ones are deleted and fail with
// ErrSessionExpired.
func (s *UserSessionStore) Validate(token string) (*model.UserSession, error) {
	row := s.db.QueryRow(`SELECT `+userSessionCols+` FROM user_sessions WHERE token = ?`, token)
	sess, err := scanUserSession(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("validate user session: %w", err)
	}
	if time.Now().UTC().After(sess.ExpiresAt) {
		if _, err := s.db.Exec(`DELETE FROM user_sessions WHERE id = ?`, sess.ID); err != nil {
			return nil, fmt.Errorf("delete expired session: %w", err)
		}
		return nil, model.ErrSessionExpired
	}
	return sess, nil
}

// Destroy removes the session for the token. Unknown tokens are not an
// error.
func (s *UserSessionStore) Destroy(token string) error {
	_, err := s.db.Exec(`DELETE FROM user_sessions WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("destroy user session: %w", err)
	}
	return nil
}

// SwitchCompanyIf moves the session to another company only while the
// session still exists. Returns true if the row changed.
func (s *UserSessionStore) SwitchCompanyIf(sessionID, companyID int64) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE user_sessions SET company_id = ? WHERE id = ?`,
		companyID, sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("switch session company: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *UserSessionStore) DeleteByUserID(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM user_sessions WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete sessions by user: %w", err)
	}
	return nil
}

func (s *UserSessionStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM user_sessions WHERE expires_at <= datetime('now')`)
	if err != nil {
		return 0, fmt.Errorf("delete expired user sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

// AdminSessionStore issues and validates tokens for the administrator
// trust domain.
type AdminSessionStore struct {
	db *sql.DB
}

func NewAdminSessionStore(db *sql.DB) *AdminSessionStore {
	return &AdminSessionStore{db: db}
}

func scanAdminSession(scanner interface{ Scan(...any) error }) (*model.AdminSession, error) {
	var s model.AdminSession
	err := scanner.Scan(&s.ID, &s.Token, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const adminSessionCols = `id, token, user_id, expires_at, created_at`

func (s *AdminSessionStore) Create(userID int64) (*model.AdminSession, error) {
	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().UTC().Add(adminSessionTTL)

	result, err := s.db.Exec(
		`INSERT INTO admin_sessions (token, user_id, expires_at) VALUES (?, ?, ?)`,
		token, userID, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert admin session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+adminSessionCols+` FROM admin_sessions WHERE id = ?`, id)
	return scanAdminSession(row)
}

func (s *AdminSessionStore) Validate(token string) (*model.AdminSession, error) {
	row := s.db.QueryRow(`SELECT `+adminSessionCols+` FROM admin_sessions WHERE token = ?`, token)
	sess, err := scanAdminSession(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("validate admin session: %w", err)
	}
	if time.Now().UTC().After(sess.ExpiresAt) {
		if _, err := s.db.Exec(`DELETE FROM admin_sessions WHERE id = ?`, sess.ID); err != nil {
			return nil, fmt.Errorf("delete expired admin session: %w", err)
		}
		return nil, model.ErrSessionExpired
	}
	return sess, nil
}

func (s *AdminSessionStore) Destroy(token string) error {
	_, err := s.db.Exec(`DELETE FROM admin_sessions WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("destroy admin session: %w", err)
	}
	return nil
}

func (s *AdminSessionStore) DeleteByUserID(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM admin_sessions WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete admin sessions by user: %w", err)
	}
	return nil
}

func (s *AdminSessionStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM admin_sessions WHERE expires_at <= datetime('now')`)
	if err != nil {
		return 0, fmt.Errorf("delete expired admin sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
