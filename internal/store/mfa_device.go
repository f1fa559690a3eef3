package store

import (
	"database/sql"
	"fmt"

	"github.com/rowanvale/mise/internal/model"
)

type MFADeviceStore struct {
	db *sql.DB
}

func NewMFADeviceStore(db *sql.DB) *MFADeviceStore {
	return &MFADeviceStore{db: db}
}

func scanMFADevice(scanner interface{ Scan(...any) error }) (*model.MFADevice, error) {
	var d model.MFADevice
	err := scanner.Scan(&d.ID, &d.UserID, &d.Kind, &d.Secret, &d.Verified, &d.IsPrimary, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

const mfaDeviceCols = `id, user_id, kind, secret, verified, is_primary, created_at, updated_at`

// Create persists a new device in the unverified state.
func (s *MFADeviceStore) Create(userID int64, kind, secret string) (*model.MFADevice, error) {
	result, err := s.db.Exec(
		`INSERT INTO mfa_devices (user_id, kind, secret) VALUES (?, ?, ?)`,
		userID, kind, secret,
	)
	if err != nil {
		return nil, fmt.Errorf("insert mfa device: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *MFADeviceStore) GetByID(id int64) (*model.MFADevice, error) {
	row := s.db.QueryRow(`SELECT `+mfaDeviceCols+` FROM mfa_devices WHERE id = ?`, id)
	d, err := scanMFADevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mfa device: %w", err)
	}
	return d, nil
}

func (s *MFADeviceStore) ListByUser(userID int64) ([]model.MFADevice, error) {
	rows, err := s.db.Query(
		`SELECT `+mfaDeviceCols+` FROM mfa_devices WHERE user_id = ? ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list mfa devices: %w", err)
	}
	defer rows.Close()

	var devices []model.MFADevice
	for rows.Next() {
		d, err := scanMFADevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mfa device: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

// GetPrimary returns the user's primary verified device, or nil.
func (s *MFADeviceStore) GetPrimary(userID int64) (*model.MFADevice, error) {
	row := s.db.QueryRow(
		`SELECT `+mfaDeviceCols+` FROM mfa_devices WHERE user_id = ? AND is_primary = 1`,
		userID,
	)
	d, err := scanMFADevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get primary mfa device: %w", err)
	}
	return d, nil
}

// HasVerified reports whether the user owns at least one verified device,
// i.e. whether login must demand a second factor.
func (s *MFADeviceStore) HasVerified(userID int64) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM mfa_devices WHERE user_id = ? AND verified = 1`,
		userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count verified mfa devices: %w", err)
	}
	return count > 0, nil
}

// MarkVerifiedIf transitions the device from unverified to verified.
// Returns true if this call made the transition; a device that was
// already verified is left alone.
func (s *MFADeviceStore) MarkVerifiedIf(id int64) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE mfa_devices SET verified = 1, updated_at = datetime('now') WHERE id = ? AND verified = 0`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("mark mfa device verified: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// SetPrimary promotes a verified device owned by userID and demotes any
// other primary in the same transaction, so at most one device per user
// is primary at any observable instant.
func (s *MFADeviceStore) SetPrimary(userID, deviceID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE mfa_devices SET is_primary = 0, updated_at = datetime('now') WHERE user_id = ? AND is_primary = 1`,
		userID,
	); err != nil {
		return fmt.Errorf("clear primary: %w", err)
	}

	result, err := tx.Exec(
		`UPDATE mfa_devices SET is_primary = 1, updated_at = datetime('now') WHERE id = ? AND user_id = ? AND verified = 1`,
		deviceID, userID,
	)
	if err != nil {
		return fmt.Errorf("set primary: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrNotFound
	}

	return tx.Commit()
}

func (s *MFADeviceStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM mfa_devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete mfa device: %w", err)
	}
	return nil
}
