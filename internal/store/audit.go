package store

import (
	"database/sql"
	"fmt"

	"github.com/rowanvale/mise/internal/model"
)

type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

const auditCols = `id, user_id, action, detail, created_at`

func (s *AuditStore) Create(id string, userID int64, action, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_events (id, user_id, action, detail) VALUES (?, ?, ?, ?)`,
		id, userID, action, detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *AuditStore) ListRecentByUser(userID int64, limit int) ([]model.AuditEvent, error) {
	rows, err := s.db.Query(
		`SELECT `+auditCols+` FROM audit_events WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
