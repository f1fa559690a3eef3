package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rowanvale/mise/internal/model"
)

// RateLimitStore keeps fixed-window attempt counters per (user, action).
// Counters live in the database so every process sees the same window and
// a restart cannot reset an active lock.
type RateLimitStore struct {
	db *sql.DB
}

func NewRateLimitStore(db *sql.DB) *RateLimitStore {
	return &RateLimitStore{db: db}
}

func scanRateLimitEntry(scanner interface{ Scan(...any) error }) (*model.RateLimitEntry, error) {
	var e model.RateLimitEntry
	var lockedUntil sql.NullTime
	err := scanner.Scan(&e.UserID, &e.Action, &e.Count, &e.WindowEndsAt, &lockedUntil)
	if err != nil {
		return nil, err
	}
	if lockedUntil.Valid {
		e.LockedUntil = &lockedUntil.Time
	}
	return &e, nil
}

const rateLimitCols = `user_id, action, count, window_ends_at, locked_until`

// Take consumes one attempt inside a single transaction and reports
// whether the call is allowed. A fresh or elapsed window restarts the
// counter at 1; exceeding limit locks the pair until the window ends.
func (s *RateLimitStore) Take(userID int64, action string, limit int, window time.Duration) (*model.RateLimitEntry, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	row := tx.QueryRow(
		`SELECT `+rateLimitCols+` FROM rate_limits WHERE user_id = ? AND action = ?`,
		userID, action,
	)
	entry, err := scanRateLimitEntry(row)
	if err != nil && err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("get rate limit entry: %w", err)
	}

	if entry != nil && entry.LockedUntil != nil && now.Before(*entry.LockedUntil) {
		return entry, false, nil
	}

	if entry == nil || now.After(entry.WindowEndsAt) {
		windowEnd := now.Add(window)
		if _, err := tx.Exec(
			`INSERT INTO rate_limits (user_id, action, count, window_ends_at, locked_until) VALUES (?, ?, 1, ?, NULL)
			 ON CONFLICT (user_id, action) DO UPDATE SET count = 1, window_ends_at = excluded.window_ends_at, locked_until = NULL`,
			userID, action, windowEnd,
		); err != nil {
			return nil, false, fmt.Errorf("reset rate limit window: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit: %w", err)
		}
		return &model.RateLimitEntry{UserID: userID, Action: action, Count: 1, WindowEndsAt: windowEnd}, true, nil
	}

	entry.Count++
	if entry.Count > limit {
		locked := entry.WindowEndsAt
		entry.LockedUntil = &locked
		if _, err := tx.Exec(
			`UPDATE rate_limits SET count = ?, locked_until = ? WHERE user_id = ? AND action = ?`,
			entry.Count, locked, userID, action,
		); err != nil {
			return nil, false, fmt.Errorf("lock rate limit entry: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit: %w", err)
		}
		return entry, false, nil
	}

	if _, err := tx.Exec(
		`UPDATE rate_limits SET count = ? WHERE user_id = ? AND action = ?`,
		entry.Count, userID, action,
	); err != nil {
		return nil, false, fmt.Errorf("update rate limit entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return entry, true, nil
}

// Get returns the current entry without consuming an attempt, or nil.
func (s *RateLimitStore) Get(userID int64, action string) (*model.RateLimitEntry, error) {
	row := s.db.QueryRow(
		`SELECT `+rateLimitCols+` FROM rate_limits WHERE user_id = ? AND action = ?`,
		userID, action,
	)
	entry, err := scanRateLimitEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rate limit entry: %w", err)
	}
	return entry, nil
}

// DeleteExpired removes entries whose window and lock have both elapsed.
func (s *RateLimitStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(
		`DELETE FROM rate_limits WHERE window_ends_at <= datetime('now') AND (locked_until IS NULL OR locked_until <= datetime('now'))`,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired rate limit entries: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
