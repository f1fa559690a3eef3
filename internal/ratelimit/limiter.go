package ratelimit

import (
	"time"

	"github.com/rowanvale/mise/internal/model"
	"github.com/rowanvale/mise/internal/store"
)

// Actions throttled by the admin limiter.
const (
	ActionReconcile = "reconcile"
)

const (
	defaultLimit  = 5
	defaultWindow = time.Hour
)

// Status reports the limiter's view of one (user, action) pair.
type Status struct {
	Allowed     bool       `json:"allowed"`
	Remaining   int        `json:"remaining"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// AdminLimiter throttles expensive administrative operations per user.
// State is database-backed, so limits hold across processes and restarts.
type AdminLimiter struct {
	entries *store.RateLimitStore
	limit   int
	window  time.Duration
}

func NewAdminLimiter(entries *store.RateLimitStore) *AdminLimiter {
	return &AdminLimiter{entries: entries, limit: defaultLimit, window: defaultWindow}
}

// Check consumes one attempt. When the window's budget is exhausted it
// fails with ErrRateLimited; the returned status then carries the lock
// expiry.
func (l *AdminLimiter) Check(userID int64, action string) (Status, error) {
	entry, allowed, err := l.entries.Take(userID, action, l.limit, l.window)
	if err != nil {
		return Status{}, err
	}
	status := l.toStatus(entry, allowed)
	if !allowed {
		return status, model.ErrRateLimited
	}
	return status, nil
}

// Status reports remaining attempts and any lock without consuming one.
func (l *AdminLimiter) Status(userID int64, action string) (Status, error) {
	entry, err := l.entries.Get(userID, action)
	if err != nil {
		return Status{}, err
	}
	if entry == nil {
		return Status{Allowed: true, Remaining: l.limit}, nil
	}
	now := time.Now().UTC()
	if entry.LockedUntil != nil && now.Before(*entry.LockedUntil) {
		return l.toStatus(entry, false), nil
	}
	if now.After(entry.WindowEndsAt) {
		return Status{Allowed: true, Remaining: l.limit}, nil
	}
	return l.toStatus(entry, entry.Count < l.limit), nil
}

func (l *AdminLimiter) toStatus(entry *model.RateLimitEntry, allowed bool) Status {
	remaining := l.limit - entry.Count
	if remaining < 0 {
		remaining = 0
	}
	return Status{Allowed: allowed, Remaining: remaining, LockedUntil: entry.LockedUntil}
}
