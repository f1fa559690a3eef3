package model

import "time"

// RateLimitEntry is a fixed-window counter for one (user, action) pair.
type RateLimitEntry struct {
	UserID       int64      `json:"user_id"`
	Action       string     `json:"action"`
	Count        int        `json:"count"`
	WindowEndsAt time.Time  `json:"window_ends_at"`
	LockedUntil  *time.Time `json:"locked_until"`
}

type AuditEvent struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}
