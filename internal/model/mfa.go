package model

import "time"

const (
	MFAKindTOTP  = "totp"
	MFAKindEmail = "email"
)

// MFADevice moves one way through its lifecycle: unverified on enrollment,
// verified after the first successful challenge, optionally primary after
// that. There is no transition back to unverified.
type MFADevice struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Kind      string    `json:"kind"`
	Secret    string    `json:"-"`
	Verified  bool      `json:"verified"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmailCode is a single-use numeric code delivered by mail.
type EmailCode struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Code      string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
}

// MFAChallenge is the pending state between a correct password and a
// completed second factor. No user session exists until it is answered.
type MFAChallenge struct {
	ID        int64      `json:"id"`
	Token     string     `json:"token"`
	UserID    int64      `json:"user_id"`
	Attempts  int        `json:"attempts"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`
	CreatedAt time.Time  `json:"created_at"`
}
