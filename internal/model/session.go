package model

import "time"

// UserSession and AdminSession are distinct types on purpose: the two
// trust domains use separate tables, separate cookies, and separate
// token key spaces, so one can never be validated as the other.

type UserSession struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	CompanyID int64     `json:"company_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type AdminSession struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
