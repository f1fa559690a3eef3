package model

import "errors"

// Domain error taxonomy. Callers branch with errors.Is; anything not
// listed here is treated as an internal failure and surfaced opaquely.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrInvalidSession     = errors.New("invalid session")
	ErrSessionExpired     = errors.New("session expired")
	ErrInvalidCode        = errors.New("invalid code")
	ErrCodeThrottled      = errors.New("code recently sent")
	ErrRateLimited        = errors.New("rate limited")
	ErrNoActiveCompany    = errors.New("no active company")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("invalid input")
)
