package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountInactive    = errors.New("auth: account inactive")
	ErrNoAssignments      = errors.New("auth: no active center assignments")
	ErrSessionNotFound    = errors.New("auth: session not found")
	ErrSessionExpired     = errors.New("auth: session expired")
	ErrSessionInactive    = errors.New("auth: session inactive")
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrValidationFailed   = errors.New("auth: validation failed")
	ErrConflict           = errors.New("auth: conflict")
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidInput       = errors.New("auth: invalid input")
)
