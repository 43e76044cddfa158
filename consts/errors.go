package consts

import "errors"

var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrInternalError   = errors.New("internal error")

	ErrSessionNotFound = errors.New("session not found")
	ErrProfileNotFound = errors.New("profile not found")

	ErrBlacklisted      = errors.New("address is blacklisted")
	ErrTooManyAttempts  = errors.New("too many failed login attempts")
	ErrConnectionDenied = errors.New("connection denied")
)
