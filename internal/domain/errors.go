package domain

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountSuspended   = errors.New("account suspended")
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrAlreadyEnabled     = errors.New("two-factor already enabled")
	ErrNotEnabled         = errors.New("two-factor not enabled")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("expired token")
)
