package service

import (
	"context"

	"edauth/internal/dto"
)

// AuthService sequences a login: lockout check, credential check, account
// status, 2FA branch, session issuance.
type AuthService interface {
	Login(ctx context.Context, r dto.LoginRequest, ip, ua string) (*dto.LoginResult, error)
	CompleteTwoFactor(ctx context.Context, r dto.TwoFactorLoginRequest, ip, ua string) (*dto.LoginResult, error)
	Logout(ctx context.Context, refreshToken string) error

	// LockoutStatus exposes the ledger-derived state for a given email, for
	// rate-limiting middleware and error responses.
	LockoutStatus(ctx context.Context, email string) (*dto.LockoutStatus, error)
}
