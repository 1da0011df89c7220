package service

import (
	"context"

	"edauth/internal/domain"
	"edauth/internal/dto"
)

// TokenService issues session token pairs and the short-lived temporary
// token that bridges password verification and second-factor verification.
type TokenService interface {
	Issue(ctx context.Context, user *domain.User, ip, ua string) (*dto.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string, ip, ua string) (*dto.TokenResponse, error)
	RevokeSession(ctx context.Context, sessionID domain.SessionID) error
	// RevokeRefreshToken revokes the session a refresh token is bound to.
	// Unknown or already-invalid tokens are not an error.
	RevokeRefreshToken(ctx context.Context, refreshToken string) error

	// VerifyAccess validates an access token and returns its subject.
	VerifyAccess(token string) (domain.UserID, error)

	// IssueTwoFactorToken mints a 5-minute single-purpose token bound to the
	// user. It is not a session token and cannot be used as one.
	IssueTwoFactorToken(userID domain.UserID) (string, error)
	// VerifyTwoFactorToken returns the bound user id, or ErrInvalidToken /
	// ErrExpiredToken. Verification does not consume the token.
	VerifyTwoFactorToken(token string) (domain.UserID, error)
}
