package dto

import "time"

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is returned by Login. Exactly one of the two shapes is
// populated: a token pair, or a 2FA challenge carrying the temporary token.
type LoginResult struct {
	TwoFactorRequired bool           `json:"twoFactorRequired"`
	TemporaryToken    string         `json:"temporaryToken,omitempty"`
	Tokens            *TokenResponse `json:"tokens,omitempty"`
}

// TwoFactorLoginRequest completes a pending login. Exactly one of Code and
// BackupCode should be supplied.
type TwoFactorLoginRequest struct {
	TemporaryToken string `json:"temporaryToken"`
	Code           string `json:"code,omitempty"`
	BackupCode     string `json:"backupCode,omitempty"`
}

// LockoutStatus accompanies authentication failures so callers can surface
// remaining attempts or the lockout expiry. Never carries secrets.
type LockoutStatus struct {
	Locked            bool       `json:"locked"`
	RemainingAttempts int        `json:"remainingAttempts"`
	LockoutExpiresAt  *time.Time `json:"lockoutExpiresAt,omitempty"`
}
