package domain

import "time"

// Failure reasons recorded on login attempts.
const (
	FailureUserNotFound     = "USER_NOT_FOUND"
	FailureInvalidPassword  = "INVALID_PASSWORD"
	FailureAccountLocked    = "ACCOUNT_LOCKED"
	FailureAccountSuspended = "ACCOUNT_SUSPENDED"
	FailureInvalid2FACode   = "INVALID_2FA_CODE"
)

// LoginAttempt is one append-only ledger entry. Rows are never mutated;
// lockout state is always derived from this history, so there is no counter
// to race on. Unknown emails are recorded like any other.
type LoginAttempt struct {
	ID            CredentialID `gorm:"type:uuid;primaryKey" db:"id"`
	Email         string       `gorm:"type:citext;index:ix_login_attempts_email_time,priority:1" db:"email"`
	IP            string       `gorm:"type:inet" db:"ip"`
	AttemptedAt   time.Time    `gorm:"not null;index:ix_login_attempts_email_time,priority:2" db:"attempted_at"`
	Success       bool         `gorm:"not null" db:"success"`
	FailureReason string       `gorm:"type:text" db:"failure_reason"`
	UserID        *UserID      `gorm:"type:uuid" db:"user_id"`
}

func (LoginAttempt) TableName() string { return "login_attempts" }
