package service

import (
	"context"
	"time"

	"edauth/internal/domain"
)

// LockoutService owns the append-only login-attempt ledger and derives
// lockout decisions from it. There is no stored counter: every answer is a
// pure function of the ledger and the current time.
type LockoutService interface {
	Record(ctx context.Context, email, ip string, success bool, reason string, userID *domain.UserID) error
	IsLocked(ctx context.Context, email string) (bool, error)
	RemainingAttempts(ctx context.Context, email string) (int, error)
	LockoutExpiry(ctx context.Context, email string) (*time.Time, error)

	// ClearFailedAttempts is a documented no-op: the ledger is never
	// rewritten, failures simply age out of the window.
	ClearFailedAttempts(ctx context.Context, email string) error

	RecentAttempts(ctx context.Context, email string, limit int) ([]*domain.LoginAttempt, error)
}
