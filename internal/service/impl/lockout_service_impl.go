package impl

import (
	"context"
	"log/slog"
	"time"

	"edauth/internal/domain"
	"edauth/internal/observability/metrics"
	"edauth/internal/store"

	"github.com/google/uuid"
)

// Lockout policy. Both windows roll against "now" at call time, so a lockout
// self-clears once enough time passes without a fresh failure.
const (
	MaxFailedAttempts = 5
	LockoutDuration   = 15 * time.Minute
	AttemptWindow     = 15 * time.Minute
)

type attemptStore interface {
	Create(ctx context.Context, a *domain.LoginAttempt) error
	ListFailedSince(ctx context.Context, email string, since time.Time) ([]*domain.LoginAttempt, error)
	CountFailedSince(ctx context.Context, email string, since time.Time) (int64, error)
	ListRecent(ctx context.Context, email string, limit int) ([]*domain.LoginAttempt, error)
}

type LockoutServiceImpl struct {
	attempts attemptStore
	now      func() time.Time
}

func NewLockoutServiceImpl(st *store.Store) *LockoutServiceImpl {
	return &LockoutServiceImpl{attempts: st.LoginAttempts(), now: time.Now}
}

// Record appends one immutable ledger entry. Unknown emails are recorded
// like any other; the ledger is the sole input to lockout decisions.
func (l *LockoutServiceImpl) Record(ctx context.Context, email, ip string, success bool, reason string, userID *domain.UserID) error {
	a := &domain.LoginAttempt{
		ID:            uuid.New(),
		Email:         email,
		IP:            ip,
		AttemptedAt:   l.now().UTC(),
		Success:       success,
		FailureReason: reason,
		UserID:        userID,
	}
	if err := l.attempts.Create(ctx, a); err != nil {
		return err
	}
	if !success {
		slog.Info("recorded failed login attempt", "email", email, "reason", reason)
	}
	return nil
}

// IsLocked derives the lockout decision: failed attempts inside the lockout
// window, counted when also inside the attempt window, reaching the limit.
func (l *LockoutServiceImpl) IsLocked(ctx context.Context, email string) (bool, error) {
	now := l.now()
	failed, err := l.attempts.ListFailedSince(ctx, email, now.Add(-LockoutDuration))
	if err != nil {
		return false, err
	}
	windowStart := now.Add(-AttemptWindow)
	count := 0
	for _, a := range failed {
		if a.AttemptedAt.After(windowStart) {
			count++
			if count >= MaxFailedAttempts {
				metrics.LockoutsTotal.WithLabelValues().Inc()
				slog.Warn("account locked", "email", email, "failed_attempts", count)
				return true, nil
			}
		}
	}
	return false, nil
}

func (l *LockoutServiceImpl) failedAttemptsInWindow(ctx context.Context, email string) (int, error) {
	n, err := l.attempts.CountFailedSince(ctx, email, l.now().Add(-AttemptWindow))
	return int(n), err
}

func (l *LockoutServiceImpl) RemainingAttempts(ctx context.Context, email string) (int, error) {
	failed, err := l.failedAttemptsInWindow(ctx, email)
	if err != nil {
		return 0, err
	}
	remaining := MaxFailedAttempts - failed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// LockoutExpiry is the earliest failure in the lockout window plus the
// lockout duration, or nil when not locked.
func (l *LockoutServiceImpl) LockoutExpiry(ctx context.Context, email string) (*time.Time, error) {
	locked, err := l.IsLocked(ctx, email)
	if err != nil || !locked {
		return nil, err
	}
	failed, err := l.attempts.ListFailedSince(ctx, email, l.now().Add(-LockoutDuration))
	if err != nil {
		return nil, err
	}
	if len(failed) == 0 {
		return nil, nil
	}
	earliest := failed[0].AttemptedAt
	for _, a := range failed[1:] {
		if a.AttemptedAt.Before(earliest) {
			earliest = a.AttemptedAt
		}
	}
	expiry := earliest.Add(LockoutDuration)
	return &expiry, nil
}

// ClearFailedAttempts is intentionally a no-op. The ledger is append-only
// and the lockout windows roll against the current time, so a successful
// login has nothing to reset; old failures simply age out. Do not replace
// this with a delete.
func (l *LockoutServiceImpl) ClearFailedAttempts(ctx context.Context, email string) error {
	return nil
}

func (l *LockoutServiceImpl) RecentAttempts(ctx context.Context, email string, limit int) ([]*domain.LoginAttempt, error) {
	return l.attempts.ListRecent(ctx, email, limit)
}
