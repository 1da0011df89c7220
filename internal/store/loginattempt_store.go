package store

import (
	"context"
	"time"

	"edauth/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LoginAttemptStore struct{ db *gorm.DB }

func (s *Store) LoginAttempts() *LoginAttemptStore { return &LoginAttemptStore{s.DB} }

// Create appends one ledger row. There is no update path for this table.
func (as *LoginAttemptStore) Create(ctx context.Context, a *domain.LoginAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now().UTC()
	}
	return as.db.WithContext(ctx).Create(a).Error
}

func (as *LoginAttemptStore) ListFailedSince(ctx context.Context, email string, since time.Time) ([]*domain.LoginAttempt, error) {
	var out []*domain.LoginAttempt
	err := as.db.WithContext(ctx).
		Where("email = ? AND success = false AND attempted_at > ?", email, since).
		Order("attempted_at").
		Find(&out).Error
	return out, err
}

func (as *LoginAttemptStore) CountFailedSince(ctx context.Context, email string, since time.Time) (int64, error) {
	var n int64
	err := as.db.WithContext(ctx).Model(&domain.LoginAttempt{}).
		Where("email = ? AND success = false AND attempted_at > ?", email, since).
		Count(&n).Error
	return n, err
}

func (as *LoginAttemptStore) ListRecent(ctx context.Context, email string, limit int) ([]*domain.LoginAttempt, error) {
	var out []*domain.LoginAttempt
	err := as.db.WithContext(ctx).
		Where("email = ?", email).
		Order("attempted_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteOlderThan purges aged rows for the retention job. The horizon is far
// outside any lockout window, so recent rows are never touched.
func (as *LoginAttemptStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx := as.db.WithContext(ctx).
		Where("attempted_at < ?", cutoff).
		Delete(&domain.LoginAttempt{})
	return tx.RowsAffected, tx.Error
}
