package store

import (
	"context"
	"time"

	"edauth/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TwoFactorStore struct{ db *gorm.DB }

func (s *Store) TwoFactor() *TwoFactorStore { return &TwoFactorStore{s.DB} }

// UpsertSecret writes the pending secret row, replacing any previous secret
// for the user. Re-running setup before enabling lands here.
func (ts *TwoFactorStore) UpsertSecret(ctx context.Context, sec *domain.TwoFactorSecret) error {
	now := time.Now().UTC()
	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = now
	}
	sec.UpdatedAt = now

	return ts.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"secret", "enabled", "enabled_at", "updated_at"}),
	}).Create(sec).Error
}

func (ts *TwoFactorStore) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.TwoFactorSecret, error) {
	var out domain.TwoFactorSecret
	if err := ts.db.WithContext(ctx).First(&out, "user_id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &out, nil
}

// Enable flips the pending row to enabled and stamps enabled_at. The
// enabled = false guard means a concurrent confirm cannot enable twice.
func (ts *TwoFactorStore) Enable(ctx context.Context, userID uuid.UUID, at time.Time) error {
	tx := ts.db.WithContext(ctx).Model(&domain.TwoFactorSecret{}).
		Where("user_id = ? AND enabled = false", userID).
		Updates(map[string]interface{}{"enabled": true, "enabled_at": at, "updated_at": at})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (ts *TwoFactorStore) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	return ts.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&domain.TwoFactorSecret{}).Error
}
