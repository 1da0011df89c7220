package store

import (
	"context"
	"time"

	"edauth/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BackupCodeStore struct{ db *gorm.DB }

func (s *Store) BackupCodes() *BackupCodeStore { return &BackupCodeStore{s.DB} }

func (bs *BackupCodeStore) CreateBatch(ctx context.Context, codes []*domain.BackupCode) error {
	if len(codes) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, c := range codes {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
	}
	return bs.db.WithContext(ctx).Create(codes).Error
}

func (bs *BackupCodeStore) ListUnused(ctx context.Context, userID uuid.UUID) ([]*domain.BackupCode, error) {
	var out []*domain.BackupCode
	err := bs.db.WithContext(ctx).
		Where("user_id = ? AND used = false", userID).
		Order("created_at").
		Find(&out).Error
	return out, err
}

func (bs *BackupCodeStore) CountUnused(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := bs.db.WithContext(ctx).Model(&domain.BackupCode{}).
		Where("user_id = ? AND used = false", userID).
		Count(&n).Error
	return n, err
}

// MarkUsed consumes a single code via a conditional update. The used = false
// guard makes consumption at-most-once: of two concurrent callers holding the
// same matching row, exactly one sees RowsAffected == 1.
func (bs *BackupCodeStore) MarkUsed(ctx context.Context, codeID uuid.UUID, at time.Time) (bool, error) {
	tx := bs.db.WithContext(ctx).Model(&domain.BackupCode{}).
		Where("id = ? AND used = false", codeID).
		Updates(map[string]interface{}{"used": true, "used_at": at})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (bs *BackupCodeStore) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	return bs.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&domain.BackupCode{}).Error
}
