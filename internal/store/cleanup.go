package store

import (
	"context"
	"time"
)

// PurgeLoginAttempts deletes ledger rows older than the retention horizon,
// in its own transaction so the login path is never blocked on it.
func (s *Store) PurgeLoginAttempts(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	var deleted int64
	err := s.WithTx(ctx, func(tx *Store) error {
		n, err := tx.LoginAttempts().DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	return deleted, err
}
