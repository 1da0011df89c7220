package impl

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"edauth/internal/domain"
	"edauth/internal/dto"
	"edauth/internal/observability/metrics"
	"edauth/internal/otp"
	"edauth/internal/service"
	"edauth/internal/store"

	"github.com/google/uuid"
)

const (
	backupCodeCount  = 10
	backupCodeDigits = 8
)

type TwoFactorServiceImpl struct {
	Store           tfDataStore
	PasswordService service.PasswordService
	Issuer          string
	now             func() time.Time
}

func NewTwoFactorServiceImpl(st *store.Store, passwordService service.PasswordService, issuer string) *TwoFactorServiceImpl {
	return &TwoFactorServiceImpl{
		Store:           tfGormAdapter{store: st},
		PasswordService: passwordService,
		Issuer:          issuer,
		now:             time.Now,
	}
}

type tfDataStore interface {
	WithTx(ctx context.Context, fn func(tx tfTx) error) error
}

type tfTx interface {
	Users() tfUserStore
	TwoFactor() tfSecretStore
	BackupCodes() tfBackupCodeStore
}

type tfUserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

type tfSecretStore interface {
	UpsertSecret(ctx context.Context, sec *domain.TwoFactorSecret) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.TwoFactorSecret, error)
	Enable(ctx context.Context, userID uuid.UUID, at time.Time) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
}

type tfBackupCodeStore interface {
	CreateBatch(ctx context.Context, codes []*domain.BackupCode) error
	ListUnused(ctx context.Context, userID uuid.UUID) ([]*domain.BackupCode, error)
	CountUnused(ctx context.Context, userID uuid.UUID) (int64, error)
	MarkUsed(ctx context.Context, codeID uuid.UUID, at time.Time) (bool, error)
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
}

type tfGormAdapter struct{ store *store.Store }

func (g tfGormAdapter) WithTx(ctx context.Context, fn func(tx tfTx) error) error {
	if g.store == nil {
		return errors.New("nil store")
	}
	return g.store.WithTx(ctx, func(tx *store.Store) error {
		return fn(tfGormTx{tx: tx})
	})
}

type tfGormTx struct{ tx *store.Store }

func (g tfGormTx) Users() tfUserStore             { return g.tx.Users() }
func (g tfGormTx) TwoFactor() tfSecretStore       { return g.tx.TwoFactor() }
func (g tfGormTx) BackupCodes() tfBackupCodeStore { return g.tx.BackupCodes() }

// Setup generates a fresh secret and backup-code batch and stores them
// pending. Running it again before enabling replaces both. This is the only
// call that returns the raw secret and plaintext codes.
func (s *TwoFactorServiceImpl) Setup(ctx context.Context, userID domain.UserID) (*dto.TwoFactorSetupResponse, error) {
	var out *dto.TwoFactorSetupResponse

	err := s.Store.WithTx(ctx, func(tx tfTx) error {
		user, err := tx.Users().GetByID(ctx, userID)
		if err != nil {
			return err
		}

		existing, err := tx.TwoFactor().GetByUserID(ctx, userID)
		if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
			return err
		}
		if domain.Enrollment(existing) == domain.EnrollmentEnabled {
			return domain.ErrAlreadyEnabled
		}

		secret, err := otp.GenerateSecret()
		if err != nil {
			return err
		}
		if err := tx.TwoFactor().UpsertSecret(ctx, &domain.TwoFactorSecret{
			UserID:    userID,
			Secret:    secret,
			Enabled:   false,
			EnabledAt: nil,
		}); err != nil {
			return err
		}

		codes, err := s.issueBackupCodes(ctx, tx, userID)
		if err != nil {
			return err
		}

		out = &dto.TwoFactorSetupResponse{
			Secret:      otp.Base32Encode(secret),
			QRCodeURI:   otp.ProvisionURI(s.Issuer, user.Email, secret),
			BackupCodes: codes,
			Enabled:     false,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("two-factor setup issued", "user_id", userID)
	return out, nil
}

// ConfirmEnable verifies the first code from the authenticator and flips
// the pending secret to enabled. A failed code leaves state untouched.
func (s *TwoFactorServiceImpl) ConfirmEnable(ctx context.Context, userID domain.UserID, code string) error {
	err := s.Store.WithTx(ctx, func(tx tfTx) error {
		sec, err := tx.TwoFactor().GetByUserID(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return domain.ErrNotEnabled
			}
			return err
		}
		switch domain.Enrollment(sec) {
		case domain.EnrollmentEnabled:
			return domain.ErrAlreadyEnabled
		case domain.EnrollmentPending:
			// proceed
		default:
			return domain.ErrNotEnabled
		}

		if !otp.Verify(sec.Secret, code, s.now()) {
			metrics.TwoFactorVerificationsTotal.WithLabelValues("totp", "failure").Inc()
			return domain.ErrInvalidCode
		}
		metrics.TwoFactorVerificationsTotal.WithLabelValues("totp", "success").Inc()

		return tx.TwoFactor().Enable(ctx, userID, s.now().UTC())
	})
	if err != nil {
		return err
	}

	slog.Info("two-factor enabled", "user_id", userID)
	return nil
}

// Disable requires one valid proof (TOTP code or backup code), then deletes
// the secret and every backup code in the same transaction.
func (s *TwoFactorServiceImpl) Disable(ctx context.Context, userID domain.UserID, code, backupCode string) error {
	err := s.Store.WithTx(ctx, func(tx tfTx) error {
		sec, err := tx.TwoFactor().GetByUserID(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return domain.ErrNotEnabled
			}
			return err
		}
		if domain.Enrollment(sec) != domain.EnrollmentEnabled {
			return domain.ErrNotEnabled
		}

		verified := false
		switch {
		case code != "":
			verified = otp.Verify(sec.Secret, code, s.now())
		case backupCode != "":
			verified, err = s.consumeBackupCode(ctx, tx, userID, backupCode)
			if err != nil {
				return err
			}
		}
		if !verified {
			// Uniform failure: callers cannot tell which factor was wrong.
			return domain.ErrInvalidCode
		}

		if err := tx.TwoFactor().DeleteByUserID(ctx, userID); err != nil {
			return err
		}
		return tx.BackupCodes().DeleteByUserID(ctx, userID)
	})
	if err != nil {
		return err
	}

	slog.Info("two-factor disabled", "user_id", userID)
	return nil
}

// Status is a pure read.
func (s *TwoFactorServiceImpl) Status(ctx context.Context, userID domain.UserID) (*dto.TwoFactorStatusResponse, error) {
	var out dto.TwoFactorStatusResponse

	err := s.Store.WithTx(ctx, func(tx tfTx) error {
		sec, err := tx.TwoFactor().GetByUserID(ctx, userID)
		if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
			return err
		}
		if domain.Enrollment(sec) != domain.EnrollmentEnabled {
			out = dto.TwoFactorStatusResponse{Enabled: false}
			return nil
		}
		remaining, err := tx.BackupCodes().CountUnused(ctx, userID)
		if err != nil {
			return err
		}
		out = dto.TwoFactorStatusResponse{
			Enabled:              true,
			EnabledAt:            sec.EnabledAt,
			RemainingBackupCodes: remaining,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RegenerateBackupCodes invalidates every previous code and issues a fresh
// batch, all-or-nothing.
func (s *TwoFactorServiceImpl) RegenerateBackupCodes(ctx context.Context, userID domain.UserID) (*dto.BackupCodesResponse, error) {
	var out *dto.BackupCodesResponse

	err := s.Store.WithTx(ctx, func(tx tfTx) error {
		sec, err := tx.TwoFactor().GetByUserID(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return domain.ErrNotEnabled
			}
			return err
		}
		if domain.Enrollment(sec) != domain.EnrollmentEnabled {
			return domain.ErrNotEnabled
		}

		codes, err := s.issueBackupCodes(ctx, tx, userID)
		if err != nil {
			return err
		}
		out = &dto.BackupCodesResponse{Codes: codes, Count: len(codes)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("backup codes regenerated", "user_id", userID)
	return out, nil
}

func (s *TwoFactorServiceImpl) VerifyCode(ctx context.Context, userID domain.UserID, code string) (bool, error) {
	var ok bool
	err := s.Store.WithTx(ctx, func(tx tfTx) error {
		sec, err := tx.TwoFactor().GetByUserID(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return domain.ErrNotEnabled
			}
			return err
		}
		if domain.Enrollment(sec) != domain.EnrollmentEnabled {
			return domain.ErrNotEnabled
		}
		ok = otp.Verify(sec.Secret, code, s.now())
		return nil
	})
	if err != nil {
		return false, err
	}
	result := "failure"
	if ok {
		result = "success"
	}
	metrics.TwoFactorVerificationsTotal.WithLabelValues("totp", result).Inc()
	return ok, nil
}

func (s *TwoFactorServiceImpl) VerifyAndConsumeBackupCode(ctx context.Context, userID domain.UserID, code string) (bool, error) {
	var ok bool
	err := s.Store.WithTx(ctx, func(tx tfTx) error {
		var err error
		ok, err = s.consumeBackupCode(ctx, tx, userID, code)
		return err
	})
	if err != nil {
		return false, err
	}
	result := "failure"
	if ok {
		result = "success"
	}
	metrics.TwoFactorVerificationsTotal.WithLabelValues("backup", result).Inc()
	return ok, nil
}

func (s *TwoFactorServiceImpl) RequireSecondFactor(ctx context.Context, userID domain.UserID) (bool, error) {
	var required bool
	err := s.Store.WithTx(ctx, func(tx tfTx) error {
		sec, err := tx.TwoFactor().GetByUserID(ctx, userID)
		if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
			return err
		}
		required = domain.Enrollment(sec) == domain.EnrollmentEnabled
		return nil
	})
	return required, err
}

// consumeBackupCode scans the unused rows for a hash match and burns the
// winning row with a conditional update. Losing a race on the row counts as
// no match, so one code can never be consumed twice.
func (s *TwoFactorServiceImpl) consumeBackupCode(ctx context.Context, tx tfTx, userID domain.UserID, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	unused, err := tx.BackupCodes().ListUnused(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, row := range unused {
		if _, match := s.PasswordService.Verify(code, row); !match {
			continue
		}
		won, err := tx.BackupCodes().MarkUsed(ctx, row.ID, s.now().UTC())
		if err != nil {
			return false, err
		}
		if won {
			slog.Info("backup code consumed", "user_id", userID)
		}
		return won, nil
	}
	return false, nil
}

// issueBackupCodes replaces the user's batch inside the caller's
// transaction: delete everything, insert the new hashes. The plaintext
// digits exist only in the returned slice.
func (s *TwoFactorServiceImpl) issueBackupCodes(ctx context.Context, tx tfTx, userID domain.UserID) ([]string, error) {
	if err := tx.BackupCodes().DeleteByUserID(ctx, userID); err != nil {
		return nil, err
	}

	codes := make([]string, 0, backupCodeCount)
	rows := make([]*domain.BackupCode, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		code, err := randomDigits(backupCodeDigits)
		if err != nil {
			return nil, err
		}
		hash, salt, paramsJSON, algo, ver, err := s.PasswordService.Hash(code)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
		rows = append(rows, &domain.BackupCode{
			ID:         uuid.New(),
			UserID:     userID,
			Algo:       algo,
			Hash:       hash,
			Salt:       salt,
			ParamsJSON: paramsJSON,
			HashVer:    ver,
			Used:       false,
		})
	}

	if err := tx.BackupCodes().CreateBatch(ctx, rows); err != nil {
		return nil, err
	}
	return codes, nil
}

func randomDigits(n int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < n; i++ {
		max.Mul(max, big.NewInt(10))
	}
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
