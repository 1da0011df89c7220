package service

import (
	"context"

	"edauth/internal/domain"
	"edauth/internal/dto"
)

// TwoFactorService drives TOTP enrollment (disabled → pending → enabled →
// disabled) and backup-code issuance and consumption.
type TwoFactorService interface {
	Setup(ctx context.Context, userID domain.UserID) (*dto.TwoFactorSetupResponse, error)
	ConfirmEnable(ctx context.Context, userID domain.UserID, code string) error
	Disable(ctx context.Context, userID domain.UserID, code, backupCode string) error
	Status(ctx context.Context, userID domain.UserID) (*dto.TwoFactorStatusResponse, error)
	RegenerateBackupCodes(ctx context.Context, userID domain.UserID) (*dto.BackupCodesResponse, error)

	// VerifyCode checks a TOTP code against the user's enabled secret.
	VerifyCode(ctx context.Context, userID domain.UserID, code string) (bool, error)
	// VerifyAndConsumeBackupCode burns a single matching unused code.
	// At most one concurrent caller can succeed per code.
	VerifyAndConsumeBackupCode(ctx context.Context, userID domain.UserID, code string) (bool, error)
	// RequireSecondFactor reports whether a login for this user must present
	// a second factor.
	RequireSecondFactor(ctx context.Context, userID domain.UserID) (bool, error)
}
