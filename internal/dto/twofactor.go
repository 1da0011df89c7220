package dto

import "time"

// TwoFactorSetupResponse is the only place the raw secret and plaintext
// backup codes ever leave the service.
type TwoFactorSetupResponse struct {
	Secret      string   `json:"secret"`
	QRCodeURI   string   `json:"qrCodeUri"`
	BackupCodes []string `json:"backupCodes"`
	Enabled     bool     `json:"enabled"`
}

type TwoFactorEnableRequest struct {
	Code string `json:"code"`
}

// TwoFactorDisableRequest needs exactly one of the two proofs.
type TwoFactorDisableRequest struct {
	Code       string `json:"code,omitempty"`
	BackupCode string `json:"backupCode,omitempty"`
}

type TwoFactorStatusResponse struct {
	Enabled              bool       `json:"enabled"`
	EnabledAt            *time.Time `json:"enabledAt,omitempty"`
	RemainingBackupCodes int64      `json:"remainingBackupCodes"`
}

type BackupCodesResponse struct {
	Codes []string `json:"codes"`
	Count int      `json:"count"`
}
