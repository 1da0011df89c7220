package domain

import "time"

// TwoFactorSecret is the single per-user TOTP record. At most one row exists
// per user; re-running setup before enabling overwrites the secret, and
// disabling deletes the row outright.
type TwoFactorSecret struct {
	UserID    UserID     `gorm:"type:uuid;primaryKey" db:"user_id"`
	Secret    []byte     `gorm:"type:bytea;not null" db:"secret"`
	Enabled   bool       `gorm:"not null;default:false" db:"enabled"`
	EnabledAt *time.Time `db:"enabled_at"`
	CreatedAt time.Time  `gorm:"not null" db:"created_at"`
	UpdatedAt time.Time  `gorm:"not null" db:"updated_at"`
}

func (TwoFactorSecret) TableName() string { return "two_factor_secrets" }

// BackupCode is one single-use recovery credential. Only the argon2id hash is
// stored; the plaintext digits are shown to the user once at issuance.
type BackupCode struct {
	ID         CredentialID `gorm:"type:uuid;primaryKey" db:"id"`
	UserID     UserID       `gorm:"type:uuid;index:ix_backup_codes_user" db:"user_id"`
	Algo       string       `gorm:"type:text;not null" db:"algo"`
	Hash       []byte       `gorm:"type:bytea;not null" db:"hash"`
	Salt       []byte       `gorm:"type:bytea;not null" db:"salt"`
	ParamsJSON []byte       `gorm:"type:jsonb;not null" db:"params_json"`
	HashVer    int          `gorm:"not null;default:1" db:"hash_ver"`
	Used       bool         `gorm:"not null;default:false" db:"used"`
	UsedAt     *time.Time   `db:"used_at"`
	CreatedAt  time.Time    `gorm:"not null" db:"created_at"`
}

func (BackupCode) TableName() string { return "backup_codes" }

// Accessors satisfying the credential shape PasswordService.Verify expects.
func (c *BackupCode) GetAlgo() string       { return c.Algo }
func (c *BackupCode) GetHash() []byte       { return c.Hash }
func (c *BackupCode) GetSalt() []byte       { return c.Salt }
func (c *BackupCode) GetParamsJSON() []byte { return c.ParamsJSON }
func (c *BackupCode) GetPasswordVer() int   { return c.HashVer }

// EnrollmentState is the tagged view of a user's two-factor enrollment,
// derived from the presence and flags of the secret row so that states like
// "enabled with no secret" cannot be represented.
type EnrollmentState int

const (
	EnrollmentDisabled EnrollmentState = iota
	EnrollmentPending
	EnrollmentEnabled
)

func (s EnrollmentState) String() string {
	switch s {
	case EnrollmentPending:
		return "pending"
	case EnrollmentEnabled:
		return "enabled"
	default:
		return "disabled"
	}
}

// Enrollment classifies the nullable secret row into its state.
func Enrollment(sec *TwoFactorSecret) EnrollmentState {
	switch {
	case sec == nil:
		return EnrollmentDisabled
	case sec.Enabled:
		return EnrollmentEnabled
	default:
		return EnrollmentPending
	}
}
