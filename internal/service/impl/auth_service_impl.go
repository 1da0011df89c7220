package impl

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"edauth/internal/domain"
	"edauth/internal/dto"
	"edauth/internal/observability/metrics"
	"edauth/internal/service"
	"edauth/internal/store"

	"github.com/google/uuid"
)

type AuthServiceImpl struct {
	Store           authDataStore
	PasswordService service.PasswordService
	TokenService    service.TokenService
	TwoFactor       service.TwoFactorService
	Lockout         service.LockoutService
	now             func() time.Time
}

func NewAuthServiceImpl(
	st *store.Store,
	passwordService service.PasswordService,
	tokenService service.TokenService,
	twoFactor service.TwoFactorService,
	lockout service.LockoutService,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		Store:           authGormAdapter{store: st},
		PasswordService: passwordService,
		TokenService:    tokenService,
		TwoFactor:       twoFactor,
		Lockout:         lockout,
		now:             time.Now,
	}
}

type authDataStore interface {
	WithTx(ctx context.Context, fn func(tx authTx) error) error
}

type authTx interface {
	Users() authUserStore
	Credentials() authCredentialStore
}

type authUserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	SetLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
}

type authCredentialStore interface {
	GetPasswordByUserID(ctx context.Context, userID uuid.UUID) (*domain.PasswordCredential, error)
	UpsertPassword(ctx context.Context, c *domain.PasswordCredential) error
}

type authGormAdapter struct{ store *store.Store }

func (g authGormAdapter) WithTx(ctx context.Context, fn func(tx authTx) error) error {
	if g.store == nil {
		return errors.New("nil store")
	}
	return g.store.WithTx(ctx, func(tx *store.Store) error {
		return fn(authGormTx{tx: tx})
	})
}

type authGormTx struct{ tx *store.Store }

func (g authGormTx) Users() authUserStore             { return g.tx.Users() }
func (g authGormTx) Credentials() authCredentialStore { return g.tx.Credentials() }

// Login sequences lockout check, credential check, account status, and the
// two-factor branch. When a second factor is required it returns a
// 5-minute temporary token instead of a session.
func (a *AuthServiceImpl) Login(ctx context.Context, r dto.LoginRequest, ip, ua string) (*dto.LoginResult, error) {
	if r.Email == "" || r.Password == "" {
		return nil, ErrEmptyCredential
	}
	ip = normalizeIP(ip)

	locked, err := a.Lockout.IsLocked(ctx, r.Email)
	if err != nil {
		return nil, err
	}
	if locked {
		_ = a.Lockout.Record(ctx, r.Email, ip, false, domain.FailureAccountLocked, nil)
		metrics.AuthLoginsTotal.WithLabelValues("locked").Inc()
		return nil, domain.ErrAccountLocked
	}

	var user *domain.User
	err = a.Store.WithTx(ctx, func(tx authTx) error {
		u, err := tx.Users().GetByEmail(ctx, r.Email)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return a.failAttempt(ctx, r.Email, ip, domain.FailureUserNotFound, nil)
			}
			return err
		}

		cred, err := tx.Credentials().GetPasswordByUserID(ctx, u.ID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return a.failAttempt(ctx, r.Email, ip, domain.FailureInvalidPassword, &u.ID)
			}
			return err
		}

		rehashNeeded, ok := a.PasswordService.Verify(r.Password, cred)
		if !ok {
			return a.failAttempt(ctx, r.Email, ip, domain.FailureInvalidPassword, &u.ID)
		}

		if u.Status == domain.UserStatusSuspended {
			if err := a.Lockout.Record(ctx, r.Email, ip, false, domain.FailureAccountSuspended, &u.ID); err != nil {
				return err
			}
			return domain.ErrAccountSuspended
		}

		// Transparent rehash on policy upgrade, same transaction.
		if rehashNeeded {
			newHash, newSalt, newParamsJSON, algo, ver, err := a.PasswordService.Hash(r.Password)
			if err != nil {
				return err
			}
			cred.Algo = algo
			cred.Hash = newHash
			cred.Salt = newSalt
			cred.ParamsJSON = newParamsJSON
			cred.PasswordVer = ver
			if err := tx.Credentials().UpsertPassword(ctx, cred); err != nil {
				return err
			}
		}

		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	required, err := a.TwoFactor.RequireSecondFactor(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if required {
		tempToken, err := a.TokenService.IssueTwoFactorToken(user.ID)
		if err != nil {
			return nil, err
		}
		metrics.AuthLoginsTotal.WithLabelValues("second_factor_required").Inc()
		slog.Info("second factor required", "user_id", user.ID)
		return &dto.LoginResult{TwoFactorRequired: true, TemporaryToken: tempToken}, nil
	}

	return a.finishLogin(ctx, user, ip, ua)
}

// CompleteTwoFactor finishes a pending login with either a TOTP code or a
// backup code. A wrong code does not consume the temporary token; it stays
// usable for retries until its own expiry.
func (a *AuthServiceImpl) CompleteTwoFactor(ctx context.Context, r dto.TwoFactorLoginRequest, ip, ua string) (*dto.LoginResult, error) {
	ip = normalizeIP(ip)

	userID, err := a.TokenService.VerifyTwoFactorToken(r.TemporaryToken)
	if err != nil {
		return nil, err
	}

	var user *domain.User
	err = a.Store.WithTx(ctx, func(tx authTx) error {
		u, err := tx.Users().GetByID(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return domain.ErrInvalidToken
			}
			return err
		}
		if u.Status == domain.UserStatusSuspended {
			return domain.ErrAccountSuspended
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	verified := false
	switch {
	case r.Code != "":
		verified, err = a.TwoFactor.VerifyCode(ctx, userID, r.Code)
	case r.BackupCode != "":
		verified, err = a.TwoFactor.VerifyAndConsumeBackupCode(ctx, userID, r.BackupCode)
	}
	if err != nil {
		return nil, err
	}
	if !verified {
		_ = a.Lockout.Record(ctx, user.Email, ip, false, domain.FailureInvalid2FACode, &user.ID)
		metrics.AuthLoginsTotal.WithLabelValues("invalid_code").Inc()
		return nil, domain.ErrInvalidCode
	}

	return a.finishLogin(ctx, user, ip, ua)
}

func (a *AuthServiceImpl) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return a.TokenService.RevokeRefreshToken(ctx, refreshToken)
}

// LockoutStatus exposes the ledger-derived state for error responses and
// rate-limiting middleware.
func (a *AuthServiceImpl) LockoutStatus(ctx context.Context, email string) (*dto.LockoutStatus, error) {
	locked, err := a.Lockout.IsLocked(ctx, email)
	if err != nil {
		return nil, err
	}
	remaining, err := a.Lockout.RemainingAttempts(ctx, email)
	if err != nil {
		return nil, err
	}
	out := &dto.LockoutStatus{Locked: locked, RemainingAttempts: remaining}
	if locked {
		expiry, err := a.Lockout.LockoutExpiry(ctx, email)
		if err != nil {
			return nil, err
		}
		out.LockoutExpiresAt = expiry
	}
	return out, nil
}

// failAttempt records the failure and maps it to the uniform credential
// error, which intentionally does not reveal whether the email exists.
func (a *AuthServiceImpl) failAttempt(ctx context.Context, email, ip, reason string, userID *domain.UserID) error {
	if err := a.Lockout.Record(ctx, email, ip, false, reason, userID); err != nil {
		return err
	}
	metrics.AuthLoginsTotal.WithLabelValues("failure").Inc()
	return domain.ErrInvalidCredentials
}

func (a *AuthServiceImpl) finishLogin(ctx context.Context, user *domain.User, ip, ua string) (*dto.LoginResult, error) {
	tokens, err := a.TokenService.Issue(ctx, user, ip, ua)
	if err != nil {
		return nil, err
	}

	if err := a.Lockout.Record(ctx, user.Email, ip, true, "", &user.ID); err != nil {
		return nil, err
	}
	// By contract a no-op: failures age out of the window on their own.
	_ = a.Lockout.ClearFailedAttempts(ctx, user.Email)

	err = a.Store.WithTx(ctx, func(tx authTx) error {
		return tx.Users().SetLastLogin(ctx, user.ID, a.now().UTC())
	})
	if err != nil {
		return nil, err
	}

	metrics.AuthLoginsTotal.WithLabelValues("success").Inc()
	slog.Info("login succeeded", "user_id", user.ID)
	return &dto.LoginResult{Tokens: tokens}, nil
}
