package impl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"edauth/internal/domain"
	"edauth/internal/dto"
	"edauth/internal/store"

	"github.com/google/uuid"
)

type stubPasswordService struct {
	hashFunc   func(password string) (hash, salt, paramsJSON []byte, algo string, ver int, err error)
	verifyFunc func(password string, cred interface {
		GetAlgo() string
		GetHash() []byte
		GetSalt() []byte
		GetParamsJSON() []byte
		GetPasswordVer() int
	}) (rehashNeeded bool, ok bool)

	hashCalls   []string
	verifyCalls []string
}

func (s *stubPasswordService) Hash(password string) (hash, salt, paramsJSON []byte, algo string, ver int, err error) {
	s.hashCalls = append(s.hashCalls, password)
	if s.hashFunc != nil {
		return s.hashFunc(password)
	}
	return nil, nil, nil, "", 0, nil
}

func (s *stubPasswordService) Verify(password string, cred interface {
	GetAlgo() string
	GetHash() []byte
	GetSalt() []byte
	GetParamsJSON() []byte
	GetPasswordVer() int
},
) (rehashNeeded bool, ok bool) {
	s.verifyCalls = append(s.verifyCalls, password)
	if s.verifyFunc != nil {
		return s.verifyFunc(password, cred)
	}
	return false, false
}

type stubTokenService struct {
	issueResponse *dto.TokenResponse
	issueErr      error
	tempToken     string
	verifyUserID  uuid.UUID
	verifyErr     error

	issueCalls []uuid.UUID
	tempIssued []uuid.UUID
	revoked    []string
}

func (s *stubTokenService) Issue(ctx context.Context, user *domain.User, ip, ua string) (*dto.TokenResponse, error) {
	s.issueCalls = append(s.issueCalls, user.ID)
	if s.issueErr != nil {
		return nil, s.issueErr
	}
	return s.issueResponse, nil
}

func (s *stubTokenService) Refresh(ctx context.Context, refreshToken string, ip, ua string) (*dto.TokenResponse, error) {
	return nil, errors.New("not implemented")
}

func (s *stubTokenService) RevokeSession(ctx context.Context, sessionID domain.SessionID) error {
	return errors.New("not implemented")
}

func (s *stubTokenService) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	s.revoked = append(s.revoked, refreshToken)
	return nil
}

func (s *stubTokenService) VerifyAccess(token string) (domain.UserID, error) {
	return uuid.Nil, errors.New("not implemented")
}

func (s *stubTokenService) IssueTwoFactorToken(userID domain.UserID) (string, error) {
	s.tempIssued = append(s.tempIssued, userID)
	return s.tempToken, nil
}

func (s *stubTokenService) VerifyTwoFactorToken(token string) (domain.UserID, error) {
	if s.verifyErr != nil {
		return uuid.Nil, s.verifyErr
	}
	if token != s.tempToken {
		return uuid.Nil, domain.ErrInvalidToken
	}
	return s.verifyUserID, nil
}

type stubTwoFactorService struct {
	required bool
	codeOK   bool
	backupOK bool

	codeCalls   []string
	backupCalls []string
}

func (s *stubTwoFactorService) Setup(ctx context.Context, userID domain.UserID) (*dto.TwoFactorSetupResponse, error) {
	return nil, errors.New("not implemented")
}

func (s *stubTwoFactorService) ConfirmEnable(ctx context.Context, userID domain.UserID, code string) error {
	return errors.New("not implemented")
}

func (s *stubTwoFactorService) Disable(ctx context.Context, userID domain.UserID, code, backupCode string) error {
	return errors.New("not implemented")
}

func (s *stubTwoFactorService) Status(ctx context.Context, userID domain.UserID) (*dto.TwoFactorStatusResponse, error) {
	return nil, errors.New("not implemented")
}

func (s *stubTwoFactorService) RegenerateBackupCodes(ctx context.Context, userID domain.UserID) (*dto.BackupCodesResponse, error) {
	return nil, errors.New("not implemented")
}

func (s *stubTwoFactorService) VerifyCode(ctx context.Context, userID domain.UserID, code string) (bool, error) {
	s.codeCalls = append(s.codeCalls, code)
	return s.codeOK, nil
}

func (s *stubTwoFactorService) VerifyAndConsumeBackupCode(ctx context.Context, userID domain.UserID, code string) (bool, error) {
	s.backupCalls = append(s.backupCalls, code)
	return s.backupOK, nil
}

func (s *stubTwoFactorService) RequireSecondFactor(ctx context.Context, userID domain.UserID) (bool, error) {
	return s.required, nil
}

type authMemoryStore struct {
	mu          sync.Mutex
	users       map[uuid.UUID]*domain.User
	emailIndex  map[string]uuid.UUID
	credentials map[uuid.UUID]*domain.PasswordCredential
}

type authSnapshot struct {
	users       map[uuid.UUID]*domain.User
	credentials map[uuid.UUID]*domain.PasswordCredential
}

func newAuthMemoryStore() *authMemoryStore {
	return &authMemoryStore{
		users:       make(map[uuid.UUID]*domain.User),
		emailIndex:  make(map[string]uuid.UUID),
		credentials: make(map[uuid.UUID]*domain.PasswordCredential),
	}
}

func (m *authMemoryStore) WithTx(ctx context.Context, fn func(tx authTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&authMemoryTx{store: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

func (m *authMemoryStore) snapshot() authSnapshot {
	users := make(map[uuid.UUID]*domain.User, len(m.users))
	for id, user := range m.users {
		copy := *user
		users[id] = &copy
	}
	creds := make(map[uuid.UUID]*domain.PasswordCredential, len(m.credentials))
	for id, cred := range m.credentials {
		copy := *cred
		creds[id] = &copy
	}
	return authSnapshot{users: users, credentials: creds}
}

func (m *authMemoryStore) restore(s authSnapshot) {
	m.users = s.users
	m.credentials = s.credentials
}

func (m *authMemoryStore) addUser(u *domain.User, cred *domain.PasswordCredential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userCopy := *u
	m.users[u.ID] = &userCopy
	m.emailIndex[u.Email] = u.ID
	if cred != nil {
		credCopy := *cred
		m.credentials[u.ID] = &credCopy
	}
}

func (m *authMemoryStore) userByID(id uuid.UUID) (*domain.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, false
	}
	copy := *u
	return &copy, true
}

func (m *authMemoryStore) credentialByUserID(id uuid.UUID) (*domain.PasswordCredential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[id]
	if !ok {
		return nil, false
	}
	copy := *c
	return &copy, true
}

type authMemoryTx struct {
	store *authMemoryStore
}

func (t *authMemoryTx) Users() authUserStore { return &authMemoryUserStore{store: t.store} }

func (t *authMemoryTx) Credentials() authCredentialStore {
	return &authMemoryCredentialStore{store: t.store}
}

type authMemoryUserStore struct {
	store *authMemoryStore
}

func (u *authMemoryUserStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	usr, ok := u.store.users[id]
	if !ok {
		return nil, store.ErrRecordNotFound
	}
	copy := *usr
	return &copy, nil
}

func (u *authMemoryUserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	id, ok := u.store.emailIndex[email]
	if !ok {
		return nil, store.ErrRecordNotFound
	}
	copy := *u.store.users[id]
	return &copy, nil
}

func (u *authMemoryUserStore) SetLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	usr, ok := u.store.users[userID]
	if !ok {
		return store.ErrRecordNotFound
	}
	usr.LastLoginAt = &at
	return nil
}

type authMemoryCredentialStore struct {
	store *authMemoryStore
}

func (c *authMemoryCredentialStore) GetPasswordByUserID(ctx context.Context, userID uuid.UUID) (*domain.PasswordCredential, error) {
	cred, ok := c.store.credentials[userID]
	if !ok {
		return nil, store.ErrRecordNotFound
	}
	copy := *cred
	return &copy, nil
}

func (c *authMemoryCredentialStore) UpsertPassword(ctx context.Context, cred *domain.PasswordCredential) error {
	copy := *cred
	c.store.credentials[cred.UserID] = &copy
	return nil
}

type authFixture struct {
	store    *authMemoryStore
	attempts *memoryAttemptStore
	ps       *stubPasswordService
	ts       *stubTokenService
	tf       *stubTwoFactorService
	svc      *AuthServiceImpl
	at       time.Time
}

func newAuthFixture() *authFixture {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := newAuthMemoryStore()
	attempts := &memoryAttemptStore{}
	ps := &stubPasswordService{}
	ts := &stubTokenService{
		issueResponse: &dto.TokenResponse{AccessToken: "access", RefreshToken: "refresh", ExpiresIn: 3600},
		tempToken:     "temp-token",
	}
	tf := &stubTwoFactorService{}
	svc := &AuthServiceImpl{
		Store:           store,
		PasswordService: ps,
		TokenService:    ts,
		TwoFactor:       tf,
		Lockout:         newLockoutAt(attempts, at),
		now:             func() time.Time { return at },
	}
	return &authFixture{store: store, attempts: attempts, ps: ps, ts: ts, tf: tf, svc: svc, at: at}
}

func (f *authFixture) seedUser(email string, status domain.UserStatus) *domain.User {
	user := &domain.User{
		ID:     uuid.New(),
		Email:  email,
		Status: status,
	}
	cred := &domain.PasswordCredential{
		ID:          uuid.New(),
		UserID:      user.ID,
		Algo:        "argon2id",
		Hash:        []byte("stored-hash"),
		Salt:        []byte("stored-salt"),
		ParamsJSON:  []byte("{}"),
		PasswordVer: 1,
	}
	f.store.addUser(user, cred)
	return user
}

func (f *authFixture) acceptPassword(want string) {
	f.ps.verifyFunc = func(password string, cred interface {
		GetAlgo() string
		GetHash() []byte
		GetSalt() []byte
		GetParamsJSON() []byte
		GetPasswordVer() int
	},
	) (bool, bool) {
		return false, password == want
	}
}

func (f *authFixture) lastAttempt(t *testing.T, email string) *domain.LoginAttempt {
	t.Helper()
	rows, err := f.attempts.ListRecent(context.Background(), email, 1)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(rows) == 0 {
		t.Fatalf("no attempts recorded for %s", email)
	}
	return rows[0]
}

func TestLoginSuccess(t *testing.T) {
	f := newAuthFixture()
	user := f.seedUser("bob@example.com", domain.UserStatusActive)
	f.acceptPassword("super-secret")
	ctx := context.Background()

	resp, err := f.svc.Login(ctx, dto.LoginRequest{Email: user.Email, Password: "super-secret"}, "10.0.0.1:5050", "unit-test")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.TwoFactorRequired {
		t.Fatalf("second factor demanded without enrollment")
	}
	if resp.Tokens == nil || resp.Tokens.AccessToken != "access" {
		t.Fatalf("unexpected tokens: %+v", resp.Tokens)
	}
	if len(f.ts.issueCalls) != 1 || f.ts.issueCalls[0] != user.ID {
		t.Fatalf("token issue calls: %+v", f.ts.issueCalls)
	}

	a := f.lastAttempt(t, user.Email)
	if !a.Success {
		t.Fatalf("success not recorded in the ledger: %+v", a)
	}
	if a.IP != "10.0.0.1" {
		t.Fatalf("ledger IP = %q, want the port stripped", a.IP)
	}
	stored, _ := f.store.userByID(user.ID)
	if stored.LastLoginAt == nil || !stored.LastLoginAt.Equal(f.at) {
		t.Fatalf("last login not stamped: %v", stored.LastLoginAt)
	}
}

func TestLoginEmptyCredentials(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	for _, req := range []dto.LoginRequest{
		{Email: "", Password: "pw"},
		{Email: "bob@example.com", Password: ""},
	} {
		if _, err := f.svc.Login(ctx, req, "", ""); !errors.Is(err, ErrEmptyCredential) {
			t.Fatalf("expected ErrEmptyCredential for %+v, got %v", req, err)
		}
	}
	if f.attempts.count() != 0 {
		t.Fatalf("empty requests must not reach the ledger")
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	_, err := f.svc.Login(ctx, dto.LoginRequest{Email: "ghost@example.com", Password: "pw"}, "10.0.0.1", "unit-test")
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	a := f.lastAttempt(t, "ghost@example.com")
	if a.Success || a.FailureReason != domain.FailureUserNotFound {
		t.Fatalf("unexpected ledger row: %+v", a)
	}
	if a.UserID != nil {
		t.Fatalf("unknown email must not carry a user id")
	}
}

func TestLoginWrongPasswordThenLockout(t *testing.T) {
	f := newAuthFixture()
	user := f.seedUser("bob@example.com", domain.UserStatusActive)
	f.acceptPassword("right")
	ctx := context.Background()

	for i := 0; i < MaxFailedAttempts; i++ {
		_, err := f.svc.Login(ctx, dto.LoginRequest{Email: user.Email, Password: "wrong"}, "10.0.0.1", "unit-test")
		if !errors.Is(err, domain.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	a := f.lastAttempt(t, user.Email)
	if a.FailureReason != domain.FailureInvalidPassword || a.UserID == nil || *a.UserID != user.ID {
		t.Fatalf("unexpected ledger row: %+v", a)
	}

	// The correct password no longer helps.
	_, err := f.svc.Login(ctx, dto.LoginRequest{Email: user.Email, Password: "right"}, "10.0.0.1", "unit-test")
	if !errors.Is(err, domain.ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	if a := f.lastAttempt(t, user.Email); a.FailureReason != domain.FailureAccountLocked {
		t.Fatalf("lockout rejection not in the ledger: %+v", a)
	}
	if len(f.ts.issueCalls) != 0 {
		t.Fatalf("tokens issued while locked")
	}

	status, err := f.svc.LockoutStatus(ctx, user.Email)
	if err != nil {
		t.Fatalf("LockoutStatus: %v", err)
	}
	if !status.Locked || status.RemainingAttempts != 0 || status.LockoutExpiresAt == nil {
		t.Fatalf("unexpected lockout status: %+v", status)
	}
}

func TestLoginSuspended(t *testing.T) {
	f := newAuthFixture()
	user := f.seedUser("bob@example.com", domain.UserStatusSuspended)
	f.acceptPassword("super-secret")
	ctx := context.Background()

	_, err := f.svc.Login(ctx, dto.LoginRequest{Email: user.Email, Password: "super-secret"}, "10.0.0.1", "unit-test")
	if !errors.Is(err, domain.ErrAccountSuspended) {
		t.Fatalf("expected ErrAccountSuspended, got %v", err)
	}
	if a := f.lastAttempt(t, user.Email); a.FailureReason != domain.FailureAccountSuspended {
		t.Fatalf("suspension not in the ledger: %+v", a)
	}
}

func TestLoginRehashesWhenNeeded(t *testing.T) {
	f := newAuthFixture()
	user := f.seedUser("carol@example.com", domain.UserStatusActive)
	f.ps.verifyFunc = func(password string, cred interface {
		GetAlgo() string
		GetHash() []byte
		GetSalt() []byte
		GetParamsJSON() []byte
		GetPasswordVer() int
	},
	) (bool, bool) {
		return true, true
	}
	f.ps.hashFunc = func(password string) (hash, salt, paramsJSON []byte, algo string, ver int, err error) {
		return []byte("new-hash"), []byte("new-salt"), []byte("{}"), "argon2id", 2, nil
	}
	ctx := context.Background()

	if _, err := f.svc.Login(ctx, dto.LoginRequest{Email: user.Email, Password: "updated-secret"}, "10.0.0.2", "unit-test"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if len(f.ps.hashCalls) != 1 {
		t.Fatalf("expected one rehash, got %d", len(f.ps.hashCalls))
	}
	stored, ok := f.store.credentialByUserID(user.ID)
	if !ok {
		t.Fatalf("credential missing after rehash")
	}
	if string(stored.Hash) != "new-hash" || stored.PasswordVer != 2 {
		t.Fatalf("credential not upgraded: %+v", stored)
	}
}

func TestLoginSecondFactorRequired(t *testing.T) {
	f := newAuthFixture()
	user := f.seedUser("dana@example.com", domain.UserStatusActive)
	f.acceptPassword("super-secret")
	f.tf.required = true
	ctx := context.Background()

	resp, err := f.svc.Login(ctx, dto.LoginRequest{Email: user.Email, Password: "super-secret"}, "10.0.0.1", "unit-test")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !resp.TwoFactorRequired || resp.TemporaryToken != "temp-token" {
		t.Fatalf("unexpected challenge: %+v", resp)
	}
	if resp.Tokens != nil {
		t.Fatalf("session tokens issued before the second factor")
	}
	if len(f.ts.tempIssued) != 1 || f.ts.tempIssued[0] != user.ID {
		t.Fatalf("temporary token calls: %+v", f.ts.tempIssued)
	}
	// Password acceptance alone is not a completed login.
	if rows, _ := f.attempts.ListRecent(ctx, user.Email, 10); len(rows) != 0 {
		t.Fatalf("ledger rows before login completed: %+v", rows)
	}
}

func TestCompleteTwoFactorWithCode(t *testing.T) {
	f := newAuthFixture()
	user := f.seedUser("dana@example.com", domain.UserStatusActive)
	f.ts.verifyUserID = user.ID
	f.tf.codeOK = true
	ctx := context.Background()

	resp, err := f.svc.CompleteTwoFactor(ctx, dto.TwoFactorLoginRequest{TemporaryToken: "temp-token", Code: "123456"}, "10.0.0.1", "unit-test")
	if err != nil {
		t.Fatalf("CompleteTwoFactor: %v", err)
	}
	if resp.Tokens == nil || resp.Tokens.AccessToken != "access" {
		t.Fatalf("unexpected tokens: %+v", resp.Tokens)
	}
	if len(f.tf.codeCalls) != 1 || f.tf.codeCalls[0] != "123456" {
		t.Fatalf("code verification calls: %+v", f.tf.codeCalls)
	}
	if len(f.tf.backupCalls) != 0 {
		t.Fatalf("backup path used with a TOTP code present")
	}
	if a := f.lastAttempt(t, user.Email); !a.Success {
		t.Fatalf("completed login not recorded: %+v", a)
	}
}

func TestCompleteTwoFactorWithBackupCode(t *testing.T) {
	f := newAuthFixture()
	user := f.seedUser("dana@example.com", domain.UserStatusActive)
	f.ts.verifyUserID = user.ID
	f.tf.backupOK = true
	ctx := context.Background()

	resp, err := f.svc.CompleteTwoFactor(ctx, dto.TwoFactorLoginRequest{TemporaryToken: "temp-token", BackupCode: "12345678"}, "10.0.0.1", "unit-test")
	if err != nil {
		t.Fatalf("CompleteTwoFactor: %v", err)
	}
	if resp.Tokens == nil {
		t.Fatalf("no tokens after backup-code login")
	}
	if len(f.tf.backupCalls) != 1 || f.tf.backupCalls[0] != "12345678" {
		t.Fatalf("backup verification calls: %+v", f.tf.backupCalls)
	}
}

func TestCompleteTwoFactorInvalidCodeKeepsTokenUsable(t *testing.T) {
	f := newAuthFixture()
	user := f.seedUser("dana@example.com", domain.UserStatusActive)
	f.ts.verifyUserID = user.ID
	f.tf.codeOK = false
	ctx := context.Background()

	_, err := f.svc.CompleteTwoFactor(ctx, dto.TwoFactorLoginRequest{TemporaryToken: "temp-token", Code: "000000"}, "10.0.0.1", "unit-test")
	if !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if a := f.lastAttempt(t, user.Email); a.Success || a.FailureReason != domain.FailureInvalid2FACode {
		t.Fatalf("unexpected ledger row: %+v", a)
	}

	// The temporary token survives the failed code; a retry succeeds.
	f.tf.codeOK = true
	if _, err := f.svc.CompleteTwoFactor(ctx, dto.TwoFactorLoginRequest{TemporaryToken: "temp-token", Code: "123456"}, "10.0.0.1", "unit-test"); err != nil {
		t.Fatalf("retry after failed code: %v", err)
	}
}

func TestCompleteTwoFactorBadToken(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	_, err := f.svc.CompleteTwoFactor(ctx, dto.TwoFactorLoginRequest{TemporaryToken: "forged"}, "10.0.0.1", "unit-test")
	if !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	f.ts.verifyErr = domain.ErrExpiredToken
	_, err = f.svc.CompleteTwoFactor(ctx, dto.TwoFactorLoginRequest{TemporaryToken: "temp-token"}, "10.0.0.1", "unit-test")
	if !errors.Is(err, domain.ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
	if f.attempts.count() != 0 {
		t.Fatalf("token failures must not reach the ledger")
	}
}

func TestCompleteTwoFactorSuspendedUser(t *testing.T) {
	f := newAuthFixture()
	user := f.seedUser("dana@example.com", domain.UserStatusSuspended)
	f.ts.verifyUserID = user.ID
	f.tf.codeOK = true
	ctx := context.Background()

	_, err := f.svc.CompleteTwoFactor(ctx, dto.TwoFactorLoginRequest{TemporaryToken: "temp-token", Code: "123456"}, "10.0.0.1", "unit-test")
	if !errors.Is(err, domain.ErrAccountSuspended) {
		t.Fatalf("expected ErrAccountSuspended, got %v", err)
	}
	if len(f.tf.codeCalls) != 0 {
		t.Fatalf("code verified for a suspended account")
	}
}

func TestLogout(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	if err := f.svc.Logout(ctx, "some-refresh-token"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if len(f.ts.revoked) != 1 || f.ts.revoked[0] != "some-refresh-token" {
		t.Fatalf("revocation calls: %+v", f.ts.revoked)
	}

	if err := f.svc.Logout(ctx, ""); err != nil {
		t.Fatalf("Logout with empty token: %v", err)
	}
	if len(f.ts.revoked) != 1 {
		t.Fatalf("empty token reached the token service")
	}
}
