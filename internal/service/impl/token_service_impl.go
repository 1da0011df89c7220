package impl

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"edauth/internal/domain"
	"edauth/internal/dto"
	"edauth/internal/netutil"
	"edauth/internal/observability/metrics"
	"edauth/internal/observability/middleware"
	"edauth/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ====== Config ======

type TokenConfig struct {
	Issuer       string
	Audience     string
	AccessTTL    time.Duration // e.g. 1h
	RefreshTTL   time.Duration // e.g. 14 * 24h
	TwoFactorTTL time.Duration // e.g. 5m
	SigningKey   []byte        // HS256 secret
}

// twoFactorPurpose tags the temporary token so it can never pass as an
// access or refresh token (and vice versa).
const twoFactorPurpose = "2fa"

// ====== Claims ======

type AccessClaims struct {
	SID   string `json:"sid"`
	Roles string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	SID                  string `json:"sid"`
	jwt.RegisteredClaims        // jti == refresh_id
}

// TwoFactorClaims is the temporary token minted between password and
// second-factor verification. jti carries a random nonce; sub the user id.
type TwoFactorClaims struct {
	Purpose              string `json:"purpose"`
	jwt.RegisteredClaims
}

// ====== Service ======

type TokenServiceImpl struct {
	cfg   TokenConfig
	store *store.Store
	now   func() time.Time
}

func NewTokenServiceHS256(cfg TokenConfig, st *store.Store) *TokenServiceImpl {
	if cfg.TwoFactorTTL == 0 {
		cfg.TwoFactorTTL = 5 * time.Minute
	}
	return &TokenServiceImpl{cfg: cfg, store: st, now: time.Now}
}

// Issue creates a session row (with a fresh RefreshID) and returns
// access+refresh tokens.
func (t *TokenServiceImpl) Issue(ctx context.Context, user *domain.User, ip, ua string) (*dto.TokenResponse, error) {
	result := "success"
	defer func() {
		metrics.TokensIssuedTotal.WithLabelValues("issue", result).Inc()
	}()
	ip = normalizeIP(ip)
	ua = netutil.TruncateUserAgent(ua)
	now := t.now().UTC()

	sess := &domain.Session{
		ID:        uuid.New(),
		UserID:    user.ID,
		RefreshID: uuid.New(),
		ExpiresAt: now.Add(t.cfg.RefreshTTL),
		RevokedAt: nil,
		CreatedAt: now,
		IP:        ip,
		UserAgent: ua,
	}
	if err := t.store.Sessions().Create(ctx, sess); err != nil {
		result = "failure"
		return nil, err
	}

	access, err := t.signAccess(user, sess, now)
	if err != nil {
		result = "failure"
		return nil, err
	}
	refresh, err := t.signRefresh(user.ID, sess, now)
	if err != nil {
		result = "failure"
		return nil, err
	}

	reqID := middleware.RequestIDFromContext(ctx)
	slog.Info("issued tokens", "session_id", sess.ID, "user_id", user.ID, "request_id", reqID)

	return &dto.TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(t.cfg.AccessTTL.Seconds()),
	}, nil
}

// Refresh validates the refresh JWT, checks session state, rotates the
// refresh id, and returns new tokens.
func (t *TokenServiceImpl) Refresh(ctx context.Context, refreshToken string, ip, ua string) (*dto.TokenResponse, error) {
	result := "success"
	defer func() {
		metrics.TokensIssuedTotal.WithLabelValues("refresh", result).Inc()
	}()
	ip = normalizeIP(ip)
	ua = netutil.TruncateUserAgent(ua)
	now := t.now().UTC()

	parsed, claims, err := t.parseRefresh(refreshToken)
	if err != nil || !parsed.Valid {
		result = "failure"
		return nil, domain.ErrInvalidToken
	}

	rid, err := uuid.Parse(claims.ID)
	if err != nil {
		result = "failure"
		return nil, domain.ErrInvalidToken
	}
	sess, err := t.store.Sessions().GetByRefreshID(ctx, rid)
	if err != nil {
		result = "failure"
		return nil, domain.ErrInvalidToken
	}
	if sess.RevokedAt != nil || now.After(sess.ExpiresAt) {
		result = "failure"
		return nil, domain.ErrExpiredToken
	}

	user, err := t.store.Users().GetByID(ctx, sess.UserID)
	if err != nil {
		result = "failure"
		return nil, domain.ErrInvalidToken
	}

	newRID := uuid.New()
	newExp := now.Add(t.cfg.RefreshTTL)
	if err := t.store.Sessions().Rotate(ctx, sess.ID, newRID, newExp, ip, ua); err != nil {
		result = "failure"
		return nil, err
	}
	sess.RefreshID = newRID
	sess.ExpiresAt = newExp

	accessJWT, err := t.signAccess(user, sess, now)
	if err != nil {
		result = "failure"
		return nil, err
	}
	refreshJWT, err := t.signRefresh(sess.UserID, sess, now)
	if err != nil {
		result = "failure"
		return nil, err
	}

	slog.Info("refreshed tokens", "session_id", sess.ID, "user_id", sess.UserID)

	return &dto.TokenResponse{
		AccessToken:  accessJWT,
		RefreshToken: refreshJWT,
		ExpiresIn:    int64(t.cfg.AccessTTL.Seconds()),
	}, nil
}

func (t *TokenServiceImpl) RevokeSession(ctx context.Context, sessionID domain.SessionID) error {
	return t.store.Sessions().Revoke(ctx, uuid.UUID(sessionID), t.now().UTC())
}

// RevokeRefreshToken ends the session behind a refresh token. Tokens that do
// not parse or have no live session are treated as already logged out.
func (t *TokenServiceImpl) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	parsed, claims, err := t.parseRefresh(refreshToken)
	if err != nil || !parsed.Valid {
		return nil
	}
	rid, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil
	}
	sess, err := t.store.Sessions().GetByRefreshID(ctx, rid)
	if err != nil {
		return nil
	}
	return t.store.Sessions().Revoke(ctx, sess.ID, t.now().UTC())
}

// VerifyAccess validates an access token and returns the user it was issued
// to. Temporary 2FA tokens do not pass: their claims carry a purpose tag and
// no session id.
func (t *TokenServiceImpl) VerifyAccess(token string) (domain.UserID, error) {
	claims := &AccessClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return t.now() }),
	)
	tok, err := parser.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return t.cfg.SigningKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, domain.ErrExpiredToken
		}
		return uuid.Nil, domain.ErrInvalidToken
	}
	if !tok.Valid || claims.SID == "" {
		return uuid.Nil, domain.ErrInvalidToken
	}
	if claims.Issuer != t.cfg.Issuer || !containsAudience(claims.Audience, t.cfg.Audience) {
		return uuid.Nil, domain.ErrInvalidToken
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, domain.ErrInvalidToken
	}
	return userID, nil
}

// IssueTwoFactorToken mints the temporary token returned when a login needs
// a second factor. Unlike the session tokens it creates no session row.
func (t *TokenServiceImpl) IssueTwoFactorToken(userID domain.UserID) (string, error) {
	now := t.now().UTC()
	claims := TwoFactorClaims{
		Purpose: twoFactorPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{t.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(t.cfg.TwoFactorTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(), // unguessable nonce
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.cfg.SigningKey)
}

// VerifyTwoFactorToken checks signature, purpose and age, and returns the
// bound user id. Any parse or signature failure fails closed as
// ErrInvalidToken; only a structurally valid but stale token is
// ErrExpiredToken. The token is not consumed.
func (t *TokenServiceImpl) VerifyTwoFactorToken(token string) (domain.UserID, error) {
	claims := &TwoFactorClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return t.now() }),
	)
	tok, err := parser.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return t.cfg.SigningKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, domain.ErrExpiredToken
		}
		return uuid.Nil, domain.ErrInvalidToken
	}
	if !tok.Valid || claims.Purpose != twoFactorPurpose {
		return uuid.Nil, domain.ErrInvalidToken
	}
	if claims.Issuer != t.cfg.Issuer || !containsAudience(claims.Audience, t.cfg.Audience) {
		return uuid.Nil, domain.ErrInvalidToken
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, domain.ErrInvalidToken
	}
	return userID, nil
}

// ====== Helpers ======

func (t *TokenServiceImpl) signAccess(user *domain.User, sess *domain.Session, now time.Time) (string, error) {
	claims := AccessClaims{
		SID:   sess.ID.String(),
		Roles: user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   user.ID.String(),
			Audience:  jwt.ClaimStrings{t.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(t.cfg.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.cfg.SigningKey)
}

func (t *TokenServiceImpl) signRefresh(userID uuid.UUID, sess *domain.Session, now time.Time) (string, error) {
	claims := RefreshClaims{
		SID: sess.ID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{t.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        sess.RefreshID.String(), // binds JWT to the session row
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.cfg.SigningKey)
}

func (t *TokenServiceImpl) parseRefresh(tokenStr string) (*jwt.Token, *RefreshClaims, error) {
	claims := &RefreshClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return t.now() }),
	)
	tok, err := parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return t.cfg.SigningKey, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if claims.Issuer != t.cfg.Issuer {
		return nil, nil, errors.New("bad issuer")
	}
	if !containsAudience(claims.Audience, t.cfg.Audience) {
		return nil, nil, errors.New("bad audience")
	}
	return tok, claims, nil
}

func containsAudience(aud jwt.ClaimStrings, expected string) bool {
	for _, a := range aud {
		if a == expected {
			return true
		}
	}
	return false
}

func normalizeIP(ip string) string {
	if normalized, ok := netutil.NormalizeIP(ip); ok {
		return normalized
	}
	return strings.TrimSpace(ip)
}
