package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"edauth/internal/domain"
	"edauth/internal/dto"
	"edauth/internal/netutil"
	"edauth/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ctxKey string

const ctxKeyUserID ctxKey = "auth_user_id"

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// XFF can be a list: client, proxy1, proxy2...
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		if normalized, ok := netutil.NormalizeIP(ip); ok {
			return normalized
		}
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		if normalized, ok := netutil.NormalizeIP(xr); ok {
			return normalized
		}
	}
	if normalized, ok := netutil.NormalizeIP(r.RemoteAddr); ok {
		return normalized
	}
	return r.RemoteAddr
}

func NewRouter(auth service.AuthService, twoFactor service.TwoFactorService, lockout service.LockoutService, tokens service.TokenService) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/login", func(w http.ResponseWriter, req *http.Request) {
			var body dto.LoginRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "bad request", nil)
				return
			}
			res, err := auth.Login(req.Context(), body, clientIP(req), req.UserAgent())
			if err != nil {
				writeLoginError(w, req, auth, body.Email, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Post("/login/2fa", func(w http.ResponseWriter, req *http.Request) {
			var body dto.TwoFactorLoginRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "bad request", nil)
				return
			}
			res, err := auth.CompleteTwoFactor(req.Context(), body, clientIP(req), req.UserAgent())
			if err != nil {
				writeAuthError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Post("/refresh", func(w http.ResponseWriter, req *http.Request) {
			var body dto.RefreshRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "bad request", nil)
				return
			}
			res, err := tokens.Refresh(req.Context(), body.RefreshToken, clientIP(req), req.UserAgent())
			if err != nil {
				writeAuthError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Post("/logout", func(w http.ResponseWriter, req *http.Request) {
			var body dto.RefreshRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "bad request", nil)
				return
			}
			if err := auth.Logout(req.Context(), body.RefreshToken); err != nil {
				writeError(w, http.StatusInternalServerError, "logout failed", nil)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		// Lockout state by email, for rate-limiting middleware and UIs.
		r.Get("/lockout", func(w http.ResponseWriter, req *http.Request) {
			email := req.URL.Query().Get("email")
			if email == "" {
				writeError(w, http.StatusBadRequest, "missing email", nil)
				return
			}
			res, err := auth.LockoutStatus(req.Context(), email)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "lockout lookup failed", nil)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Get("/attempts", func(w http.ResponseWriter, req *http.Request) {
			email := req.URL.Query().Get("email")
			if email == "" {
				writeError(w, http.StatusBadRequest, "missing email", nil)
				return
			}
			limit := 20
			if v := req.URL.Query().Get("limit"); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
					limit = n
				}
			}
			res, err := lockout.RecentAttempts(req.Context(), email, limit)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "attempt lookup failed", nil)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})
	})

	r.Route("/v1/2fa", func(r chi.Router) {
		r.Use(requireAccessToken(tokens))

		r.Post("/setup", func(w http.ResponseWriter, req *http.Request) {
			res, err := twoFactor.Setup(req.Context(), userIDFrom(req.Context()))
			if err != nil {
				writeAuthError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Post("/enable", func(w http.ResponseWriter, req *http.Request) {
			var body dto.TwoFactorEnableRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "bad request", nil)
				return
			}
			if err := twoFactor.ConfirmEnable(req.Context(), userIDFrom(req.Context()), body.Code); err != nil {
				writeAuthError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Post("/disable", func(w http.ResponseWriter, req *http.Request) {
			var body dto.TwoFactorDisableRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "bad request", nil)
				return
			}
			if err := twoFactor.Disable(req.Context(), userIDFrom(req.Context()), body.Code, body.BackupCode); err != nil {
				writeAuthError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			res, err := twoFactor.Status(req.Context(), userIDFrom(req.Context()))
			if err != nil {
				writeAuthError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Post("/backup-codes", func(w http.ResponseWriter, req *http.Request) {
			res, err := twoFactor.RegenerateBackupCodes(req.Context(), userIDFrom(req.Context()))
			if err != nil {
				writeAuthError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})
	})

	return r
}

// requireAccessToken gates the 2FA management routes on a bearer access
// token and stashes the subject in the request context.
func requireAccessToken(tokens service.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			header := req.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing bearer token", nil)
				return
			}
			userID, err := tokens.VerifyAccess(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token", nil)
				return
			}
			ctx := context.WithValue(req.Context(), ctxKeyUserID, userID)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func userIDFrom(ctx context.Context) domain.UserID {
	if v, ok := ctx.Value(ctxKeyUserID).(domain.UserID); ok {
		return v
	}
	return domain.UserID{}
}

type errorBody struct {
	Error   string             `json:"error"`
	Lockout *dto.LockoutStatus `json:"lockout,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, lockout *dto.LockoutStatus) {
	writeJSON(w, status, errorBody{Error: msg, Lockout: lockout})
}

// writeLoginError enriches credential and lockout failures with the
// ledger-derived status (remaining attempts, lockout expiry). Secrets never
// appear here.
func writeLoginError(w http.ResponseWriter, req *http.Request, auth service.AuthService, email string, err error) {
	switch {
	case errors.Is(err, domain.ErrAccountLocked):
		status, _ := auth.LockoutStatus(req.Context(), email)
		writeError(w, http.StatusLocked, "account locked", status)
	case errors.Is(err, domain.ErrInvalidCredentials):
		status, _ := auth.LockoutStatus(req.Context(), email)
		writeError(w, http.StatusUnauthorized, "invalid email or password", status)
	default:
		writeAuthError(w, err)
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAccountLocked):
		writeError(w, http.StatusLocked, "account locked", nil)
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid email or password", nil)
	case errors.Is(err, domain.ErrAccountSuspended):
		writeError(w, http.StatusForbidden, "account suspended", nil)
	case errors.Is(err, domain.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "invalid verification code", nil)
	case errors.Is(err, domain.ErrAlreadyEnabled):
		writeError(w, http.StatusConflict, "two-factor already enabled", nil)
	case errors.Is(err, domain.ErrNotEnabled):
		writeError(w, http.StatusConflict, "two-factor not enabled", nil)
	case errors.Is(err, domain.ErrExpiredToken):
		writeError(w, http.StatusUnauthorized, "expired token", nil)
	case errors.Is(err, domain.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid token", nil)
	default:
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	}
}
