package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"edauth/internal/config"
	"edauth/internal/observability/logging"
	"edauth/internal/observability/metrics"
	"edauth/internal/observability/middleware"
	impl "edauth/internal/service/impl"
	"edauth/internal/store"
	httpx "edauth/internal/transport/http"
	"edauth/pkg/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	logger := logging.NewLogger(logging.Config{
		ServiceName: "auth",
		Environment: env,
		Level:       os.Getenv("LOG_LEVEL"),
	})

	slog.SetDefault(logger)

	logger.Info("starting service")

	cfg := config.Load()

	gdb, err := db.OpenGorm(db.Config{
		DSN:    cfg.DatabaseURL,
		LogSQL: cfg.LogSQL,
	})
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}

	st := &store.Store{DB: gdb}

	metrics.MustRegister("auth")

	pw := impl.NewPasswordServiceArgon2id()

	ts := impl.NewTokenServiceHS256(impl.TokenConfig{
		Issuer:       cfg.Issuer,
		Audience:     cfg.Audience,
		AccessTTL:    cfg.AccessTTL,
		RefreshTTL:   cfg.RefreshTTL,
		TwoFactorTTL: cfg.TwoFactorTTL,
		SigningKey:   []byte(cfg.SigningKey),
	}, st)

	tf := impl.NewTwoFactorServiceImpl(st, pw, cfg.TOTPIssuer)
	lo := impl.NewLockoutServiceImpl(st)
	as := impl.NewAuthServiceImpl(st, pw, ts, tf, lo)

	mux := httpx.NewRouter(as, tf, lo, ts)

	handler := middleware.WithRequestAndTrace(middleware.WithMetrics(mux))

	go purgeAttempts(st, cfg.AttemptRetention, cfg.CleanupInterval)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("auth service listening", "addr", srv.Addr, "issuer", cfg.Issuer)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// purgeAttempts trims login-attempt rows past the retention horizon. The
// ledger is append-only at the application level; only this janitor deletes.
func purgeAttempts(st *store.Store, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		n, err := st.PurgeLoginAttempts(ctx, retention)
		cancel()
		if err != nil {
			slog.Error("login attempt purge", "error", err)
			continue
		}
		if n > 0 {
			slog.Info("login attempts purged", "rows", n)
		}
	}
}
