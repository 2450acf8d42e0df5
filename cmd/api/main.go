package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/celestialseal/server/internal/auth"
	"github.com/celestialseal/server/internal/config"
	"github.com/celestialseal/server/internal/db"
	httphandler "github.com/celestialseal/server/internal/http"
	"github.com/celestialseal/server/internal/http/handlers"
	"github.com/celestialseal/server/internal/logger"
	"github.com/celestialseal/server/internal/mail"
	"github.com/celestialseal/server/internal/middleware"
	"github.com/celestialseal/server/internal/repo"
)

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, logger.ParseLevel(cfg.LogLevel), cfg.DevMode)
	slog.SetDefault(log)

	ctx := context.Background()

	// Storage: PostgreSQL when configured, otherwise the in-memory store (DEV_MODE only)
	var (
		users    repo.UserRepo
		sessions repo.RefreshRepo
		pinger   handlers.Pinger
	)
	if cfg.DatabaseURL != "" {
		database, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			fatal(log, "failed to open database", err)
		}
		defer database.Close()

		if err := db.Migrate(ctx, database); err != nil {
			fatal(log, "failed to run migrations", err)
		}
		users = repo.NewUserRepo(database)
		sessions = repo.NewRefreshRepo(database)
		pinger = database
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store; data is lost on restart")
		store := repo.NewMemoryStore()
		users = store.Users()
		sessions = store.Refresh()
	}

	limiter, closeLimiter := newLimiter(log, cfg)
	defer closeLimiter()

	var mailer mail.Mailer = mail.NewLogMailer(log, cfg.DevMode)
	if cfg.Mail.Host != "" {
		smtpMailer, err := mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
		if err != nil {
			fatal(log, "failed to configure mailer", err)
		}
		mailer = smtpMailer
	} else {
		log.Warn("MAIL_HOST not set, outgoing mail is only logged")
	}
	dispatcher := mail.NewDispatcher(mailer, log)

	hasher := auth.NewBcryptHasher(cfg.BcryptCost)
	jwtService := auth.NewJWTService(cfg.JWT.Issuer, cfg.JWT.Audience, time.Now)
	tokens := auth.NewTokenIssuer(jwtService, auth.TokenConfig{
		AuthSecret:         cfg.JWT.AuthSecret,
		VerificationSecret: cfg.JWT.VerificationSecret,
		AccessTTL:          cfg.JWT.AccessTTL,
		RefreshTTL:         cfg.JWT.RefreshTTL,
		VerificationTTL:    cfg.JWT.VerificationTTL,
	})
	otp := auth.NewOtpChallenge(users, hasher, dispatcher, auth.OtpConfig{
		Expiry:   cfg.OTP.Expiry,
		Cooldown: cfg.OTP.Cooldown,
	}, time.Now, log)
	sessionManager := auth.NewSessionManager(sessions, users, tokens, log)

	authService, err := auth.NewAuthService(auth.Deps{
		Users:    users,
		Hasher:   hasher,
		Tokens:   tokens,
		OTP:      otp,
		Sessions: sessionManager,
		Mail:     dispatcher,
		LinkBase: cfg.JWT.Issuer,
		Now:      time.Now,
		Log:      log,
	})
	if err != nil {
		fatal(log, "failed to initialise auth service", err)
	}

	router := httphandler.NewRouter(httphandler.RouterDeps{
		AuthService: authService,
		Cookies: handlers.CookieConfig{
			Secure:     cfg.HTTP.CookieSecure,
			AccessTTL:  cfg.JWT.AccessTTL,
			RefreshTTL: cfg.JWT.RefreshTTL,
		},
		Limiter:     limiter,
		DB:          pinger,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Log:         log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "dev_mode", cfg.DevMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "server failed to start", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		log.Warn("pending mail not delivered before shutdown", "error", err)
	}

	log.Info("server exited")
}

// newLimiter returns a Redis-backed limiter when REDIS_URL is set so the budget is shared across instances
func newLimiter(log *slog.Logger, cfg *config.Config) (middleware.Limiter, func()) {
	if cfg.RedisURL == "" {
		return middleware.NewMemoryLimiter(cfg.HTTP.AuthRateLimitRPM), func() {}
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		fatal(log, "invalid REDIS_URL", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		fatal(log, "failed to connect to redis", err)
	}
	log.Info("rate limiting backed by redis", "addr", opts.Addr)
	return middleware.NewRedisLimiter(client, cfg.HTTP.AuthRateLimitRPM), func() { _ = client.Close() }
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
