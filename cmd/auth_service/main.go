package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"msat_auth/internal/auth"
	"msat_auth/internal/config"
	httpserver "msat_auth/internal/http_server"
	"msat_auth/internal/lib/api/validate"
	"msat_auth/internal/lib/jwt"
	sl "msat_auth/internal/lib/logger"
	"msat_auth/internal/lib/password"
	"msat_auth/internal/lib/templates"
	mailSender "msat_auth/internal/mail-sender"
	"msat_auth/internal/middleware/metrics"
	"msat_auth/internal/rabbitmq"
	"msat_auth/internal/storage/memory"
	"msat_auth/internal/storage/postgres"
	"msat_auth/internal/storage/redis"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

// Set with -ldflags "-X main.version=...".
var version = "1.0.0"

type userStore interface {
	auth.UserSaver
	auth.UserProvider
	Ping(ctx context.Context) error
	Close()
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)

	log := setupLogger(cfg.Env)

	log.Info("starting auth service", slog.String("env", cfg.Env), slog.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("auth service stopped with error", sl.Err(err))
		os.Exit(1)
	}

	log.Info("auth service stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	store, err := setupStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	mailer, closeMailer, err := setupMailer(cfg, log)
	if err != nil {
		return err
	}
	defer closeMailer()

	codec, err := jwt.New(cfg.Tokens.SecretKey, cfg.Tokens.Algorithm)
	if err != nil {
		return err
	}

	renderer, err := templates.New(cfg.HTTPServer.PublicURL, cfg.Mail.FromName)
	if err != nil {
		return err
	}

	var opts []auth.Option

	if cfg.Redis.Addr != "" {
		ledger, err := redis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer ledger.Close()

		opts = append(opts, auth.WithResetTokenLedger(ledger))
		log.Info("password reset tokens are single-use", slog.String("redis", cfg.Redis.Addr))
	}

	authService := auth.New(
		log,
		store,
		store,
		password.NewHasher(cfg.Password.BcryptCost),
		codec,
		mailer,
		renderer,
		cfg.Tokens.AccessTokenTTL(),
		cfg.Tokens.ResetTokenTTL(),
		opts...,
	)

	router := httpserver.NewRouter(httpserver.Deps{
		Log:            log,
		Validate:       validate.New(),
		Auth:           authService,
		Forms:          renderer,
		Store:          store,
		Metrics:        metrics.New(),
		Version:        version,
		DocsURL:        cfg.HTTPServer.DocsURL,
		AllowedOrigins: cfg.HTTPServer.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		log.Info("HTTP server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", sl.Err(err))
		return err
	}

	log.Info("server stopped gracefully")

	return nil
}

func setupStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (userStore, error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("using in-memory storage, users are lost on restart")
		return memory.New(), nil
	}

	store, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}

	log.Info("connected to postgres")

	if cfg.Postgres.AutoMigrate {
		if err := postgres.Migrate(ctx, cfg.Postgres.DSN()); err != nil {
			store.Close()
			return nil, err
		}
		log.Info("database schema is up to date")
	}

	return store, nil
}

func setupMailer(cfg *config.Config, log *slog.Logger) (auth.Mailer, func(), error) {
	if cfg.Mail.Transport == config.MailTransportRabbitMQ {
		broker, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
		if err != nil {
			return nil, nil, err
		}

		log.Info("emails are queued for mail_sender", slog.String("queue", cfg.RabbitMQ.QueueName))

		return broker, broker.Close, nil
	}

	m := &mailSender.Mailer{
		Host:      cfg.Mail.SMTPHost,
		Port:      cfg.Mail.SMTPPort,
		Username:  cfg.Mail.SMTPUser,
		Password:  cfg.Mail.SMTPPass,
		FromEmail: cfg.Mail.FromEmail,
		FromName:  cfg.Mail.FromName,
	}

	return m, func() {}, nil
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
