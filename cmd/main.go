/**
 * @description
 * This is the main entry point for the payment service. It wires together the
 * configuration, database pool (running migrations on startup), Redis-backed
 * rate limiter, RabbitMQ alert producer, the reconciliation cron scheduler,
 * and the HTTP server for webhooks and status lookups, then blocks until a
 * termination signal arrives and shuts everything down gracefully.
 */
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"

	"github.com/emergitag/payment-service/internal/api"
	"github.com/emergitag/payment-service/internal/app"
	"github.com/emergitag/payment-service/internal/config"
	"github.com/emergitag/payment-service/internal/store"
	"github.com/emergitag/payment-service/internal/verify"
	"github.com/emergitag/payment-service/pkg/payfast"
	"github.com/emergitag/payment-service/pkg/paystack"
	"github.com/emergitag/payment-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env for local development; ignored when absent.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	if err := runMigrations(poolConfig); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	repo := store.NewPostgresRepository(dbpool)

	var producer rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		p, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("rabbitmq unavailable, alerts degrade to logs", "error", err)
			producer = &rabbitmq.NoopProducer{Logger: logger}
		} else {
			producer = p
		}
	} else {
		producer = &rabbitmq.NoopProducer{Logger: logger}
	}
	defer producer.Close()

	var limiter app.RateLimiter = app.NoopRateLimiter{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("invalid redis url, webhook rate limiting disabled", "error", err)
		} else {
			rdb := redis.NewClient(opts)
			limiter = app.NewRedisRateLimiter(rdb, "emergitag:rate_limit",
				cfg.WebhookRateLimit, time.Duration(cfg.WebhookRateWindowSecs)*time.Second)
			defer rdb.Close()
		}
	}

	payfastClient := payfast.NewClient(cfg.PayFastValidateURL)
	paystackClient := paystack.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey)

	verifier := verify.NewVerifier(cfg.AllowedIPList(), cfg.PayFastPassphrase, payfastClient, logger)
	ingestor := app.NewIngestor(repo, verifier, producer, logger)
	detector := app.NewDetector(repo, app.NewPaystackProber(paystackClient), logger)

	jobs := app.NewJobs(repo, paystackClient, producer, logger)
	scheduler := app.NewScheduler(jobs, logger, *cfg)
	scheduler.Start()
	logger.Info("reconciliation scheduler started")

	handler := api.NewHandler(ingestor, detector, repo, limiter, logger)
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewRouter(handler),
	}

	go func() {
		logger.Info("http server listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	stopCtx := scheduler.Stop()
	<-stopCtx.Done() // Wait for in-flight jobs to finish
	logger.Info("service stopped gracefully")
}

// runMigrations applies the goose SQL migrations using a temporary
// database/sql connection over the pgx stdlib driver.
func runMigrations(poolConfig *pgxpool.Config) error {
	db := sql.OpenDB(stdlib.GetConnector(*poolConfig.ConnConfig))
	defer db.Close()

	goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "db/migrations")
}
