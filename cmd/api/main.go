package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/moapay/backend/internal/cleanup"
	"github.com/moapay/backend/internal/config"
	"github.com/moapay/backend/internal/db"
	"github.com/moapay/backend/internal/deposit"
	"github.com/moapay/backend/internal/ledger"
	"github.com/moapay/backend/internal/matching"
	"github.com/moapay/backend/internal/ratelimit"
	"github.com/moapay/backend/internal/refund"
	"github.com/moapay/backend/internal/sms"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	if err := db.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations (queue tables for the periodic sweeps)
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first", "error", err)
		os.Exit(1)
	}

	// Rate limiter
	rateRepo := ratelimit.NewRepository(pool)
	limiter := ratelimit.New(rateRepo, ratelimit.DefaultConfig())

	// Ledger
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo, limiter)

	// Deposits
	depositRepo := deposit.NewRepository(pool)
	depositSvc := deposit.NewService(depositRepo, limiter, deposit.ReceivingAccount{
		BankName:      cfg.BankName,
		AccountNumber: cfg.BankAccountNumber,
	})

	// SMS ingestion and matching
	smsRepo := sms.NewRepository(pool)
	matchRepo := matching.NewRepository(pool)
	matchSvc := matching.NewService(pool, depositRepo, ledgerRepo, smsRepo, matchRepo, logger)
	smsSvc := sms.NewService(sms.NewParser(), smsRepo, matchSvc, logger)

	// Refunds
	refundRepo := refund.NewRepository(pool)
	refundSvc := refund.NewService(pool, refundRepo, ledgerRepo, limiter, logger)

	// Cleanup sweeps, optionally on the embedded schedule
	cleanupSvc := cleanup.NewService(depositSvc, rateRepo, matchSvc, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, cleanup.NewSweepWorker(cleanupSvc))

	riverCfg := &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Workers: workers,
	}
	if cfg.CleanupScheduleEnabled {
		riverCfg.PeriodicJobs = cleanup.PeriodicJobs()
	}
	riverClient, err := river.NewClient(riverpgxv5.New(pool), riverCfg)
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	if cfg.CleanupScheduleEnabled {
		riverCtx, stopRiver := context.WithCancel(ctx)
		defer stopRiver()
		go func() {
			if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
				slog.Error("River client stopped", "error", err)
			}
		}()
		slog.Info("Embedded cleanup schedule enabled")
	} else {
		slog.Info("Embedded cleanup schedule disabled; expecting external scheduler on the cleanup endpoints")
	}

	app := &application{
		logger:   logger,
		deposits: &deposit.Handler{Service: depositSvc, Logger: logger},
		sms:      &sms.Handler{Service: smsSvc, Logger: logger},
		matches:  &matching.Handler{Service: matchSvc, Logger: logger},
		balance:  &ledger.Handler{Service: ledgerSvc, Logger: logger},
		refunds:  &refund.Handler{Service: refundSvc, Logger: logger},
		rates:    &ratelimit.Handler{Limiter: limiter, Repo: rateRepo, Logger: logger},
		cleanup:  &cleanup.Handler{Service: cleanupSvc, Logger: logger},
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin"},
		AllowCredentials: true,
	}).Handler(app.routes())

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
