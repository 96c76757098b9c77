package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"financemate/internal/amqp"
	"financemate/internal/config"
	"financemate/internal/ledger"
	applog "financemate/internal/log"
	"financemate/internal/services"
	"financemate/internal/storage"
)

func main() {
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Level: applog.LevelFromEnv(), Component: applog.ComponentWorker})
	applog.SetDefault(logger)

	logger.Info("Starting recurring-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// Materialized occurrences go through the reconciliation service so the
	// backup pipeline sees them like any user-created transaction.
	var publisher ledger.SyncPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without publisher", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
		}
	}

	ledgerSvc := ledger.New(repo, nil, nil, publisher)
	processor := services.NewRecurringProcessor(repo, ledgerSvc, cfg.SyncBatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Recurring processor configured",
		"interval", cfg.RecurringInterval,
		"sqlite_db", cfg.SQLiteDBPath)

	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(ctx, cfg.RecurringInterval)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	cancel()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("Recurring processor stop timed out")
	}
	logger.Info("Recurring worker stopped")
}
