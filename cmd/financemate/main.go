package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"financemate/internal/admission"
	"financemate/internal/amqp"
	"financemate/internal/auth"
	"financemate/internal/cache"
	"financemate/internal/config"
	apphttp "financemate/internal/http"
	"financemate/internal/ledger"
	applog "financemate/internal/log"
	"financemate/internal/storage"
)

func main() {
	// .env is for local development; absence is fine.
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Level: applog.LevelFromEnv(), Component: applog.ComponentApp})
	applog.SetDefault(logger)

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

	// AMQP is optional: without it, transactions still commit and the
	// backup worker's polling sweep picks them up.
	var publisher ledger.SyncPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without publisher", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	admissionCtl := admission.NewController(admission.Config{
		TokensPerWindow: cfg.AdmissionTokens,
		Window:          cfg.AdmissionWindow,
		CleanupInterval: 5 * time.Minute,
		Blocklist:       cfg.AdmissionBlocklist,
	})
	defer admissionCtl.Stop()

	views := apphttp.NewViewCache(cfg.CacheTTL)
	cacheManager := cache.NewManager()
	views.RegisterWith(cacheManager)
	cacheManager.StartCleanup(10 * time.Minute)
	defer cacheManager.Stop()

	ledgerSvc := ledger.New(repo, admissionCtl, views, publisher)
	authSvc := auth.NewService(repo, cfg.JWTSecret, cfg.JWTTTL)

	srv := apphttp.NewServer(":"+cfg.Port, ledgerSvc, authSvc, views)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting financemate server", "port", cfg.Port, "db", cfg.SQLiteDBPath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
