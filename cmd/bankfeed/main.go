package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/kanakku/bankfeed/internal/config"
	"github.com/kanakku/bankfeed/internal/crypto"
	"github.com/kanakku/bankfeed/internal/database"
	"github.com/kanakku/bankfeed/internal/extract"
	"github.com/kanakku/bankfeed/internal/jobs"
	"github.com/kanakku/bankfeed/internal/ledger"
	"github.com/kanakku/bankfeed/internal/parser"
	"github.com/kanakku/bankfeed/internal/scheduler"
	"github.com/kanakku/bankfeed/internal/server"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting bankfeed")

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	cipher, err := crypto.NewCipher(cfg.EncryptionKey)
	if err != nil {
		logger.Error("failed to create cipher", "error", err)
		os.Exit(1)
	}

	extractor, err := extract.NewGemini(ctx, extract.GeminiConfig{
		APIKey:   cfg.GeminiAPIKey,
		Model:    cfg.GeminiModel,
		Currency: cfg.DefaultCurrency,
		Timeout:  cfg.ExtractTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to create extractor", "error", err)
		os.Exit(1)
	}

	submitter := ledger.NewClient(ledger.Config{
		BaseURL:         cfg.LedgerAPIURL,
		APIKey:          cfg.LedgerAPIKey,
		Timeout:         cfg.SubmitTimeout,
		BankAccounts:    cfg.BankAccountMap,
		ExpenseAccounts: cfg.ExpenseAccountMap,
		DefaultBank:     cfg.DefaultBankAccount,
		DefaultExpense:  cfg.DefaultExpenseAccount,
	})

	registry := jobs.NewRegistry(db, logger)
	worker := jobs.NewWorker(jobs.WorkerDeps{
		Configs:      db,
		Cipher:       cipher,
		Dialer:       jobs.IMAPDialer{Logger: logger},
		Cleaner:      parser.NewBodyCleaner(),
		Extractor:    extractor,
		Submitter:    submitter,
		Logger:       logger,
		DialTimeout:  cfg.IMAPDialTimeout,
		FetchTimeout: cfg.IMAPFetchTimeout,
	})
	pool := jobs.NewPool(db, worker, cfg.WorkerCount, logger)
	pool.Start(ctx)

	sched := scheduler.New(db, registry, logger)
	if err := sched.Start(cfg.SchedulerInterval); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started", "interval", cfg.SchedulerInterval, "workers", cfg.WorkerCount)

	httpServer := server.NewHTTPServer(server.Deps{
		Configs:     db,
		Registry:    registry,
		Cipher:      cipher,
		Dialer:      jobs.IMAPDialer{Logger: logger},
		DialTimeout: cfg.IMAPDialTimeout,
		Logger:      logger,
	})
	go func() {
		if err := httpServer.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)
	logger.Info("shutting down...")

	sched.Stop()
	pool.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	logger.Info("bankfeed stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
