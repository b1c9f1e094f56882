// Package cli holds the start-up steps shared by cmd/ecu, cmd/ecu-worker
// and cmd/ecuctl.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ecu/internal/config"
	"ecu/internal/log"
	"ecu/internal/storage"
)

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func SetupLogger(cfg *config.Config) *log.Logger {
	lc := log.DefaultConfig()
	if cfg != nil {
		lc.Level = log.ParseLevel(cfg.LogLevel)
		lc.Format = cfg.LogFormat
	}
	logger := log.New(lc)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads .env for local development. A missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and exits on validation failure.
func LoadAndValidateConfig() (*config.Config, *log.Logger) {
	cfg := config.Load()
	logger := SetupLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed",
			log.FieldError, err,
			"error_type", log.ErrorTypeConfiguration)
		os.Exit(1)
	}
	return cfg, logger
}

// InitSQLite opens the activity journal and exits on failure.
func InitSQLite(logger *log.Logger, dbPath string) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(dbPath, logger)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	return repo
}

// GracefulShutdown cancels the returned context on SIGINT or SIGTERM, runs
// cleanup, and closes done once cleanup finished or timeout elapsed.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup()
			}
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-time.After(timeout):
			logger.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup ran.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
