package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"ecu/internal/activity"
	"ecu/internal/amqp"
	"ecu/internal/api"
	"ecu/internal/api/memory"
	"ecu/internal/cli"
	"ecu/internal/config"
	apphttp "ecu/internal/http"
	"ecu/internal/log"
	gsheet "ecu/internal/sheets/google"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()
	logger = logger.WithComponent(log.ComponentApp)

	loc, _ := cfg.Location()

	client, stopBackend := newBackend(cfg, logger)
	defer stopBackend()

	opts := []apphttp.Option{
		apphttp.WithLogger(logger),
		apphttp.WithLocation(loc),
		apphttp.WithCookieSecure(cfg.CookieSecure),
		apphttp.WithRateLimit(cfg.RateLimitPerMinute),
	}

	var recorders activity.Multi
	if cfg.JournalEnabled() {
		repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
		defer repo.Close()
		recorders = append(recorders, repo)
		opts = append(opts, apphttp.WithJournal(repo))
		logger.Info("Activity journal enabled", "path", cfg.SQLiteDBPath)
	}
	if cfg.AMQPEnabled() {
		publisher, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer publisher.Close()
		recorders = append(recorders, publisher)
		logger.Info("Publishing activity events", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	}
	if len(recorders) > 0 {
		opts = append(opts, apphttp.WithRecorder(recorders))
	}

	if cfg.SheetsEnabled() {
		exporter, err := gsheet.New(context.Background(), gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
			Location:        loc,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		opts = append(opts, apphttp.WithSheets(exporter))
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	}

	srv, err := apphttp.NewServer(":"+cfg.Port, client, opts...)
	if err != nil {
		logger.Error("Failed to build HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	})

	logger.Info("Starting ecu server",
		"port", cfg.Port,
		"api_backend", cfg.APIBackend,
		"api_base_url", client.BaseURL(),
		"timezone", loc.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

// newBackend returns the API client. With API_BACKEND=memory an in-memory
// API is started on a loopback port and the client points at it.
func newBackend(cfg *config.Config, logger *log.Logger) (*api.Client, func()) {
	clientOpts := []api.Option{api.WithLogger(logger)}
	if cfg.APITimeout > 0 {
		clientOpts = append(clientOpts, api.WithTimeout(cfg.APITimeout))
	}

	if cfg.APIBackend != config.BackendMemory {
		return api.New(cfg.APIBaseURL, clientOpts...), func() {}
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		logger.Error("Failed to start in-memory API", log.FieldError, err)
		os.Exit(1)
	}
	backend := &http.Server{
		Handler:           memory.NewServer(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := backend.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("In-memory API stopped", log.FieldError, err)
		}
	}()
	baseURL := "http://" + ln.Addr().String()
	logger.Info("Serving in-memory API", "address", baseURL)

	return api.New(baseURL, clientOpts...), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = backend.Shutdown(ctx)
	}
}
