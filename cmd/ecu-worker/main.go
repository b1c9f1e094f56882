package main

import (
	"context"
	"errors"
	"os"
	"time"

	"ecu/internal/amqp"
	"ecu/internal/cli"
	"ecu/internal/log"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()
	logger = logger.WithComponent(log.ComponentWorker)

	logger.Info("Starting ecu-worker")

	if !cfg.AMQPEnabled() {
		logger.Error("AMQP_URL is required for the activity worker")
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	// Events carry their own id, so a redelivered message is stored once.
	handle := func(ctx context.Context, msg *amqp.ActivityMessage) error {
		if err := repo.Record(ctx, msg.Event); err != nil {
			return err
		}
		logger.DebugContext(ctx, "Activity event persisted",
			log.FieldEventID, msg.Event.ID,
			log.FieldUserID, msg.Event.UserID,
			log.FieldEventKind, string(msg.Event.Kind),
			"lag_ms", time.Since(msg.PublishedAt).Milliseconds())
		return nil
	}

	if err := client.ConsumeActivity(ctx, handle); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}
