package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/appointment-booking-engine/internal/config"
	"github.com/hackgods/appointment-booking-engine/internal/db"
	"github.com/hackgods/appointment-booking-engine/internal/logging"
	"github.com/hackgods/appointment-booking-engine/internal/metrics"
	"github.com/hackgods/appointment-booking-engine/internal/outbox"
	"github.com/hackgods/appointment-booking-engine/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "outbox-relay", "env", cfg.Env)

	brokers := outbox.SplitBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		logger.Info("KAFKA_BROKERS is empty, outbox relay disabled; exiting")
		return
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.OptionsFromConfig(cfg, "booking-outbox-relay"))
	if err != nil {
		logger.Error("telemetry setup error", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	writer := outbox.NewKafkaWriter(brokers)
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Warn("error closing kafka writer", "error", err)
		}
	}()

	publisher := outbox.NewPublisher(
		outbox.NewRepository(pgPool),
		writer,
		outbox.PublisherConfig{PollEvery: cfg.OutboxPollInterval, BatchSize: cfg.OutboxBatchSize},
		logger,
		metrics.New(prometheus.DefaultRegisterer),
	)

	logger.Info("outbox relay started", "brokers", brokers, "poll_interval", cfg.OutboxPollInterval)
	publisher.Run(rootCtx)
	logger.Info("outbox relay stopped")
}
