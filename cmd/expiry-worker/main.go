package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/appointment-booking-engine/internal/appointment"
	"github.com/hackgods/appointment-booking-engine/internal/config"
	"github.com/hackgods/appointment-booking-engine/internal/db"
	"github.com/hackgods/appointment-booking-engine/internal/directory"
	"github.com/hackgods/appointment-booking-engine/internal/logging"
	"github.com/hackgods/appointment-booking-engine/internal/metrics"
	redisclient "github.com/hackgods/appointment-booking-engine/internal/redis"
	"github.com/hackgods/appointment-booking-engine/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "expiry-worker", "env", cfg.Env)

	if cfg.PendingTTL <= 0 {
		logger.Info("PENDING_TTL is 0, pending appointments never expire; exiting")
		return
	}
	logger.Info("expiry worker starting", "interval", cfg.WorkerInterval, "pending_ttl", cfg.PendingTTL)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.OptionsFromConfig(cfg, "booking-expiry-worker"))
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
	logger.Info("connected to Postgres")

	repo := appointment.NewPgRepository(pgPool)
	dir := directory.NewPgDirectory(pgPool, cfg.Location())
	m := metrics.New(prometheus.DefaultRegisterer)

	// Expiry only frees slots, it never claims one, so no slot lock is needed.
	svc := appointment.NewService(repo, dir, redisclient.NopLocker{}, appointment.Config{PendingTTL: cfg.PendingTTL}, m, logger)

	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, logger *logging.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.ExpirePendingAppointments(runCtx)
	if err != nil {
		logger.Error("expiry run error", "error", err, "expired", n)
		return
	}
	logger.Info("expiry run complete", "expired", n, "duration_ms", time.Since(start).Milliseconds())
}
