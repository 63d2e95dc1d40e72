package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hackgods/appointment-booking-engine/internal/api"
	"github.com/hackgods/appointment-booking-engine/internal/appointment"
	"github.com/hackgods/appointment-booking-engine/internal/availability"
	"github.com/hackgods/appointment-booking-engine/internal/config"
	"github.com/hackgods/appointment-booking-engine/internal/db"
	"github.com/hackgods/appointment-booking-engine/internal/directory"
	"github.com/hackgods/appointment-booking-engine/internal/logging"
	"github.com/hackgods/appointment-booking-engine/internal/metrics"
	redisclient "github.com/hackgods/appointment-booking-engine/internal/redis"
	"github.com/hackgods/appointment-booking-engine/internal/telemetry"
	"github.com/hackgods/appointment-booking-engine/internal/timeblock"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "api-server", "env", cfg.Env)
	logger.Info("api-server starting up", "http_port", cfg.HTTPPort, "version", cfg.Version)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.OptionsFromConfig(cfg, "booking-api"))
	if err != nil {
		logger.Error("telemetry setup error", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracer shutdown error", "error", err)
		}
	}()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgresWithOptions(pgCtx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns: int32(cfg.PostgresMaxConn),
		MinConns: 2,
	})
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// Redis is optional. Without it booking relies on the exclusion constraint alone
	// and public endpoints are not rate limited.
	var (
		rdb     *redis.Client
		locker  redisclient.Locker = redisclient.NopLocker{}
		limiter api.RateLimiter
	)
	rdb, err = redisclient.NewClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Warn("redis unavailable, continuing without slot locks", "error", err)
		rdb = nil
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", "error", err)
			}
		}()
		locker = redisclient.NewSlotLocker(rdb, cfg.LockTTL, logger)
		if cfg.RateLimitPerMinute > 0 {
			limiter = redisclient.NewRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "rl")
		}
		logger.Info("connected to Redis")
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	dir := directory.NewPgDirectory(pgPool, cfg.Location())
	repo := appointment.NewPgRepository(pgPool)
	blocks := timeblock.NewPgStore(pgPool)

	availSvc := availability.NewService(dir, repo, blocks, availability.Config{Step: cfg.SlotStep}, m, logger)
	apptSvc := appointment.NewService(repo, dir, locker, appointment.Config{PendingTTL: cfg.PendingTTL}, m, logger)

	router := api.NewRouter(api.RouterConfig{
		Availability: availSvc,
		Appointments: apptSvc,
		PgPool:       pgPool,
		Redis:        rdb,
		Limiter:      limiter,
		LimitWindow:  time.Minute,
		Metrics:      m,
		Logger:       logger,
		Env:          cfg.Env,
		Version:      cfg.Version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           otelhttp.NewHandler(router, "booking-api"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutting down api-server")
	case err := <-errCh:
		logger.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
}
