package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/appointment-booking-engine/internal/logging"
	"github.com/hackgods/appointment-booking-engine/internal/metrics"
)

type RouterConfig struct {
	Availability AvailabilityService
	Appointments AppointmentService
	PgPool       Pinger
	Redis        *redis.Client
	// Limiter guards the public booking page endpoints. Nil disables limiting.
	Limiter     RateLimiter
	LimitWindow time.Duration
	Metrics     *metrics.Metrics
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *logging.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	window := cfg.LimitWindow
	if window <= 0 {
		window = time.Minute
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.With(RateLimitMiddleware(cfg.Limiter, "availability", window, cfg.Metrics, logger)).
			Get("/availability", getAvailabilityHandler(cfg.Availability, logger))

		r.With(RateLimitMiddleware(cfg.Limiter, "book", window, cfg.Metrics, logger)).
			Post("/appointments", createAppointmentHandler(cfg.Appointments, logger))
		r.Get("/appointments", listAppointmentsHandler(cfg.Appointments, logger))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments, logger))
		r.Patch("/appointments/{id}", updateAppointmentHandler(cfg.Appointments, logger))
	})

	return r
}
