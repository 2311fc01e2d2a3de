package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/clinicops/scheduling/internal/observability/metrics"
	"github.com/clinicops/scheduling/pkg/logging"
)

type RouterConfig struct {
	Service  Coordinator
	Location *time.Location
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Logger   *logging.Logger
	Metrics  *metrics.BookingMetrics
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	r.Post("/bookings", createBookingHandler(cfg.Service, loc))
	r.Get("/bookings/{id}", getBookingHandler(cfg.Service, loc))
	r.Post("/bookings/{id}/reschedule", rescheduleBookingHandler(cfg.Service, loc))
	r.Post("/bookings/{id}/confirm", confirmBookingHandler(cfg.Service, loc))
	r.Post("/bookings/{id}/cancel", cancelBookingHandler(cfg.Service, loc))
	r.Post("/bookings/{id}/no-show", noShowBookingHandler(cfg.Service, loc))
	r.Post("/bookings/{id}/complete", completeBookingHandler(cfg.Service, loc))
	r.Get("/availability", availabilityHandler(cfg.Service, loc))
	r.Get("/recommendations", recommendationsHandler(cfg.Service, loc))

	return r
}
