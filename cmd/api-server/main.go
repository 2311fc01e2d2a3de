package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicops/scheduling/internal/api"
	"github.com/clinicops/scheduling/internal/booking"
	"github.com/clinicops/scheduling/internal/catalog"
	"github.com/clinicops/scheduling/internal/config"
	"github.com/clinicops/scheduling/internal/db"
	"github.com/clinicops/scheduling/internal/observability/metrics"
	redisclient "github.com/clinicops/scheduling/internal/redis"
	"github.com/clinicops/scheduling/internal/schedule"
	"github.com/clinicops/scheduling/pkg/logging"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "tz", cfg.ClinicTimezone)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		return
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Error("redis connection error", "error", err)
		return
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", "error", err)
		}
	}()
	logger.Info("connected to Redis")

	loc := cfg.Location()
	m := metrics.NewBookingMetrics(nil)

	svc := booking.NewService(
		booking.NewPgRepository(pgPool),
		schedule.NewPgResolver(pgPool, loc),
		catalog.NewValidator(pgPool),
		redisclient.NewRedisResourceLocker(rdb, cfg.LockTTL),
		redisclient.NewIdempotencyStore(rdb, cfg.IdempotencyTTL),
		m,
		logger.With("component", "booking"),
		booking.ServiceConfig{
			Location:           loc,
			Grid:               cfg.Grid(),
			SearchWindowDays:   cfg.SearchWindowDays,
			MaxRecommendations: cfg.MaxRecommendations,
		},
	)

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Location: loc,
		PgPool:   pgPool,
		Redis:    rdb,
		Logger:   logger.With("component", "http"),
		Metrics:  m,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           http.TimeoutHandler(router, cfg.RequestTimeout, `{"error":"TRANSIENT","details":"request timed out"}`),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("api-server stopped")
}
