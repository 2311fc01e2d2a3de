package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicops/scheduling/internal/booking"
	"github.com/clinicops/scheduling/internal/catalog"
	"github.com/clinicops/scheduling/internal/config"
	"github.com/clinicops/scheduling/internal/db"
	"github.com/clinicops/scheduling/internal/schedule"
	"github.com/clinicops/scheduling/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("noshow-worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval, "grace", cfg.NoShowGrace)

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

	loc := cfg.Location()

	// No Redis here: the sweeper only flips statuses, the CAS guard in the
	// repository keeps concurrent sweeps safe.
	svc := booking.NewService(
		booking.NewPgRepository(pgPool),
		schedule.NewPgResolver(pgPool, loc),
		catalog.NewValidator(pgPool),
		nil,
		nil,
		nil,
		logger.With("component", "noshow-sweeper"),
		booking.ServiceConfig{Location: loc, Grid: cfg.Grid()},
	)

	runOnce(rootCtx, svc, cfg.NoShowGrace, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping noshow worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, cfg.NoShowGrace, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, grace time.Duration, logger *logging.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := svc.SweepNoShows(runCtx, grace); err != nil {
		logger.Error("no-show sweep error", "error", err)
		return
	}
	logger.Info("no-show sweep complete", "duration", time.Since(start).String())
}
