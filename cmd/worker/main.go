package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/truckmatch/internal/config"
	"github.com/geocoder89/truckmatch/internal/db"
	"github.com/geocoder89/truckmatch/internal/entitlement"
	"github.com/geocoder89/truckmatch/internal/notifications"
	"github.com/geocoder89/truckmatch/internal/observability"
	"github.com/geocoder89/truckmatch/internal/queue/redisclient"
	"github.com/geocoder89/truckmatch/internal/queue/worker"
	"github.com/geocoder89/truckmatch/internal/repo/postgres"
	"github.com/geocoder89/truckmatch/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env).With("service", "worker")
	slog.SetDefault(log)

	if cfg.Storage != config.StorageBackendPostgres {
		log.Error("the standalone worker needs STORAGE=postgres; memory mode runs it inside the api")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "truckmatch-worker", cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		log.Error("tracer init failed", observability.Err(err))
		os.Exit(1)
	}

	pool, err := db.NewPool(cfg.DBURL)
	if err != nil {
		log.Error("db connect failed", observability.Err(err))
		os.Exit(1)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	prom := observability.NewProm(reg)

	tasksRepo := postgres.NewTasksRepo(pool, prom)
	deliveries := postgres.NewDeliveriesRepo(pool, prom)
	engine := entitlement.NewEngine(
		postgres.NewSubscriptionsRepo(pool, prom),
		postgres.NewFreightJobsRepo(pool, prom),
	)

	w := worker.New(worker.Config{
		PollInterval: cfg.WorkerPollInterval,
		Concurrency:  cfg.WorkerConcurrency,
	}, tasksRepo, deliveries, notifications.FromConfig(cfg, log), log).WithProm(prom)

	pings := map[string]func(context.Context) error{"postgres": pool.Ping}
	if cfg.RedisAddr != "" {
		rc := redisclient.New(redisclient.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rc.Close()
		pings["redis"] = rc.Ping
	}

	healthSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WorkerHealthPort),
		Handler:           w.HealthHandler(pings, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("worker health server starting", "port", cfg.WorkerHealthPort)
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("health server failed", observability.Err(err))
		}
	}()

	sweeper := scheduler.NewSweeper(engine, log, prom)
	if err := sweeper.Start(cfg.ExpirySweepSchedule); err != nil {
		log.Error("sweep schedule invalid", observability.Err(err))
		os.Exit(1)
	}

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped with error", observability.Err(err))
	}

	shutdownCtx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	sweeper.Stop(shutdownCtx)
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = shutdownTracer(shutdownCtx)

	log.Info("worker shutdown complete")
}
