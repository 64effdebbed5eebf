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

	"github.com/geocoder89/truckmatch/internal/auth"
	"github.com/geocoder89/truckmatch/internal/config"
	"github.com/geocoder89/truckmatch/internal/db"
	"github.com/geocoder89/truckmatch/internal/entitlement"
	httpx "github.com/geocoder89/truckmatch/internal/http"
	"github.com/geocoder89/truckmatch/internal/http/handlers"
	"github.com/geocoder89/truckmatch/internal/http/middlewares"
	"github.com/geocoder89/truckmatch/internal/notifications"
	"github.com/geocoder89/truckmatch/internal/observability"
	"github.com/geocoder89/truckmatch/internal/queue/redisclient"
	"github.com/geocoder89/truckmatch/internal/queue/worker"
	"github.com/geocoder89/truckmatch/internal/repo/memory"
	"github.com/geocoder89/truckmatch/internal/repo/postgres"
	"github.com/geocoder89/truckmatch/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type subscriptionStore interface {
	handlers.AdminSubscriptionsRepo
	entitlement.SubscriptionStore
}

type jobStore interface {
	httpx.JobStore
	entitlement.JobStore
}

type taskStore interface {
	httpx.TaskStore
	worker.TaskRepository
}

type stores struct {
	users      httpx.UserStore
	subs       subscriptionStore
	jobs       jobStore
	tasks      taskStore
	deliveries worker.DeliveryLedger
	checks     map[string]handlers.Pinger
	inProcess  bool
	close      func()
}

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", observability.Err(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "truckmatch-api", cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		log.Error("tracer init failed", observability.Err(err))
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	st, err := openStores(cfg, prom, log)
	if err != nil {
		log.Error("store init failed", observability.Err(err))
		os.Exit(1)
	}
	defer st.close()

	seedCtx, cancelSeed := config.WithTimeout(5 * time.Second)
	seeded, err := db.EnsureAdminUser(seedCtx, st.users, cfg)
	cancelSeed()
	if err != nil {
		log.Error("admin seed failed", observability.Err(err))
		os.Exit(1)
	}
	if seeded {
		log.Info("admin account ensured", "email", cfg.AdminEmail)
	}

	var limiter middlewares.Limiter
	if cfg.RedisAddr != "" {
		rc, err := redisclient.Connect(ctx, redisclient.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			log.Error("redis connect failed", observability.Err(err))
			os.Exit(1)
		}
		defer rc.Close()

		limiter = middlewares.NewRedisLimiter(rc.Raw(), "truckmatch:rl", cfg.AuthRateLimit, cfg.AuthRateWindow)
		st.checks["redis"] = rc.Ping
	}

	tokens := auth.NewManager(cfg.SecretOrDev(), cfg.AccessTTL(), cfg.RefreshTTL())
	engine := entitlement.NewEngine(st.subs, st.jobs).WithRecorder(prom)

	router := httpx.NewRouter(log, httpx.Deps{
		Config:        cfg,
		Users:         st.users,
		Subscriptions: st.subs,
		Jobs:          st.jobs,
		Tasks:         st.tasks,
		Engine:        engine,
		Sessions:      auth.NewSessions(tokens, st.users),
		Prom:          prom,
		Gatherer:      reg,
		AuthLimiter:   limiter,
		Checks:        st.checks,
	})

	// with the memory store nothing else can reach the tasks, so the worker
	// and the sweep run here
	var sweeper *scheduler.Sweeper
	workerDone := make(chan struct{})
	if st.inProcess {
		w := worker.New(worker.Config{
			PollInterval: cfg.WorkerPollInterval,
			Concurrency:  cfg.WorkerConcurrency,
		}, st.tasks, st.deliveries, notifications.FromConfig(cfg, log), log).WithProm(prom)

		go func() {
			defer close(workerDone)
			_ = w.Run(ctx)
		}()

		sweeper = scheduler.NewSweeper(engine, log, prom)
		if err := sweeper.Start(cfg.ExpirySweepSchedule); err != nil {
			log.Error("sweep schedule invalid", observability.Err(err))
			os.Exit(1)
		}
	} else {
		close(workerDone)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "storage", cfg.Storage)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", observability.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("server shutting down")

	shutdownCtx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", observability.Err(err))
	}
	if sweeper != nil {
		sweeper.Stop(shutdownCtx)
	}

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Error("worker shutdown timed out")
	}

	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("tracer shutdown failed", observability.Err(err))
	}

	log.Info("shutdown complete")
}

func openStores(cfg config.Config, prom *observability.Prom, log *slog.Logger) (*stores, error) {
	if cfg.Storage == config.StorageBackendMemory {
		log.Warn("using in-memory storage, data is lost on restart")

		m := memory.NewStore()
		return &stores{
			users:      m.Users(),
			subs:       m.Subscriptions(),
			jobs:       m.Jobs(),
			tasks:      m.Tasks(),
			deliveries: m.Deliveries(),
			checks:     map[string]handlers.Pinger{},
			inProcess:  true,
			close:      func() {},
		}, nil
	}

	pool, err := db.NewPool(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if cfg.RunMigrations {
		if err := db.Migrate(pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("migrations applied")
	}

	return &stores{
		users:      postgres.NewUsersRepo(pool, prom),
		subs:       postgres.NewSubscriptionsRepo(pool, prom),
		jobs:       postgres.NewFreightJobsRepo(pool, prom),
		tasks:      postgres.NewTasksRepo(pool, prom),
		deliveries: postgres.NewDeliveriesRepo(pool, prom),
		checks:     map[string]handlers.Pinger{"postgres": pool.Ping},
		close:      pool.Close,
	}, nil
}
