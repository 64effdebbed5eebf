// Package worker drains the task outbox: it claims due tasks, runs the
// handler for their type and reschedules or dead-letters failures.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/task"
	"github.com/geocoder89/truckmatch/internal/notifications"
	"github.com/geocoder89/truckmatch/internal/observability"
)

type TaskRepository interface {
	ClaimNext(ctx context.Context, workerID string) (task.Task, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
	RequeueStale(ctx context.Context, lockTTL time.Duration) (int64, error)
}

// DeliveryLedger guards against sending the same notice twice across retries.
type DeliveryLedger interface {
	TryStart(ctx context.Context, kind, key, taskID, recipient string) error
	MarkSent(ctx context.Context, kind, key string) error
	MarkFailed(ctx context.Context, kind, key, errMsg string) error
}

type Config struct {
	WorkerID     string
	PollInterval time.Duration
	Concurrency  int
	TaskTimeout  time.Duration
	LockTTL      time.Duration
}

func DefaultWorkerID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

type Worker struct {
	cfg      Config
	repo     TaskRepository
	ledger   DeliveryLedger
	notifier notifications.Notifier
	log      *slog.Logger
	metrics  *observability.TaskMetrics
	prom     *observability.Prom
	now      func() time.Time

	ready atomic.Bool
}

func New(cfg Config, repo TaskRepository, ledger DeliveryLedger, notifier notifications.Notifier, log *slog.Logger) *Worker {
	if cfg.WorkerID == "" {
		cfg.WorkerID = DefaultWorkerID()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}

	return &Worker{
		cfg:      cfg,
		repo:     repo,
		ledger:   ledger,
		notifier: notifier,
		log:      log.With("worker_id", cfg.WorkerID),
		metrics:  observability.NewTaskMetrics(),
		now:      time.Now,
	}
}

// WithProm exports per-task results to Prometheus as well as the in-process counters.
func (w *Worker) WithProm(p *observability.Prom) *Worker {
	w.prom = p
	return w
}

func (w *Worker) Metrics() *observability.TaskMetrics { return w.metrics }

func (w *Worker) Ready() bool { return w.ready.Load() }

// Run blocks until ctx is cancelled and every loop has returned.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", "concurrency", w.cfg.Concurrency, "poll_interval", w.cfg.PollInterval)

	w.ready.Store(true)
	defer w.ready.Store(false)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reaper(ctx)
	}()

	<-ctx.Done()
	w.ready.Store(false)
	w.log.Info("worker received shutdown signal")

	wg.Wait()
	w.log.Info("worker stopped")
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := w.ProcessOne(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error("process task", observability.Err(err))
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// reaper returns tasks held by a crashed worker to the queue.
func (w *Worker) reaper(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.LockTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			n, err := w.repo.RequeueStale(rctx, w.cfg.LockTTL)
			cancel()

			if err != nil {
				w.log.Error("requeue stale tasks", observability.Err(err))
				continue
			}
			if n > 0 {
				w.log.Warn("requeued stale tasks", "count", n)
			}
		}
	}
}
