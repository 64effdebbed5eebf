package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/delivery"
	"github.com/geocoder89/truckmatch/internal/domain/task"
	"github.com/geocoder89/truckmatch/internal/notifications"
	"github.com/geocoder89/truckmatch/internal/tasks"
)

// ProcessOne claims and runs at most one task. It reports whether a task was claimed.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	t, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	w.metrics.IncClaimed()
	start := w.now()

	runCtx, cancelRun := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	err = w.execute(runCtx, t)
	cancelRun()

	elapsed := w.now().Sub(start)
	w.metrics.ObserveDuration(elapsed)

	// bookkeeping must survive shutdown of the run context
	bctx, cancelBook := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancelBook()

	if err != nil {
		result := w.handleFailure(bctx, t, err)
		w.observe(t, result, elapsed)
		return true, nil
	}

	if err := w.repo.MarkDone(bctx, t.ID); err != nil {
		_ = w.repo.MarkFailed(bctx, t.ID, "mark_done_failed: "+err.Error())
		w.observe(t, "error", elapsed)
		return true, err
	}

	w.metrics.IncDone()
	w.observe(t, "done", elapsed)
	w.log.Info("task done", "task_id", t.ID, "type", t.Type, "duration_ms", elapsed.Milliseconds())
	return true, nil
}

func (w *Worker) observe(t task.Task, result string, d time.Duration) {
	if w.prom != nil {
		w.prom.ObserveTask(t.Type, result, d)
	}
}

// handleFailure dead-letters permanent errors and exhausted tasks, and
// reschedules the rest with backoff.
func (w *Worker) handleFailure(ctx context.Context, t task.Task, cause error) string {
	msg := cause.Error()
	permanent := errors.Is(cause, tasks.ErrInvalidType) || errors.Is(cause, tasks.ErrInvalidPayload)

	if permanent || t.Attempts+1 >= t.MaxAttempts {
		if err := w.repo.MarkFailed(ctx, t.ID, msg); err != nil {
			w.log.Error("mark task failed", "task_id", t.ID, "err", err.Error())
		}
		w.metrics.IncDeadLettered()
		w.log.Error("task dead-lettered",
			"task_id", t.ID,
			"type", t.Type,
			"attempts", t.Attempts+1,
			"permanent", permanent,
			"err", msg,
		)
		return "dead"
	}

	delay := ExponentialBackoff(t.Attempts)
	if err := w.repo.Reschedule(ctx, t.ID, w.now().UTC().Add(delay), msg); err != nil {
		w.log.Error("reschedule task", "task_id", t.ID, "err", err.Error())
	}
	w.metrics.IncRetried()
	w.log.Warn("task failed, retrying",
		"task_id", t.ID,
		"type", t.Type,
		"attempt", t.Attempts+1,
		"retry_in", delay.String(),
		"err", msg,
	)
	return "retry"
}

func (w *Worker) execute(ctx context.Context, t task.Task) error {
	payload, err := tasks.DecodePayload(t)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case tasks.ApplicationNotifyPayload:
		return w.sendApplicationNotice(ctx, t, p)
	default:
		return fmt.Errorf("%w: no handler for %s", tasks.ErrInvalidType, t.Type)
	}
}

func (w *Worker) sendApplicationNotice(ctx context.Context, t task.Task, p tasks.ApplicationNotifyPayload) error {
	key := tasks.ApplicationKey(p.JobID, p.DriverID)

	err := w.ledger.TryStart(ctx, delivery.KindApplicationNotice, key, t.ID, p.OwnerEmail)
	switch {
	case errors.Is(err, delivery.ErrAlreadySent):
		w.metrics.IncSkipped()
		w.log.Info("application notice already sent", "task_id", t.ID, "job_id", p.JobID)
		return nil
	case err != nil:
		return fmt.Errorf("claim delivery: %w", err)
	}

	sendErr := w.notifier.SendApplicationNotice(ctx, notifications.ApplicationNotice{
		OwnerEmail:  p.OwnerEmail,
		OwnerName:   p.OwnerName,
		JobID:       p.JobID,
		JobTitle:    p.JobTitle,
		JobRoute:    p.JobRoute,
		DriverName:  p.DriverName,
		DriverEmail: p.DriverEmail,
		DriverPhone: p.DriverPhone,
		AppliedAt:   p.RequestedAt,
	})

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if sendErr != nil {
		if err := w.ledger.MarkFailed(lctx, delivery.KindApplicationNotice, key, sendErr.Error()); err != nil {
			w.log.Error("mark delivery failed", "task_id", t.ID, "err", err.Error())
		}
		return sendErr
	}

	if err := w.ledger.MarkSent(lctx, delivery.KindApplicationNotice, key); err != nil {
		return fmt.Errorf("mark delivery sent: %w", err)
	}
	return nil
}
