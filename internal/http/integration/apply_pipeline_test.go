package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/truckmatch/internal/notifications"
	"github.com/geocoder89/truckmatch/internal/queue/worker"
	"github.com/geocoder89/truckmatch/internal/repo/postgres"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifications.ApplicationNotice
}

func (n *recordingNotifier) SendApplicationNotice(ctx context.Context, in notifications.ApplicationNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, in)
	return nil
}

func (n *recordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func TestApplyPipeline_EnqueuesTask_Worker_SendsOnce(t *testing.T) {
	e := setup(t)
	owner := e.signup(t, "fleet1", "owner")
	driver := e.signup(t, "driver1", "driver")

	w := e.do(http.MethodPost, "/subscriptions/pay", map[string]any{"plan": "business"}, owner...)
	if w.Code != http.StatusCreated {
		t.Fatalf("pay got %d body=%s", w.Code, w.Body.String())
	}

	w = e.do(http.MethodPost, "/jobs", jobPayload("Reefer to Yerevan"), owner...)
	if w.Code != http.StatusCreated {
		t.Fatalf("create job got %d body=%s", w.Code, w.Body.String())
	}
	var created struct {
		Job struct {
			ID string `json:"id"`
		} `json:"job"`
	}
	mustReadJSON(t, w, &created)

	w = e.do(http.MethodPost, "/jobs/"+created.Job.ID+"/apply", nil, driver...)
	if w.Code != http.StatusAccepted {
		t.Fatalf("apply got %d body=%s", w.Code, w.Body.String())
	}

	var status string
	var key string
	err := e.pool.QueryRow(context.Background(), `
		SELECT status, idempotency_key
		FROM tasks
		WHERE type = 'application.notify'
	`).Scan(&status, &key)
	if err != nil {
		t.Fatalf("select task: %v", err)
	}
	if status != "pending" {
		t.Fatalf("expected pending task, got %s", status)
	}

	rec := &recordingNotifier{}
	wk := worker.New(worker.Config{
		WorkerID:     "test-worker",
		PollInterval: 10 * time.Millisecond,
		Concurrency:  1,
	}, postgres.NewTasksRepo(e.pool, e.prom), postgres.NewDeliveriesRepo(e.pool, e.prom), rec, slog.New(slog.NewTextHandler(io.Discard, nil)))

	processed, err := wk.ProcessOne(context.Background())
	if err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if !processed {
		t.Fatalf("expected a task to be processed")
	}

	var deliveryStatus string
	var sentAt *time.Time
	err = e.pool.QueryRow(context.Background(), `
		SELECT status, sent_at
		FROM notification_deliveries
		WHERE kind = 'application.notice' AND dedupe_key = $1
	`, key).Scan(&deliveryStatus, &sentAt)
	if err != nil {
		t.Fatalf("select delivery: %v", err)
	}
	if deliveryStatus != "sent" || sentAt == nil {
		t.Fatalf("expected delivery sent, got status=%s sentAt=%v", deliveryStatus, sentAt)
	}

	// a second apply is deduplicated before it reaches the queue
	w = e.do(http.MethodPost, "/jobs/"+created.Job.ID+"/apply", nil, driver...)
	if w.Code != http.StatusOK {
		t.Fatalf("second apply got %d body=%s", w.Code, w.Body.String())
	}

	if _, err := wk.ProcessOne(context.Background()); err != nil {
		t.Fatalf("ProcessOne(2): %v", err)
	}
	if rec.Count() != 1 {
		t.Fatalf("expected exactly one notice, got %d", rec.Count())
	}
}
