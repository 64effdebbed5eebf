package memory

import (
	"context"
	"sort"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/task"
	"github.com/geocoder89/truckmatch/internal/utils"
)

type TasksRepo struct {
	s *Store
}

func (r *TasksRepo) Enqueue(ctx context.Context, req task.CreateRequest) (task.Task, error) {
	t := task.New(req)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if req.IdempotencyKey != nil {
		for _, existing := range r.s.tasks {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *req.IdempotencyKey {
				return existing, task.ErrDuplicate
			}
		}
	}

	r.s.tasks[t.ID] = t
	return t, nil
}

func (r *TasksRepo) ClaimNext(ctx context.Context, workerID string) (task.Task, error) {
	now := time.Now().UTC()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var (
		next  task.Task
		found bool
	)
	for _, t := range r.s.tasks {
		if t.Status != task.StatusPending || t.RunAt.After(now) || t.Attempts >= t.MaxAttempts {
			continue
		}
		if !found || t.RunAt.Before(next.RunAt) {
			next = t
			found = true
		}
	}
	if !found {
		return task.Task{}, task.ErrNotFound
	}

	wid := workerID
	next.Status = task.StatusProcessing
	next.LockedAt = &now
	next.LockedBy = &wid
	next.UpdatedAt = now
	r.s.tasks[next.ID] = next
	return next, nil
}

func (r *TasksRepo) MarkDone(ctx context.Context, id string) error {
	return r.update(id, func(t *task.Task) {
		t.Status = task.StatusDone
		t.LastError = nil
	})
}

func (r *TasksRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.update(id, func(t *task.Task) {
		t.Status = task.StatusFailed
		t.LastError = &errMsg
	})
}

func (r *TasksRepo) Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error {
	return r.update(id, func(t *task.Task) {
		t.Status = task.StatusPending
		t.Attempts++
		t.RunAt = runAt
		t.LastError = &errMsg
	})
}

func (r *TasksRepo) RequeueStale(ctx context.Context, lockTTL time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-lockTTL)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, t := range r.s.tasks {
		if t.Status == task.StatusProcessing && t.LockedAt != nil && t.LockedAt.Before(cutoff) {
			t.Status = task.StatusPending
			t.LockedAt = nil
			t.LockedBy = nil
			r.s.tasks[id] = t
			n++
		}
	}
	return n, nil
}

// ListCursor pages tasks by (updatedAt, id) descending.
func (r *TasksRepo) ListCursor(
	ctx context.Context,
	status *task.Status,
	limit int,
	after utils.TaskCursor,
) ([]task.Task, *string, bool, error) {
	r.s.mu.RLock()
	out := make([]task.Task, 0)
	for _, t := range r.s.tasks {
		if status != nil && t.Status != *status {
			continue
		}
		if !before(t, after) {
			continue
		}
		out = append(out, t)
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	if len(out) <= limit {
		return out, nil, false, nil
	}

	out = out[:limit]
	last := out[len(out)-1]
	cur, err := utils.EncodeTaskCursor(last.UpdatedAt, last.ID)
	if err != nil {
		return nil, nil, false, err
	}
	return out, &cur, true, nil
}

func before(t task.Task, c utils.TaskCursor) bool {
	if t.UpdatedAt.Equal(c.UpdatedAt) {
		return t.ID < c.ID
	}
	return t.UpdatedAt.Before(c.UpdatedAt)
}

func (r *TasksRepo) GetByID(ctx context.Context, id string) (task.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.tasks[id]
	if !ok {
		return task.Task{}, task.ErrNotFound
	}
	return t, nil
}

func (r *TasksRepo) Retry(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tasks[id]
	if !ok {
		return task.ErrNotFound
	}
	if t.Status != task.StatusFailed {
		return task.ErrNotFailed
	}
	requeue(&t)
	r.s.tasks[id] = t
	return nil
}

// RetryManyFailed requeues up to limit of the most recently failed tasks.
func (r *TasksRepo) RetryManyFailed(ctx context.Context, limit int) (int64, error) {
	limit = limitOr(limit, 50, 500)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	failed := make([]task.Task, 0)
	for _, t := range r.s.tasks {
		if t.Status == task.StatusFailed {
			failed = append(failed, t)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].UpdatedAt.After(failed[j].UpdatedAt) })
	if len(failed) > limit {
		failed = failed[:limit]
	}

	for _, t := range failed {
		requeue(&t)
		r.s.tasks[t.ID] = t
	}
	return int64(len(failed)), nil
}

func requeue(t *task.Task) {
	t.Status = task.StatusPending
	t.Attempts = 0
	t.RunAt = time.Now().UTC()
	t.LastError = nil
	t.LockedAt = nil
	t.LockedBy = nil
	t.UpdatedAt = t.RunAt
}

func (r *TasksRepo) update(id string, fn func(*task.Task)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tasks[id]
	if !ok {
		return task.ErrNotFound
	}
	fn(&t)
	t.LockedAt = nil
	t.LockedBy = nil
	t.UpdatedAt = time.Now().UTC()
	r.s.tasks[id] = t
	return nil
}
