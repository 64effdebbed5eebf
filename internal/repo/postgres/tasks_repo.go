package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/task"
	"github.com/geocoder89/truckmatch/internal/observability"
	"github.com/geocoder89/truckmatch/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TasksRepo struct {
	base
}

func NewTasksRepo(pool *pgxpool.Pool, prom *observability.Prom) *TasksRepo {
	return &TasksRepo{base{pool: pool, prom: prom}}
}

const taskColumns = `id, type, payload, status, attempts, max_attempts,
	run_at, locked_at, locked_by, last_error, idempotency_key, user_id,
	created_at, updated_at`

func scanTask(row pgx.Row) (task.Task, error) {
	var (
		t      task.Task
		status string
	)
	err := row.Scan(
		&t.ID, &t.Type, &t.Payload, &status, &t.Attempts, &t.MaxAttempts,
		&t.RunAt, &t.LockedAt, &t.LockedBy, &t.LastError, &t.IdempotencyKey, &t.UserID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	t.Status = task.Status(status)
	return t, err
}

// Enqueue inserts the task. When the idempotency key is already taken the
// existing task is returned with task.ErrDuplicate.
func (r *TasksRepo) Enqueue(ctx context.Context, req task.CreateRequest) (task.Task, error) {
	t := task.New(req)

	err := r.observe("tasks.enqueue", func() error {
		_, err := r.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
			t.ID, t.Type, t.Payload, string(t.Status), t.Attempts, t.MaxAttempts,
			t.RunAt, t.LockedAt, t.LockedBy, t.LastError, t.IdempotencyKey, t.UserID,
			t.CreatedAt, t.UpdatedAt,
		)
		return err
	})
	if err == nil {
		return t, nil
	}
	if !IsUniqueViolation(err) || req.IdempotencyKey == nil {
		return task.Task{}, err
	}

	existing, getErr := r.GetByIdempotencyKey(ctx, *req.IdempotencyKey)
	if getErr != nil {
		return task.Task{}, getErr
	}
	return existing, task.ErrDuplicate
}

func (r *TasksRepo) GetByIdempotencyKey(ctx context.Context, key string) (task.Task, error) {
	var (
		t   task.Task
		err error
	)

	err = r.observe("tasks.get_by_idempotency_key", func() error {
		t, err = scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE idempotency_key = $1`, key))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.Task{}, task.ErrNotFound
		}
		return task.Task{}, err
	}
	return t, nil
}

// ClaimNext claims one ready task with SKIP LOCKED so concurrent workers never
// pick the same row. task.ErrNotFound means nothing is ready.
func (r *TasksRepo) ClaimNext(ctx context.Context, workerID string) (task.Task, error) {
	var (
		t   task.Task
		err error
	)

	err = r.observe("tasks.claim_next", func() error {
		t, err = scanTask(r.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT id
			FROM tasks
			WHERE status = 'pending'
			  AND run_at <= NOW()
			  AND attempts < max_attempts
			ORDER BY run_at ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tasks
		SET status = 'processing',
		    locked_at = NOW(),
		    locked_by = $1,
		    updated_at = NOW()
		WHERE id = (SELECT id FROM next)
		RETURNING `+taskColumns, workerID))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.Task{}, task.ErrNotFound
		}
		return task.Task{}, err
	}
	return t, nil
}

func (r *TasksRepo) MarkDone(ctx context.Context, id string) error {
	return r.exec(ctx, "tasks.mark_done", `
		UPDATE tasks
		SET status = 'done',
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`, id)
}

func (r *TasksRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.exec(ctx, "tasks.mark_failed", `
		UPDATE tasks
		SET status = 'failed',
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, id, errMsg)
}

func (r *TasksRepo) Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error {
	return r.exec(ctx, "tasks.reschedule", `
		UPDATE tasks
		SET status = 'pending',
		    attempts = attempts + 1,
		    run_at = $2,
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, id, runAt, errMsg)
}

func (r *TasksRepo) exec(ctx context.Context, op, q string, args ...any) error {
	var tag pgconn.CommandTag

	err := r.observe(op, func() error {
		var err error
		tag, err = r.pool.Exec(ctx, q, args...)
		return err
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return task.ErrNotFound
	}
	return nil
}

// RequeueStale releases tasks whose worker stopped heartbeating for lockTTL.
func (r *TasksRepo) RequeueStale(ctx context.Context, lockTTL time.Duration) (int64, error) {
	secs := int64(lockTTL.Seconds())
	if secs <= 0 {
		secs = 30
	}

	var rows int64
	err := r.observe("tasks.requeue_stale", func() error {
		tag, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'pending',
		    locked_at = NULL,
		    locked_by = NULL,
		    updated_at = NOW()
		WHERE status = 'processing'
		  AND locked_at IS NOT NULL
		  AND locked_at < NOW() - ($1 * INTERVAL '1 second')
	`, secs)
		if err != nil {
			return err
		}
		rows = tag.RowsAffected()
		return nil
	})

	return rows, err
}

// ListCursor pages tasks by (updated_at, id) descending.
func (r *TasksRepo) ListCursor(
	ctx context.Context,
	status *task.Status,
	limit int,
	after utils.TaskCursor,
) (items []task.Task, nextCursor *string, hasMore bool, err error) {
	var (
		conds []string
		args  []any
	)

	if status != nil {
		args = append(args, string(*status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	args = append(args, after.UpdatedAt, after.ID)
	conds = append(conds, fmt.Sprintf("(updated_at, id::text) < ($%d, $%d)", len(args)-1, len(args)))

	args = append(args, limit+1)
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d", len(args))

	out := make([]task.Task, 0, limit)

	err = r.observe("tasks.admin.list_cursor", func() error {
		rows, qerr := r.pool.Query(ctx, q, args...)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			t, scanErr := scanTask(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, false, err
	}

	if len(out) > limit {
		hasMore = true
		out = out[:limit]
		last := out[len(out)-1]

		cur, encErr := utils.EncodeTaskCursor(last.UpdatedAt, last.ID)
		if encErr != nil {
			return nil, nil, false, encErr
		}
		nextCursor = &cur
	}

	return out, nextCursor, hasMore, nil
}

func (r *TasksRepo) GetByID(ctx context.Context, id string) (task.Task, error) {
	if !validID(id) {
		return task.Task{}, task.ErrNotFound
	}

	var (
		t   task.Task
		err error
	)

	err = r.observe("tasks.admin.get_by_id", func() error {
		t, err = scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.Task{}, task.ErrNotFound
		}
		return task.Task{}, err
	}
	return t, nil
}

// Retry requeues one failed task.
func (r *TasksRepo) Retry(ctx context.Context, id string) error {
	if !validID(id) {
		return task.ErrNotFound
	}

	var status string
	err := r.observe("tasks.admin.retry.check_status", func() error {
		return r.pool.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&status)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.ErrNotFound
		}
		return err
	}
	if task.Status(status) != task.StatusFailed {
		return task.ErrNotFailed
	}

	return r.exec(ctx, "tasks.admin.retry.requeue", `
		UPDATE tasks
		SET status = 'pending',
		    attempts = 0,
		    run_at = NOW(),
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
	`, id)
}

// RetryManyFailed requeues up to limit of the most recently failed tasks.
func (r *TasksRepo) RetryManyFailed(ctx context.Context, limit int) (int64, error) {
	limit = clampLimit(limit, 50, 500)

	var rows int64
	err := r.observe("tasks.admin.retry_many_failed", func() error {
		tag, err := r.pool.Exec(ctx, `
		WITH picked AS (
			SELECT id
			FROM tasks
			WHERE status = 'failed'
			ORDER BY updated_at DESC
			LIMIT $1
		)
		UPDATE tasks
		SET status = 'pending',
		    attempts = 0,
		    run_at = NOW(),
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id IN (SELECT id FROM picked)
	`, limit)
		if err != nil {
			return err
		}
		rows = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rows, nil
}
