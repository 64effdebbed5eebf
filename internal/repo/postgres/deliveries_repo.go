package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/delivery"
	"github.com/geocoder89/truckmatch/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DeliveriesRepo struct {
	base
}

func NewDeliveriesRepo(pool *pgxpool.Pool, prom *observability.Prom) *DeliveriesRepo {
	return &DeliveriesRepo{base{pool: pool, prom: prom}}
}

// TryStart claims the (kind, key) send slot. It returns delivery.ErrAlreadySent
// or delivery.ErrInProgress when another attempt owns or finished the slot.
func (r *DeliveriesRepo) TryStart(ctx context.Context, kind, key, taskID, recipient string) error {
	err := r.observe("deliveries.insert", func() error {
		_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_deliveries (kind, dedupe_key, task_id, recipient, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'sending', NOW(), NOW())
	`, kind, key, taskID, recipient)
		return err
	})
	if err == nil {
		return nil
	}
	if !IsUniqueViolation(err) {
		return err
	}

	// a failed attempt may be reclaimed; only one worker can flip it back
	var claimed int64
	err = r.observe("deliveries.reclaim_failed", func() error {
		tag, err := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'sending',
		    task_id = $3,
		    recipient = $4,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE kind = $1 AND dedupe_key = $2 AND status = 'failed'
	`, kind, key, taskID, recipient)
		claimed = tag.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if claimed == 1 {
		return nil
	}

	var (
		status string
		sentAt *time.Time
	)
	err = r.observe("deliveries.get_status", func() error {
		return r.pool.QueryRow(ctx, `
		SELECT status, sent_at
		FROM notification_deliveries
		WHERE kind = $1 AND dedupe_key = $2
	`, kind, key).Scan(&status, &sentAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	if sentAt != nil || status == "sent" {
		return delivery.ErrAlreadySent
	}
	return delivery.ErrInProgress
}

func (r *DeliveriesRepo) MarkSent(ctx context.Context, kind, key string) error {
	return r.observe("deliveries.mark_sent", func() error {
		_, err := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'sent', sent_at = NOW(), last_error = NULL, updated_at = NOW()
		WHERE kind = $1 AND dedupe_key = $2
	`, kind, key)
		return err
	})
}

func (r *DeliveriesRepo) MarkFailed(ctx context.Context, kind, key, errMsg string) error {
	return r.observe("deliveries.mark_failed", func() error {
		_, err := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'failed', last_error = $3, updated_at = NOW()
		WHERE kind = $1 AND dedupe_key = $2
	`, kind, key, errMsg)
		return err
	})
}
