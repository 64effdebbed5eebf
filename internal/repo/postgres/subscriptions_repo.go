package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/subscription"
	"github.com/geocoder89/truckmatch/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriptionsRepo struct {
	base
}

func NewSubscriptionsRepo(pool *pgxpool.Pool, prom *observability.Prom) *SubscriptionsRepo {
	return &SubscriptionsRepo{base{pool: pool, prom: prom}}
}

const subscriptionColumns = `id, user_id, plan, status, job_limit, price,
	activated_at, expires_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (subscription.Subscription, error) {
	var (
		s            subscription.Subscription
		plan, status string
	)

	err := row.Scan(
		&s.ID, &s.UserID, &plan, &status, &s.JobLimit, &s.PriceGEL,
		&s.ActivatedAt, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return subscription.Subscription{}, err
	}

	s.Plan = subscription.PlanName(plan)
	s.Status = subscription.Status(status)
	return s, nil
}

// lockOwner serializes activation and job creation for one owner by taking the
// owner's user row lock for the rest of the transaction.
func lockOwner(ctx context.Context, tx pgx.Tx, ownerID string) error {
	var id string
	return tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, ownerID).Scan(&id)
}

func latestEntitled(ctx context.Context, q pgx.Tx, userID string, now time.Time) (subscription.Subscription, error) {
	return scanSubscription(q.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1
		  AND status = 'active'
		  AND expires_at > $2
		ORDER BY activated_at DESC
		LIMIT 1
	`, userID, now))
}

func (r *SubscriptionsRepo) LatestEntitled(ctx context.Context, userID string, now time.Time) (subscription.Subscription, error) {
	if !validID(userID) {
		return subscription.Subscription{}, subscription.ErrNotFound
	}

	var (
		s   subscription.Subscription
		err error
	)

	err = r.observe("subscriptions.latest_entitled", func() error {
		s, err = scanSubscription(r.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1
		  AND status = 'active'
		  AND expires_at > $2
		ORDER BY activated_at DESC
		LIMIT 1
	`, userID, now))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return subscription.Subscription{}, subscription.ErrNotFound
		}
		return subscription.Subscription{}, err
	}
	return s, nil
}

// ActivatePlan expires the owner's active rows, cancels pending ones and
// inserts the new active row in one transaction under the owner lock.
func (r *SubscriptionsRepo) ActivatePlan(ctx context.Context, userID string, plan subscription.Plan, now time.Time) (subscription.Subscription, error) {
	sub := subscription.NewActive(userID, plan, now)

	err := r.observe("subscriptions.activate_plan", func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			if err := lockOwner(ctx, tx, userID); err != nil {
				return err
			}
			if err := retireSiblings(ctx, tx, userID, "", now, true); err != nil {
				return err
			}
			return insertSubscription(ctx, tx, sub)
		})
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return subscription.Subscription{}, fmt.Errorf("owner %s: %w", userID, subscription.ErrNotFound)
		}
		return subscription.Subscription{}, err
	}
	return sub, nil
}

func (r *SubscriptionsRepo) CreatePending(ctx context.Context, userID string, plan subscription.Plan, now time.Time) (subscription.Subscription, error) {
	sub := subscription.NewPending(userID, plan, now)

	err := r.observe("subscriptions.create_pending", func() error {
		_, err := r.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, subscriptionArgs(sub)...)
		return err
	})
	if err != nil {
		return subscription.Subscription{}, err
	}
	return sub, nil
}

func subscriptionArgs(s subscription.Subscription) []any {
	return []any{
		s.ID, s.UserID, string(s.Plan), string(s.Status), s.JobLimit, s.PriceGEL,
		s.ActivatedAt, s.ExpiresAt, s.CreatedAt, s.UpdatedAt,
	}
}

func insertSubscription(ctx context.Context, tx pgx.Tx, s subscription.Subscription) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, subscriptionArgs(s)...)
	return err
}

func retireSiblings(ctx context.Context, tx pgx.Tx, userID, skipID string, now time.Time, cancelPending bool) error {
	if _, err := tx.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'expired', updated_at = $3
		WHERE user_id = $1 AND status = 'active' AND id::text <> $2
	`, userID, skipID, now); err != nil {
		return err
	}

	if !cancelPending {
		return nil
	}

	_, err := tx.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'cancelled', updated_at = $3
		WHERE user_id = $1 AND status = 'pending' AND id::text <> $2
	`, userID, skipID, now)
	return err
}

// Transition moves one row along the lifecycle. A non-nil ownerID restricts
// the row to that owner; a mismatch reads as not found.
func (r *SubscriptionsRepo) Transition(ctx context.Context, id string, ownerID *string, to subscription.Status, now time.Time) (subscription.Subscription, error) {
	if !validID(id) {
		return subscription.Subscription{}, subscription.ErrNotFound
	}

	var out subscription.Subscription

	err := r.observe("subscriptions.transition", func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			var userID string
			if err := tx.QueryRow(ctx, `SELECT user_id FROM subscriptions WHERE id = $1`, id).Scan(&userID); err != nil {
				return err
			}
			if ownerID != nil && userID != *ownerID {
				return pgx.ErrNoRows
			}
			if err := lockOwner(ctx, tx, userID); err != nil {
				return err
			}

			sub, err := scanSubscription(tx.QueryRow(ctx,
				`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
			if err != nil {
				return err
			}
			if !subscription.CanTransition(sub.Status, to) {
				return subscription.ErrInvalidTransition
			}

			if to == subscription.StatusActive {
				if err := retireSiblings(ctx, tx, userID, id, now, false); err != nil {
					return err
				}
				sub.Activate(now)
			} else {
				sub.Status = to
				sub.UpdatedAt = now
			}

			_, err = tx.Exec(ctx, `
			UPDATE subscriptions
			SET status = $2, activated_at = $3, expires_at = $4, updated_at = $5
			WHERE id = $1
		`, id, string(sub.Status), sub.ActivatedAt, sub.ExpiresAt, sub.UpdatedAt)
			if err != nil {
				return err
			}

			out = sub
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return subscription.Subscription{}, subscription.ErrNotFound
		}
		return subscription.Subscription{}, err
	}
	return out, nil
}

// ExpireStale flips active rows whose term has ended.
func (r *SubscriptionsRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	var rows int64

	err := r.observe("subscriptions.expire_stale", func() error {
		tag, err := r.pool.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND expires_at <= $1
	`, now)
		if err != nil {
			return err
		}
		rows = tag.RowsAffected()
		return nil
	})

	return rows, err
}

func (r *SubscriptionsRepo) List(ctx context.Context, f subscription.ListFilter) ([]subscription.WithUser, error) {
	q := `
		SELECT s.id, s.user_id, s.plan, s.status, s.job_limit, s.price,
		       s.activated_at, s.expires_at, s.created_at, s.updated_at,
		       COALESCE(u.email, ''), COALESCE(u.name, '')
		FROM subscriptions s
		LEFT JOIN users u ON u.id = s.user_id
	`
	var args []any
	if f.Status != nil {
		args = append(args, string(*f.Status))
		q += " WHERE s.status = $1"
	}
	args = append(args, clampLimit(f.Limit, 200, 500))
	q += fmt.Sprintf(" ORDER BY s.created_at DESC LIMIT $%d", len(args))

	out := make([]subscription.WithUser, 0)

	err := r.observe("subscriptions.list", func() error {
		rows, err := r.pool.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				w            subscription.WithUser
				plan, status string
			)
			if err := rows.Scan(
				&w.ID, &w.UserID, &plan, &status, &w.JobLimit, &w.PriceGEL,
				&w.ActivatedAt, &w.ExpiresAt, &w.CreatedAt, &w.UpdatedAt,
				&w.UserEmail, &w.UserName,
			); err != nil {
				return err
			}
			w.Plan = subscription.PlanName(plan)
			w.Status = subscription.Status(status)
			out = append(out, w)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SubscriptionsRepo) CountByStatus(ctx context.Context) (map[subscription.Status]int, error) {
	out := map[subscription.Status]int{}

	err := r.observe("subscriptions.count_by_status", func() error {
		rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				st string
				n  int
			)
			if err := rows.Scan(&st, &n); err != nil {
				return err
			}
			out[subscription.Status(st)] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
