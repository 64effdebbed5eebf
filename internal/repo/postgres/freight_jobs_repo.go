package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/job"
	"github.com/geocoder89/truckmatch/internal/domain/subscription"
	"github.com/geocoder89/truckmatch/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FreightJobsRepo stores job postings. Background work lives in TasksRepo.
type FreightJobsRepo struct {
	base
}

func NewFreightJobsRepo(pool *pgxpool.Pool, prom *observability.Prom) *FreightJobsRepo {
	return &FreightJobsRepo{base{pool: pool, prom: prom}}
}

const jobColumns = `id, title, route, price, type, date, description,
	requirements, owner, phone, created_by, created_at, updated_at`

func scanJob(row pgx.Row) (job.Job, error) {
	var j job.Job
	err := row.Scan(
		&j.ID, &j.Title, &j.Route, &j.Price, &j.Type, &j.Date, &j.Description,
		&j.Requirements, &j.Owner, &j.Phone, &j.CreatedBy, &j.CreatedAt, &j.UpdatedAt,
	)
	if j.Requirements == nil {
		j.Requirements = []string{}
	}
	return j, err
}

func (r *FreightJobsRepo) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	if !validID(ownerID) {
		return 0, nil
	}

	var n int
	err := r.observe("freight_jobs.count_by_owner", func() error {
		return r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE created_by = $1`, ownerID).Scan(&n)
	})
	return n, err
}

// CreateWithinQuota locks the owner row, re-reads entitlement and the job
// count, and inserts only if a slot is still free.
func (r *FreightJobsRepo) CreateWithinQuota(ctx context.Context, j job.Job, now time.Time) (job.Job, error) {
	if j.CreatedBy == nil || !validID(*j.CreatedBy) {
		return job.Job{}, subscription.ErrNoEntitlement
	}
	ownerID := *j.CreatedBy
	if j.Requirements == nil {
		j.Requirements = []string{}
	}

	err := r.observe("freight_jobs.create_within_quota", func() error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			if err := lockOwner(ctx, tx, ownerID); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return subscription.ErrNoEntitlement
				}
				return err
			}

			sub, err := latestEntitled(ctx, tx, ownerID, now)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return subscription.ErrNoEntitlement
				}
				return err
			}

			var used int
			if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE created_by = $1`, ownerID).Scan(&used); err != nil {
				return err
			}
			if used >= sub.JobLimit {
				return subscription.ErrQuotaExceeded
			}

			_, err = tx.Exec(ctx, `
			INSERT INTO jobs (`+jobColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`,
				j.ID, j.Title, j.Route, j.Price, j.Type, j.Date, j.Description,
				j.Requirements, j.Owner, j.Phone, j.CreatedBy, j.CreatedAt, j.UpdatedAt,
			)
			return err
		})
	})
	if err != nil {
		return job.Job{}, err
	}
	return j, nil
}

func (r *FreightJobsRepo) GetByID(ctx context.Context, id string) (job.Job, error) {
	if !validID(id) {
		return job.Job{}, job.ErrNotFound
	}

	var (
		j   job.Job
		err error
	)

	err = r.observe("freight_jobs.get_by_id", func() error {
		j, err = scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrNotFound
		}
		return job.Job{}, err
	}
	return j, nil
}

func (r *FreightJobsRepo) List(ctx context.Context, f job.ListFilter) ([]job.Job, error) {
	var (
		conds []string
		args  []any
	)

	if t := f.TypeFilter(); t != "" {
		args = append(args, t)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+q+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(title ILIKE $%d OR route ILIKE $%d OR description ILIKE $%d OR owner ILIKE $%d)", n, n, n, n))
	}

	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, clampLimit(f.Limit, 200, 200))
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	return r.query(ctx, "freight_jobs.list", q, args...)
}

func (r *FreightJobsRepo) ListByOwner(ctx context.Context, ownerID string) ([]job.Job, error) {
	if !validID(ownerID) {
		return []job.Job{}, nil
	}
	return r.query(ctx, "freight_jobs.list_by_owner",
		`SELECT `+jobColumns+` FROM jobs WHERE created_by = $1 ORDER BY created_at DESC, id DESC`, ownerID)
}

func (r *FreightJobsRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.observe("freight_jobs.count", func() error {
		return r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&n)
	})
	return n, err
}

func (r *FreightJobsRepo) query(ctx context.Context, op, q string, args ...any) ([]job.Job, error) {
	out := make([]job.Job, 0)

	err := r.observe(op, func() error {
		rows, err := r.pool.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return err
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
