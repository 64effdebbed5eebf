package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/geocoder89/truckmatch/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsersRepo struct {
	base
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{base{pool: pool, prom: prom}}
}

const userColumns = `id, email, username, password_hash, name, role,
	company_name, phone, license_category, location, experience,
	categories, rating, bio, verified, trips, work_zone,
	created_at, updated_at`

func scanUser(row pgx.Row) (user.User, error) {
	var (
		u    user.User
		role string
	)

	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Name, &role,
		&u.CompanyName, &u.Phone, &u.LicenseCategory, &u.Location, &u.Experience,
		&u.Categories, &u.Rating, &u.Bio, &u.Verified, &u.Trips, &u.WorkZone,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return user.User{}, err
	}

	u.Role = user.Role(role)
	return u, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	if !validID(id) {
		return user.User{}, user.ErrNotFound
	}

	var (
		u   user.User
		err error
	)

	err = r.observe("users.get_by_id", func() error {
		u, err = scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

// GetByLogin matches the identifier against email or username, case-insensitively.
func (r *UsersRepo) GetByLogin(ctx context.Context, identifier string) (user.User, error) {
	key := strings.ToLower(strings.TrimSpace(identifier))

	var (
		u   user.User
		err error
	)

	err = r.observe("users.get_by_login", func() error {
		u, err = scanUser(r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE lower(email) = $1 OR lower(username) = $1
		ORDER BY (lower(email) = $1) DESC
		LIMIT 1
	`, key))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	if u.Categories == nil {
		u.Categories = []string{}
	}

	err := r.observe("users.create", func() error {
		_, err := r.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`,
			u.ID, u.Email, u.Username, u.PasswordHash, u.Name, string(u.Role),
			u.CompanyName, u.Phone, u.LicenseCategory, u.Location, u.Experience,
			u.Categories, u.Rating, u.Bio, u.Verified, u.Trips, u.WorkZone,
			u.CreatedAt, u.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return user.User{}, mapUserConflict(err)
	}
	return u, nil
}

func mapUserConflict(err error) error {
	if !IsUniqueViolation(err) {
		return err
	}
	if constraintName(err) == "users_username_key" {
		return user.ErrUsernameTaken
	}
	return user.ErrEmailTaken
}

// Update writes every mutable column of u.
func (r *UsersRepo) Update(ctx context.Context, u user.User) (user.User, error) {
	if !validID(u.ID) {
		return user.User{}, user.ErrNotFound
	}
	if u.Categories == nil {
		u.Categories = []string{}
	}

	var tag pgconn.CommandTag

	err := r.observe("users.update", func() error {
		var err error
		tag, err = r.pool.Exec(ctx, `
		UPDATE users
		SET email = $2, username = $3, name = $4, role = $5,
		    company_name = $6, phone = $7, license_category = $8, location = $9,
		    experience = $10, categories = $11, rating = $12, bio = $13,
		    verified = $14, trips = $15, work_zone = $16, updated_at = $17
		WHERE id = $1
	`,
			u.ID, u.Email, u.Username, u.Name, string(u.Role),
			u.CompanyName, u.Phone, u.LicenseCategory, u.Location,
			u.Experience, u.Categories, u.Rating, u.Bio,
			u.Verified, u.Trips, u.WorkZone, u.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return user.User{}, mapUserConflict(err)
	}
	if tag.RowsAffected() == 0 {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

// UpsertAdmin creates the admin or promotes and re-passwords the row that
// already holds the email or username.
func (r *UsersRepo) UpsertAdmin(ctx context.Context, u user.User) (user.User, error) {
	var (
		out user.User
		err error
	)

	err = r.observe("users.upsert_admin", func() error {
		out, err = scanUser(r.pool.QueryRow(ctx, `
		UPDATE users
		SET role = 'admin',
		    password_hash = $3,
		    name = $4,
		    username = COALESCE($2, username),
		    updated_at = $5
		WHERE id = (
			SELECT id FROM users
			WHERE lower(email) = lower($1) OR ($2::text IS NOT NULL AND lower(username) = lower($2))
			LIMIT 1
		)
		RETURNING `+userColumns,
			u.Email, u.Username, u.PasswordHash, u.Name, u.UpdatedAt,
		))
		return err
	})
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return user.User{}, err
	}

	return r.Create(ctx, u)
}

func (r *UsersRepo) SetPassword(ctx context.Context, id, hash string) error {
	if !validID(id) {
		return user.ErrNotFound
	}

	var tag pgconn.CommandTag

	err := r.observe("users.set_password", func() error {
		var err error
		tag, err = r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
		return err
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

// Delete removes the user. Subscriptions cascade and authored jobs are detached
// by the foreign keys.
func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return user.ErrNotFound
	}

	var tag pgconn.CommandTag

	err := r.observe("users.delete", func() error {
		var err error
		tag, err = r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (r *UsersRepo) List(ctx context.Context, f user.ListFilter) ([]user.User, error) {
	var (
		conds []string
		args  []any
	)

	if f.Role != nil {
		args = append(args, string(*f.Role))
		conds = append(conds, fmt.Sprintf("role = $%d", len(args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+q+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(email ILIKE $%d OR name ILIKE $%d OR username ILIKE $%d OR company_name ILIKE $%d)", n, n, n, n))
	}

	q := `SELECT ` + userColumns + ` FROM users`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, clampLimit(f.Limit, 200, 500))
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	return r.query(ctx, "users.list", q, args...)
}

// ListDrivers orders verified drivers first, then by rating, then newest.
func (r *UsersRepo) ListDrivers(ctx context.Context, f user.DriverFilter) ([]user.User, error) {
	conds := []string{"role = 'driver'"}
	var args []any

	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+q+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(name ILIKE $%d OR location ILIKE $%d OR bio ILIKE $%d OR work_zone ILIKE $%d OR experience ILIKE $%d)",
			n, n, n, n, n))
	}
	if c := strings.TrimSpace(f.Category); c != "" {
		args = append(args, c)
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(lower(license_category) = lower($%d) OR EXISTS (SELECT 1 FROM unnest(categories) AS c WHERE lower(c) = lower($%d)))", n, n))
	}

	args = append(args, clampLimit(f.Limit, 200, 200))
	q := `SELECT ` + userColumns + ` FROM users WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(" ORDER BY verified DESC, rating DESC, created_at DESC LIMIT $%d", len(args))

	return r.query(ctx, "users.list_drivers", q, args...)
}

func (r *UsersRepo) CountByRole(ctx context.Context) (map[user.Role]int, error) {
	out := map[user.Role]int{}

	err := r.observe("users.count_by_role", func() error {
		rows, err := r.pool.Query(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				role string
				n    int
			)
			if err := rows.Scan(&role, &n); err != nil {
				return err
			}
			out[user.Role(role)] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *UsersRepo) query(ctx context.Context, op, q string, args ...any) ([]user.User, error) {
	out := make([]user.User, 0)

	err := r.observe(op, func() error {
		rows, err := r.pool.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
