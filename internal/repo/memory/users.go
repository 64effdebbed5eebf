package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/geocoder89/truckmatch/internal/domain/user"
)

type UsersRepo struct {
	s *Store
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

// GetByLogin matches the identifier against email or username, case-insensitively.
func (r *UsersRepo) GetByLogin(ctx context.Context, identifier string) (user.User, error) {
	key := strings.ToLower(strings.TrimSpace(identifier))

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if u.Email == key || (u.Username != nil && *u.Username == key) {
			return u, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.checkUniqueLocked(u); err != nil {
		return user.User{}, err
	}
	r.s.users[u.ID] = u
	return u, nil
}

func (r *UsersRepo) Update(ctx context.Context, u user.User) (user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[u.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	r.s.users[u.ID] = u
	return u, nil
}

// UpsertAdmin creates the admin or promotes and re-passwords the matching row.
func (r *UsersRepo) UpsertAdmin(ctx context.Context, u user.User) (user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, existing := range r.s.users {
		sameEmail := existing.Email == u.Email
		sameUsername := u.Username != nil && existing.Username != nil && *existing.Username == *u.Username
		if !sameEmail && !sameUsername {
			continue
		}

		existing.Role = user.RoleAdmin
		existing.PasswordHash = u.PasswordHash
		existing.Name = u.Name
		if u.Username != nil {
			existing.Username = u.Username
		}
		existing.UpdatedAt = u.UpdatedAt
		r.s.users[id] = existing
		return existing, nil
	}

	r.s.users[u.ID] = u
	return u, nil
}

func (r *UsersRepo) SetPassword(ctx context.Context, id, hash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return user.ErrNotFound
	}
	u.PasswordHash = hash
	r.s.users[id] = u
	return nil
}

// Delete removes the user with their subscriptions and detaches their jobs.
func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[id]; !ok {
		return user.ErrNotFound
	}
	delete(r.s.users, id)

	for sid, sub := range r.s.subs {
		if sub.UserID == id {
			delete(r.s.subs, sid)
		}
	}
	for jid, j := range r.s.jobs {
		if j.CreatedBy != nil && *j.CreatedBy == id {
			j.CreatedBy = nil
			r.s.jobs[jid] = j
		}
	}
	return nil
}

func (r *UsersRepo) List(ctx context.Context, f user.ListFilter) ([]user.User, error) {
	q := strings.ToLower(strings.TrimSpace(f.Query))

	r.s.mu.RLock()
	out := make([]user.User, 0)
	for _, u := range r.s.users {
		if f.Role != nil && u.Role != *f.Role {
			continue
		}
		if q != "" && !containsAny(q, u.Email, u.Name, deref(u.Username), u.CompanyName) {
			continue
		}
		out = append(out, u)
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit := limitOr(f.Limit, 200, 500)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListDrivers orders verified drivers first, then by rating, then newest.
func (r *UsersRepo) ListDrivers(ctx context.Context, f user.DriverFilter) ([]user.User, error) {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	category := strings.TrimSpace(f.Category)

	r.s.mu.RLock()
	out := make([]user.User, 0)
	for _, u := range r.s.users {
		if u.Role != user.RoleDriver {
			continue
		}
		if q != "" && !containsAny(q, u.Name, u.Location, u.Bio, u.WorkZone, u.Experience) {
			continue
		}
		if category != "" && !hasCategory(u, category) {
			continue
		}
		out = append(out, u)
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Verified != b.Verified {
			return a.Verified
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	limit := limitOr(f.Limit, 200, 200)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *UsersRepo) CountByRole(ctx context.Context) (map[user.Role]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := map[user.Role]int{}
	for _, u := range r.s.users {
		out[u.Role]++
	}
	return out, nil
}

func (r *UsersRepo) checkUniqueLocked(u user.User) error {
	for _, existing := range r.s.users {
		if existing.Email == u.Email {
			return user.ErrEmailTaken
		}
		if u.Username != nil && existing.Username != nil && *existing.Username == *u.Username {
			return user.ErrUsernameTaken
		}
	}
	return nil
}

func hasCategory(u user.User, category string) bool {
	if strings.EqualFold(u.LicenseCategory, category) {
		return true
	}
	for _, c := range u.Categories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

func containsAny(q string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
