package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/job"
	"github.com/geocoder89/truckmatch/internal/domain/subscription"
)

type JobsRepo struct {
	s *Store
}

func (r *JobsRepo) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.s.countByOwnerLocked(ownerID), nil
}

func (s *Store) countByOwnerLocked(ownerID string) int {
	n := 0
	for _, j := range s.jobs {
		if j.CreatedBy != nil && *j.CreatedBy == ownerID {
			n++
		}
	}
	return n
}

func (r *JobsRepo) CreateWithinQuota(ctx context.Context, j job.Job, now time.Time) (job.Job, error) {
	if j.CreatedBy == nil {
		return job.Job{}, subscription.ErrNoEntitlement
	}
	ownerID := *j.CreatedBy

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sub, ok := r.s.latestEntitledLocked(ownerID, now)
	if !ok {
		return job.Job{}, subscription.ErrNoEntitlement
	}
	if r.s.countByOwnerLocked(ownerID) >= sub.JobLimit {
		return job.Job{}, subscription.ErrQuotaExceeded
	}

	r.s.jobs[j.ID] = j
	return j, nil
}

func (r *JobsRepo) GetByID(ctx context.Context, id string) (job.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	j, ok := r.s.jobs[id]
	if !ok {
		return job.Job{}, job.ErrNotFound
	}
	return j, nil
}

func (r *JobsRepo) List(ctx context.Context, f job.ListFilter) ([]job.Job, error) {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	typ := f.TypeFilter()

	r.s.mu.RLock()
	out := make([]job.Job, 0)
	for _, j := range r.s.jobs {
		if typ != "" && j.Type != typ {
			continue
		}
		if q != "" && !containsAny(q, j.Title, j.Route, j.Description, j.Owner) {
			continue
		}
		out = append(out, j)
	}
	r.s.mu.RUnlock()

	sortNewest(out)

	limit := limitOr(f.Limit, 200, 200)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobsRepo) ListByOwner(ctx context.Context, ownerID string) ([]job.Job, error) {
	r.s.mu.RLock()
	out := make([]job.Job, 0)
	for _, j := range r.s.jobs {
		if j.CreatedBy != nil && *j.CreatedBy == ownerID {
			out = append(out, j)
		}
	}
	r.s.mu.RUnlock()

	sortNewest(out)
	return out, nil
}

func (r *JobsRepo) Count(ctx context.Context) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.jobs), nil
}

func sortNewest(items []job.Job) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
