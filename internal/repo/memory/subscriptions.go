package memory

import (
	"context"
	"sort"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/subscription"
)

type SubscriptionsRepo struct {
	s *Store
}

func (r *SubscriptionsRepo) LatestEntitled(ctx context.Context, userID string, now time.Time) (subscription.Subscription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sub, ok := r.s.latestEntitledLocked(userID, now)
	if !ok {
		return subscription.Subscription{}, subscription.ErrNotFound
	}
	return sub, nil
}

func (s *Store) latestEntitledLocked(userID string, now time.Time) (subscription.Subscription, bool) {
	var (
		best  subscription.Subscription
		found bool
	)
	for _, sub := range s.subs {
		if sub.UserID != userID || !sub.Entitled(now) {
			continue
		}
		if !found || sub.ActivatedAt.After(*best.ActivatedAt) {
			best = sub
			found = true
		}
	}
	return best, found
}

func (r *SubscriptionsRepo) ActivatePlan(ctx context.Context, userID string, plan subscription.Plan, now time.Time) (subscription.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.retireSiblingsLocked(userID, "", now, true)

	sub := subscription.NewActive(userID, plan, now)
	r.s.subs[sub.ID] = sub
	return sub, nil
}

func (r *SubscriptionsRepo) CreatePending(ctx context.Context, userID string, plan subscription.Plan, now time.Time) (subscription.Subscription, error) {
	sub := subscription.NewPending(userID, plan, now)

	r.s.mu.Lock()
	r.s.subs[sub.ID] = sub
	r.s.mu.Unlock()

	return sub, nil
}

func (r *SubscriptionsRepo) Transition(ctx context.Context, id string, ownerID *string, to subscription.Status, now time.Time) (subscription.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sub, ok := r.s.subs[id]
	if !ok || (ownerID != nil && sub.UserID != *ownerID) {
		return subscription.Subscription{}, subscription.ErrNotFound
	}
	if !subscription.CanTransition(sub.Status, to) {
		return subscription.Subscription{}, subscription.ErrInvalidTransition
	}

	if to == subscription.StatusActive {
		r.s.retireSiblingsLocked(sub.UserID, sub.ID, now, false)
		sub.Activate(now)
	} else {
		sub.Status = to
		sub.UpdatedAt = now
	}

	r.s.subs[id] = sub
	return sub, nil
}

// retireSiblingsLocked expires the owner's active rows and, when cancelPending
// is set, cancels pending ones. skipID is left untouched.
func (s *Store) retireSiblingsLocked(userID, skipID string, now time.Time, cancelPending bool) {
	for sid, sub := range s.subs {
		if sub.UserID != userID || sid == skipID {
			continue
		}
		switch {
		case sub.Status == subscription.StatusActive:
			sub.Status = subscription.StatusExpired
		case sub.Status == subscription.StatusPending && cancelPending:
			sub.Status = subscription.StatusCancelled
		default:
			continue
		}
		sub.UpdatedAt = now
		s.subs[sid] = sub
	}
}

func (r *SubscriptionsRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, sub := range r.s.subs {
		if sub.Status == subscription.StatusActive && sub.ExpiresAt != nil && !now.Before(*sub.ExpiresAt) {
			sub.Status = subscription.StatusExpired
			sub.UpdatedAt = now
			r.s.subs[id] = sub
			n++
		}
	}
	return n, nil
}

func (r *SubscriptionsRepo) List(ctx context.Context, f subscription.ListFilter) ([]subscription.WithUser, error) {
	r.s.mu.RLock()
	out := make([]subscription.WithUser, 0)
	for _, sub := range r.s.subs {
		if f.Status != nil && sub.Status != *f.Status {
			continue
		}
		row := subscription.WithUser{Subscription: sub}
		if u, ok := r.s.users[sub.UserID]; ok {
			row.UserEmail = u.Email
			row.UserName = u.Name
		}
		out = append(out, row)
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit := limitOr(f.Limit, 200, 500)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SubscriptionsRepo) CountByStatus(ctx context.Context) (map[subscription.Status]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := map[subscription.Status]int{}
	for _, sub := range r.s.subs {
		out[sub.Status]++
	}
	return out, nil
}

// ByOwner returns every row for userID. Used by tests.
func (r *SubscriptionsRepo) ByOwner(userID string) []subscription.Subscription {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]subscription.Subscription, 0)
	for _, sub := range r.s.subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
