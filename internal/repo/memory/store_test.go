package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/delivery"
	"github.com/geocoder89/truckmatch/internal/domain/job"
	"github.com/geocoder89/truckmatch/internal/domain/subscription"
	"github.com/geocoder89/truckmatch/internal/domain/task"
	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/geocoder89/truckmatch/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, s *Store, id, email string, role user.Role, at time.Time) user.User {
	t.Helper()
	u := user.New(user.CreateRequest{Email: email, Name: id, Role: role}, id, at)
	_, err := s.Users().Create(context.Background(), u)
	require.NoError(t, err)
	return u
}

func TestUsers_UniqueAndLogin(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	un := "Trucker"
	u := user.New(user.CreateRequest{Email: "A@Example.com", Username: &un, Name: "A", Role: user.RoleDriver}, "u1", now)
	_, err := s.Users().Create(ctx, u)
	require.NoError(t, err)

	dup := user.New(user.CreateRequest{Email: "a@example.com", Name: "B", Role: user.RoleOwner}, "u2", now)
	_, err = s.Users().Create(ctx, dup)
	assert.ErrorIs(t, err, user.ErrEmailTaken)

	other := "trucker"
	dup2 := user.New(user.CreateRequest{Email: "c@example.com", Username: &other, Name: "C", Role: user.RoleOwner}, "u3", now)
	_, err = s.Users().Create(ctx, dup2)
	assert.ErrorIs(t, err, user.ErrUsernameTaken)

	got, err := s.Users().GetByLogin(ctx, " TRUCKER ")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	got, err = s.Users().GetByLogin(ctx, "a@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	_, err = s.Users().GetByLogin(ctx, "nobody")
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestUsers_ListDriversOrdering(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mk := func(id string, verified bool, rating float64, offset time.Duration) {
		u := seedUser(t, s, id, id+"@example.com", user.RoleDriver, base.Add(offset))
		u.Verified = verified
		u.Rating = rating
		u.Categories = []string{"CE"}
		_, err := s.Users().Update(ctx, u)
		require.NoError(t, err)
	}

	mk("low", false, 3.0, 0)
	mk("high", false, 4.9, time.Hour)
	mk("verified-old", true, 4.0, 2*time.Hour)
	mk("verified-new", true, 4.0, 3*time.Hour)
	seedUser(t, s, "owner", "owner@example.com", user.RoleOwner, base)

	got, err := s.Users().ListDrivers(ctx, user.DriverFilter{})
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, u := range got {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []string{"verified-new", "verified-old", "high", "low"}, ids)

	got, err = s.Users().ListDrivers(ctx, user.DriverFilter{Category: "ce", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Users().ListDrivers(ctx, user.DriverFilter{Category: "B"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUsers_DeleteCascades(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	owner := seedUser(t, s, "o1", "o1@example.com", user.RoleOwner, now)
	plan, err := subscription.LookupPlan("starter")
	require.NoError(t, err)
	_, err = s.Subscriptions().ActivatePlan(ctx, owner.ID, plan, now)
	require.NoError(t, err)

	j := job.New(job.CreateRequest{Title: "Load", Route: "A - B", Price: "1", Type: "t", Date: "d"}, owner.ID, "Owner", now)
	_, err = s.Jobs().CreateWithinQuota(ctx, j, now)
	require.NoError(t, err)

	require.NoError(t, s.Users().Delete(ctx, owner.ID))

	assert.Empty(t, s.Subscriptions().ByOwner(owner.ID))
	kept, err := s.Jobs().GetByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Nil(t, kept.CreatedBy)

	assert.ErrorIs(t, s.Users().Delete(ctx, owner.ID), user.ErrNotFound)
}

func TestUsers_UpsertAdminPromotes(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	seedUser(t, s, "u1", "boss@example.com", user.RoleOwner, now)

	admin := user.New(user.CreateRequest{Email: "boss@example.com", Name: "Boss", Role: user.RoleAdmin, PasswordHash: "h"}, "fresh", now)
	got, err := s.Users().UpsertAdmin(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, user.RoleAdmin, got.Role)

	counts, err := s.Users().CountByRole(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[user.RoleAdmin])
	assert.Zero(t, counts[user.RoleOwner])
}

func TestTasks_IdempotentEnqueueAndClaim(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	key := "application:j1:d1"
	req := task.CreateRequest{Type: "application.notify", Payload: json.RawMessage(`{}`), IdempotencyKey: &key}

	first, err := s.Tasks().Enqueue(ctx, req)
	require.NoError(t, err)

	again, err := s.Tasks().Enqueue(ctx, req)
	assert.ErrorIs(t, err, task.ErrDuplicate)
	assert.Equal(t, first.ID, again.ID)

	claimed, err := s.Tasks().ClaimNext(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, task.StatusProcessing, claimed.Status)

	_, err = s.Tasks().ClaimNext(ctx, "w2")
	assert.ErrorIs(t, err, task.ErrNotFound)

	require.NoError(t, s.Tasks().MarkFailed(ctx, first.ID, "smtp down"))
	assert.ErrorIs(t, s.Tasks().Retry(ctx, "missing"), task.ErrNotFound)
	require.NoError(t, s.Tasks().Retry(ctx, first.ID))
	assert.ErrorIs(t, s.Tasks().Retry(ctx, first.ID), task.ErrNotFailed)

	got, err := s.Tasks().GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Nil(t, got.LastError)
}

func TestTasks_ListCursorPages(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Tasks().Enqueue(ctx, task.CreateRequest{Type: "application.notify", Payload: json.RawMessage(`{}`)})
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	cur := utils.FirstPage()
	pages := 0
	for {
		items, next, more, err := s.Tasks().ListCursor(ctx, nil, 2, cur)
		require.NoError(t, err)
		for _, it := range items {
			assert.False(t, seen[it.ID], "task %s listed twice", it.ID)
			seen[it.ID] = true
		}
		pages++
		if !more {
			break
		}
		require.NotNil(t, next)
		cur, err = utils.DecodeTaskCursor(*next)
		require.NoError(t, err)
	}

	assert.Len(t, seen, 5)
	assert.Equal(t, 3, pages)
}

func TestDeliveries_SlotLifecycle(t *testing.T) {
	r := NewDeliveriesRepo()
	ctx := context.Background()
	kind := delivery.KindApplicationNotice

	require.NoError(t, r.TryStart(ctx, kind, "k", "t1", "owner@example.com"))
	assert.ErrorIs(t, r.TryStart(ctx, kind, "k", "t2", "owner@example.com"), delivery.ErrInProgress)

	require.NoError(t, r.MarkFailed(ctx, kind, "k", "boom"))
	require.NoError(t, r.TryStart(ctx, kind, "k", "t2", "owner@example.com"))

	require.NoError(t, r.MarkSent(ctx, kind, "k"))
	assert.ErrorIs(t, r.TryStart(ctx, kind, "k", "t3", "owner@example.com"), delivery.ErrAlreadySent)
}
