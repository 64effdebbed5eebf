package entitlement_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/job"
	"github.com/geocoder89/truckmatch/internal/domain/subscription"
	"github.com/geocoder89/truckmatch/internal/domain/user"
	"github.com/geocoder89/truckmatch/internal/entitlement"
	"github.com/geocoder89/truckmatch/internal/repo/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) ObserveEntitlement(check, gate string) {
	r.mu.Lock()
	r.calls = append(r.calls, check+":"+gate)
	r.mu.Unlock()
}

type fixture struct {
	store  *memory.Store
	engine *entitlement.Engine
	clock  *clock
	rec    *recorder
	owner  *user.User
	driver *user.User
	admin  *user.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	c := &clock{t: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	rec := &recorder{}

	f := &fixture{
		store:  store,
		engine: entitlement.NewEngine(store.Subscriptions(), store.Jobs()).WithClock(c.Now).WithRecorder(rec),
		clock:  c,
		rec:    rec,
		owner:  &user.User{ID: "owner-1", Name: "Owner", CompanyName: "Cargo LLC", Role: user.RoleOwner},
		driver: &user.User{ID: "driver-1", Name: "Driver", Role: user.RoleDriver},
		admin:  &user.User{ID: "admin-1", Name: "Admin", Role: user.RoleAdmin},
	}

	for _, u := range []*user.User{f.owner, f.driver, f.admin} {
		u.Email = u.ID + "@example.com"
		_, err := store.Users().Create(context.Background(), *u)
		require.NoError(t, err)
	}

	return f
}

func jobReq(i int) job.CreateRequest {
	return job.CreateRequest{
		Title: "Load " + strconv.Itoa(i),
		Route: "Tbilisi - Poti",
		Price: "500",
		Type:  "refrigerated",
		Date:  "2026-04-10",
	}
}

func countStatus(subs []subscription.Subscription, st subscription.Status) int {
	n := 0
	for _, s := range subs {
		if s.Status == st {
			n++
		}
	}
	return n
}

func TestActivateForPlan_ExpiresPreviousAndCancelsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.ActivateForPlan(ctx, f.owner, "starter")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, first.Status)
	assert.Equal(t, 2, first.JobLimit)
	assert.Equal(t, 20, first.PriceGEL)
	require.NotNil(t, first.ExpiresAt)
	assert.True(t, first.ExpiresAt.Equal(f.clock.Now().Add(30*24*time.Hour)))

	pending, err := f.engine.CreatePending(ctx, f.owner, "corporate")
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second, err := f.engine.ActivateForPlan(ctx, f.owner, "business")
	require.NoError(t, err)

	subs := f.store.Subscriptions().ByOwner(f.owner.ID)
	require.Len(t, subs, 3)
	assert.Equal(t, 1, countStatus(subs, subscription.StatusActive))

	for _, s := range subs {
		switch s.ID {
		case first.ID:
			assert.Equal(t, subscription.StatusExpired, s.Status)
		case pending.ID:
			assert.Equal(t, subscription.StatusCancelled, s.Status)
		case second.ID:
			assert.Equal(t, subscription.StatusActive, s.Status)
			assert.Equal(t, 10, s.JobLimit)
		}
	}
}

func TestActivateForPlan_ConcurrentLeavesOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.ActivateForPlan(ctx, f.owner, "starter")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	subs := f.store.Subscriptions().ByOwner(f.owner.ID)
	assert.Len(t, subs, 16)
	assert.Equal(t, 1, countStatus(subs, subscription.StatusActive))
	assert.Equal(t, 15, countStatus(subs, subscription.StatusExpired))
}

func TestActivateForPlan_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ActivateForPlan(ctx, f.driver, "starter")
	assert.ErrorIs(t, err, entitlement.ErrOwnerOnly)

	_, err = f.engine.ActivateForPlan(ctx, f.admin, "starter")
	assert.ErrorIs(t, err, entitlement.ErrOwnerOnly)

	_, err = f.engine.ActivateForPlan(ctx, nil, "starter")
	assert.ErrorIs(t, err, entitlement.ErrOwnerOnly)

	_, err = f.engine.ActivateForPlan(ctx, f.owner, "gold")
	assert.ErrorIs(t, err, subscription.ErrUnknownPlan)
}

func TestCanViewDriverDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.engine.CanViewDriverDirectory(ctx, nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.Preview)

	d, err = f.engine.CanViewDriverDirectory(ctx, f.owner)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, entitlement.GateNoSubscription, d.Gate)

	d, err = f.engine.CanViewDriverDirectory(ctx, f.admin)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, d.Preview)

	_, err = f.engine.ActivateForPlan(ctx, f.owner, "starter")
	require.NoError(t, err)

	d, err = f.engine.CanViewDriverDirectory(ctx, f.owner)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, d.Preview)
	require.NotNil(t, d.Subscription)
}

func TestCanViewDriverDirectory_DriverAlwaysGated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// a driver row that somehow owns an active subscription is still gated
	_, err := f.store.Subscriptions().ActivatePlan(ctx, f.driver.ID, mustPlan(t, "corporate"), f.clock.Now())
	require.NoError(t, err)

	d, err := f.engine.CanViewDriverDirectory(ctx, f.driver)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, entitlement.GateDriver, d.Gate)
}

func TestEntitlement_ExpiredTermIsNotActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ActivateForPlan(ctx, f.owner, "starter")
	require.NoError(t, err)

	f.clock.Advance(subscription.Term)

	d, err := f.engine.CanViewDriverDirectory(ctx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, entitlement.GateNoSubscription, d.Gate, "status still reads active but the term is over")

	cur, err := f.engine.Current(ctx, f.owner)
	require.NoError(t, err)
	assert.Nil(t, cur)

	n, err := f.engine.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	subs := f.store.Subscriptions().ByOwner(f.owner.ID)
	assert.Equal(t, subscription.StatusExpired, subs[0].Status)
}

func TestPostJob_QuotaSequential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, d, err := f.engine.PostJob(ctx, f.owner, jobReq(0))
	require.NoError(t, err)
	assert.Equal(t, entitlement.GateNoSubscription, d.Gate)

	_, err = f.engine.ActivateForPlan(ctx, f.owner, "starter")
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		j, d, err := f.engine.PostJob(ctx, f.owner, jobReq(i))
		require.NoError(t, err)
		require.True(t, d.Allowed, "job %d", i)
		assert.Equal(t, "Cargo LLC", j.Owner)
		assert.Equal(t, i, d.JobsUsed)
	}

	_, d, err = f.engine.PostJob(ctx, f.owner, jobReq(3))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, entitlement.GateQuotaExceeded, d.Gate)

	n, err := f.store.Jobs().CountByOwner(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPostJob_QuotaConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ActivateForPlan(ctx, f.owner, "starter")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, d, err := f.engine.PostJob(ctx, f.owner, jobReq(i))
			assert.NoError(t, err)
			if d.Allowed {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, created)
	n, err := f.store.Jobs().CountByOwner(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCanPostJob_NonOwner(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CanPostJob(context.Background(), f.driver)
	assert.True(t, errors.Is(err, entitlement.ErrOwnerOnly))
}

func TestCancelAndSetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active, err := f.engine.ActivateForPlan(ctx, f.owner, "starter")
	require.NoError(t, err)

	other := &user.User{ID: "owner-2", Role: user.RoleOwner}
	_, err = f.engine.Cancel(ctx, other, active.ID)
	assert.ErrorIs(t, err, subscription.ErrNotFound)

	cancelled, err := f.engine.Cancel(ctx, f.owner, active.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelled, cancelled.Status)

	_, err = f.engine.SetStatus(ctx, active.ID, "active")
	assert.ErrorIs(t, err, subscription.ErrInvalidTransition, "cancelled is terminal")

	_, err = f.engine.SetStatus(ctx, active.ID, "paused")
	assert.ErrorIs(t, err, subscription.ErrInvalidStatus)

	pending, err := f.engine.CreatePending(ctx, f.owner, "business")
	require.NoError(t, err)
	running, err := f.engine.ActivateForPlan(ctx, f.owner, "starter")
	require.NoError(t, err)

	// activating via ActivateForPlan cancelled the pending row
	_, err = f.engine.SetStatus(ctx, pending.ID, "active")
	assert.ErrorIs(t, err, subscription.ErrInvalidTransition)

	pending2, err := f.engine.CreatePending(ctx, f.owner, "business")
	require.NoError(t, err)
	activated, err := f.engine.SetStatus(ctx, pending2.ID, "active")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, activated.Status)

	subs := f.store.Subscriptions().ByOwner(f.owner.ID)
	assert.Equal(t, 1, countStatus(subs, subscription.StatusActive))
	for _, s := range subs {
		if s.ID == running.ID {
			assert.Equal(t, subscription.StatusExpired, s.Status)
		}
	}
}

func TestRecorderSeesDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CanViewDriverDirectory(ctx, nil)
	require.NoError(t, err)
	_, err = f.engine.CanViewDriverDirectory(ctx, f.driver)
	require.NoError(t, err)

	assert.Equal(t, []string{"driver_directory:preview", "driver_directory:driver"}, f.rec.calls)
}

func mustPlan(t *testing.T, name string) subscription.Plan {
	t.Helper()
	p, err := subscription.LookupPlan(name)
	require.NoError(t, err)
	return p
}

func TestEngine_WithClockAndRecorderDoNotTouchTheBase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := entitlement.NewEngine(f.store.Subscriptions(), f.store.Jobs())
	_, err := base.ActivateForPlan(ctx, f.owner, "starter")
	require.NoError(t, err)

	rec := &recorder{}
	later := base.WithClock(func() time.Time { return time.Now().Add(2 * subscription.Term) }).WithRecorder(rec)

	d, err := later.CanPostJob(ctx, f.owner)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, entitlement.GateNoSubscription, d.Gate)

	d, err = base.CanPostJob(ctx, f.owner)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "the base engine must keep the real clock")

	rec.mu.Lock()
	calls := len(rec.calls)
	rec.mu.Unlock()
	assert.Equal(t, 1, calls, "only the derived engine reports decisions")
}
