// Package entitlement decides what a principal may do based on role and
// subscription state, and owns the subscription lifecycle.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/job"
	"github.com/geocoder89/truckmatch/internal/domain/subscription"
	"github.com/geocoder89/truckmatch/internal/domain/user"
)

// Gate is the machine-readable reason attached to a denial.
type Gate string

const (
	GateNone           Gate = ""
	GateDriver         Gate = "driver"
	GateNoSubscription Gate = "no_subscription"
	GateQuotaExceeded  Gate = "quota_exceeded"
)

var ErrOwnerOnly = errors.New("only owners hold subscriptions")

// SubscriptionStore persists subscriptions. ActivatePlan and Transition must
// serialize per owner so at most one row is active at a time.
type SubscriptionStore interface {
	LatestEntitled(ctx context.Context, userID string, now time.Time) (subscription.Subscription, error)
	ActivatePlan(ctx context.Context, userID string, plan subscription.Plan, now time.Time) (subscription.Subscription, error)
	CreatePending(ctx context.Context, userID string, plan subscription.Plan, now time.Time) (subscription.Subscription, error)
	Transition(ctx context.Context, id string, ownerID *string, to subscription.Status, now time.Time) (subscription.Subscription, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// JobStore counts and creates jobs. CreateWithinQuota re-checks entitlement and
// the count under the owner's lock and returns subscription.ErrNoEntitlement or
// subscription.ErrQuotaExceeded when the slot is gone.
type JobStore interface {
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	CreateWithinQuota(ctx context.Context, j job.Job, now time.Time) (job.Job, error)
}

type Recorder interface {
	ObserveEntitlement(check string, gate string)
}

type Decision struct {
	Allowed      bool
	Preview      bool
	Gate         Gate
	Subscription *subscription.Subscription
	JobsUsed     int
}

func allow(sub *subscription.Subscription) Decision {
	return Decision{Allowed: true, Subscription: sub}
}

func deny(g Gate) Decision {
	return Decision{Gate: g}
}

type Engine struct {
	subs SubscriptionStore
	jobs JobStore
	now  func() time.Time
	rec  Recorder
}

func NewEngine(subs SubscriptionStore, jobs JobStore) *Engine {
	return &Engine{subs: subs, jobs: jobs, now: time.Now}
}

// WithClock returns a copy of the engine that reads time from now.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	cp := *e
	cp.now = now
	return &cp
}

// WithRecorder returns a copy of the engine that reports decisions to rec.
func (e *Engine) WithRecorder(rec Recorder) *Engine {
	cp := *e
	cp.rec = rec
	return &cp
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

func (e *Engine) record(check string, d Decision) {
	if e.rec == nil {
		return
	}
	gate := string(d.Gate)
	if d.Allowed {
		gate = "allowed"
		if d.Preview {
			gate = "preview"
		}
	}
	e.rec.ObserveEntitlement(check, gate)
}

// ActivateForPlan expires the owner's active rows, cancels pending ones and
// inserts a fresh active subscription for plan.
func (e *Engine) ActivateForPlan(ctx context.Context, owner *user.User, planName string) (subscription.Subscription, error) {
	if owner == nil || owner.Role != user.RoleOwner {
		return subscription.Subscription{}, ErrOwnerOnly
	}

	plan, err := subscription.LookupPlan(planName)
	if err != nil {
		return subscription.Subscription{}, err
	}

	sub, err := e.subs.ActivatePlan(ctx, owner.ID, plan, e.clock())
	if err != nil {
		return subscription.Subscription{}, fmt.Errorf("activate %s: %w", plan.Name, err)
	}
	return sub, nil
}

func (e *Engine) CreatePending(ctx context.Context, owner *user.User, planName string) (subscription.Subscription, error) {
	if owner == nil || owner.Role != user.RoleOwner {
		return subscription.Subscription{}, ErrOwnerOnly
	}

	plan, err := subscription.LookupPlan(planName)
	if err != nil {
		return subscription.Subscription{}, err
	}

	return e.subs.CreatePending(ctx, owner.ID, plan, e.clock())
}

// Cancel lets an owner cancel one of their own pending or active rows.
func (e *Engine) Cancel(ctx context.Context, owner *user.User, id string) (subscription.Subscription, error) {
	if owner == nil || owner.Role != user.RoleOwner {
		return subscription.Subscription{}, ErrOwnerOnly
	}
	ownerID := owner.ID
	return e.subs.Transition(ctx, id, &ownerID, subscription.StatusCancelled, e.clock())
}

// SetStatus is the admin transition. Moving to active restamps the term and
// expires the owner's other active rows.
func (e *Engine) SetStatus(ctx context.Context, id string, status string) (subscription.Subscription, error) {
	to, err := subscription.ParseStatus(status)
	if err != nil {
		return subscription.Subscription{}, err
	}
	if to == subscription.StatusPending {
		return subscription.Subscription{}, subscription.ErrInvalidTransition
	}
	return e.subs.Transition(ctx, id, nil, to, e.clock())
}

// Current returns the principal's entitled subscription, or nil for anyone
// who is not an entitled owner.
func (e *Engine) Current(ctx context.Context, p *user.User) (*subscription.Subscription, error) {
	if p == nil || p.Role != user.RoleOwner {
		return nil, nil
	}
	return e.entitled(ctx, p.ID)
}

func (e *Engine) entitled(ctx context.Context, ownerID string) (*subscription.Subscription, error) {
	sub, err := e.subs.LatestEntitled(ctx, ownerID, e.clock())
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	return &sub, nil
}

// CanViewDriverDirectory: anonymous callers get preview, drivers are gated,
// owners need an entitled subscription, admins see everything.
func (e *Engine) CanViewDriverDirectory(ctx context.Context, p *user.User) (Decision, error) {
	d, err := e.canViewDriverDirectory(ctx, p)
	if err == nil {
		e.record("driver_directory", d)
	}
	return d, err
}

func (e *Engine) canViewDriverDirectory(ctx context.Context, p *user.User) (Decision, error) {
	if p == nil {
		return Decision{Allowed: true, Preview: true}, nil
	}

	switch p.Role {
	case user.RoleDriver:
		return deny(GateDriver), nil
	case user.RoleOwner:
		sub, err := e.entitled(ctx, p.ID)
		if err != nil {
			return Decision{}, err
		}
		if sub == nil {
			return deny(GateNoSubscription), nil
		}
		return allow(sub), nil
	case user.RoleAdmin:
		return allow(nil), nil
	default:
		return deny(GateDriver), nil
	}
}

// CanPostJob requires an entitled subscription with a free job slot.
func (e *Engine) CanPostJob(ctx context.Context, owner *user.User) (Decision, error) {
	d, err := e.canPostJob(ctx, owner)
	if err == nil {
		e.record("post_job", d)
	}
	return d, err
}

func (e *Engine) canPostJob(ctx context.Context, owner *user.User) (Decision, error) {
	if owner == nil || owner.Role != user.RoleOwner {
		return Decision{}, ErrOwnerOnly
	}

	sub, err := e.entitled(ctx, owner.ID)
	if err != nil {
		return Decision{}, err
	}
	if sub == nil {
		return deny(GateNoSubscription), nil
	}

	used, err := e.jobs.CountByOwner(ctx, owner.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("count jobs: %w", err)
	}

	if used >= sub.JobLimit {
		d := deny(GateQuotaExceeded)
		d.Subscription = sub
		d.JobsUsed = used
		return d, nil
	}

	d := allow(sub)
	d.JobsUsed = used
	return d, nil
}

// PostJob pre-checks the quota and then creates the job through the store's
// locked reservation, which is authoritative under concurrency.
func (e *Engine) PostJob(ctx context.Context, owner *user.User, req job.CreateRequest) (job.Job, Decision, error) {
	d, err := e.CanPostJob(ctx, owner)
	if err != nil || !d.Allowed {
		return job.Job{}, d, err
	}

	label := owner.CompanyName
	if label == "" {
		label = owner.Name
	}

	now := e.clock()
	j := job.New(req, owner.ID, label, now)
	if j.Phone == "" {
		j.Phone = owner.Phone
	}

	created, err := e.jobs.CreateWithinQuota(ctx, j, now)
	switch {
	case errors.Is(err, subscription.ErrQuotaExceeded):
		denied := deny(GateQuotaExceeded)
		denied.Subscription = d.Subscription
		denied.JobsUsed = d.JobsUsed
		e.record("post_job_commit", denied)
		return job.Job{}, denied, nil
	case errors.Is(err, subscription.ErrNoEntitlement):
		denied := deny(GateNoSubscription)
		e.record("post_job_commit", denied)
		return job.Job{}, denied, nil
	case err != nil:
		return job.Job{}, Decision{}, fmt.Errorf("create job: %w", err)
	}

	d.JobsUsed++
	return created, d, nil
}

// ExpireStale flips active rows whose term has ended.
func (e *Engine) ExpireStale(ctx context.Context) (int64, error) {
	return e.subs.ExpireStale(ctx, e.clock())
}
