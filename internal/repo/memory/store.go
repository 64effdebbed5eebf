// Package memory is an in-process store used for local development and tests.
// A single mutex covers every table so per-owner invariants that span
// subscriptions and jobs hold the same way the Postgres row lock makes them hold.
package memory

import (
	"sync"

	"github.com/geocoder89/truckmatch/internal/domain/job"
	"github.com/geocoder89/truckmatch/internal/domain/subscription"
	"github.com/geocoder89/truckmatch/internal/domain/task"
	"github.com/geocoder89/truckmatch/internal/domain/user"
)

type Store struct {
	mu    sync.RWMutex
	users map[string]user.User
	subs  map[string]subscription.Subscription
	jobs  map[string]job.Job
	tasks map[string]task.Task

	deliveries *DeliveriesRepo
}

func NewStore() *Store {
	return &Store{
		users: make(map[string]user.User),
		subs:  make(map[string]subscription.Subscription),
		jobs:  make(map[string]job.Job),
		tasks: make(map[string]task.Task),

		deliveries: NewDeliveriesRepo(),
	}
}

func (s *Store) Users() *UsersRepo                 { return &UsersRepo{s: s} }
func (s *Store) Subscriptions() *SubscriptionsRepo { return &SubscriptionsRepo{s: s} }
func (s *Store) Jobs() *JobsRepo                   { return &JobsRepo{s: s} }
func (s *Store) Tasks() *TasksRepo                 { return &TasksRepo{s: s} }
func (s *Store) Deliveries() *DeliveriesRepo       { return s.deliveries }

func limitOr(n, fallback, max int) int {
	if n <= 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}
