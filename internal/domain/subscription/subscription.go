package subscription

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Term is how long a paid subscription stays entitled.
const Term = 30 * 24 * time.Hour

var (
	ErrNotFound          = errors.New("subscription not found")
	ErrUnknownPlan       = errors.New("unknown plan")
	ErrInvalidStatus     = errors.New("invalid subscription status")
	ErrInvalidTransition = errors.New("invalid subscription transition")
	ErrNoEntitlement     = errors.New("no active subscription")
	ErrQuotaExceeded     = errors.New("job quota exceeded")
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusActive, StatusExpired, StatusCancelled:
		return st, nil
	default:
		return "", ErrInvalidStatus
	}
}

func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusCancelled
}

// CanTransition encodes pending -> active|cancelled and active -> expired|cancelled.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusActive || to == StatusCancelled
	case StatusActive:
		return to == StatusExpired || to == StatusCancelled
	default:
		return false
	}
}

type Subscription struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Plan        PlanName   `json:"plan"`
	Status      Status     `json:"status"`
	JobLimit    int        `json:"jobLimit"`
	PriceGEL    int        `json:"price"`
	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Entitled reports whether the row grants access at now. A row still marked
// active past its expiry does not.
func (s Subscription) Entitled(now time.Time) bool {
	if s.Status != StatusActive {
		return false
	}
	return s.ExpiresAt != nil && now.Before(*s.ExpiresAt)
}

func NewPending(userID string, plan Plan, now time.Time) Subscription {
	return Subscription{
		ID:        uuid.NewString(),
		UserID:    userID,
		Plan:      plan.Name,
		Status:    StatusPending,
		JobLimit:  plan.JobLimit,
		PriceGEL:  plan.PriceGEL,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func NewActive(userID string, plan Plan, now time.Time) Subscription {
	s := NewPending(userID, plan, now)
	s.Activate(now)
	return s
}

// Activate stamps a fresh term starting at now.
func (s *Subscription) Activate(now time.Time) {
	exp := now.Add(Term)
	act := now
	s.Status = StatusActive
	s.ActivatedAt = &act
	s.ExpiresAt = &exp
	s.UpdatedAt = now
}

// WithUser is the admin listing row.
type WithUser struct {
	Subscription
	UserEmail string `json:"userEmail"`
	UserName  string `json:"userName"`
}

type ListFilter struct {
	Status *Status
	Limit  int
}
