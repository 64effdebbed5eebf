package job

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AllTypes is the catch-all filter value sent by the Georgian UI.
const AllTypes = "ყველა"

var ErrNotFound = errors.New("job not found")

// Job is a freight posting owned by an owner principal.
type Job struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Route        string    `json:"route"`
	Price        string    `json:"price"`
	Type         string    `json:"type"`
	Date         string    `json:"date"`
	Description  string    `json:"description,omitempty"`
	Requirements []string  `json:"requirements"`
	Owner        string    `json:"owner"`
	Phone        string    `json:"phone,omitempty"`
	CreatedBy    *string   `json:"createdBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type CreateRequest struct {
	Title        string   `json:"title" binding:"required,notblank,min=2,max=200"`
	Route        string   `json:"route" binding:"required,max=200"`
	Price        string   `json:"price" binding:"required,max=60"`
	Type         string   `json:"type" binding:"required,max=60"`
	Date         string   `json:"date" binding:"required,max=60"`
	Description  string   `json:"description" binding:"max=4000"`
	Requirements []string `json:"requirements" binding:"max=20,dive,max=200"`
	Phone        string   `json:"phone" binding:"max=40"`
}

// New builds a job for ownerID. ownerLabel is the company name or the owner's name.
func New(req CreateRequest, ownerID, ownerLabel string, now time.Time) Job {
	reqs := make([]string, 0, len(req.Requirements))
	for _, r := range req.Requirements {
		if r = strings.TrimSpace(r); r != "" {
			reqs = append(reqs, r)
		}
	}

	createdBy := ownerID

	return Job{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(req.Title),
		Route:        strings.TrimSpace(req.Route),
		Price:        strings.TrimSpace(req.Price),
		Type:         strings.TrimSpace(req.Type),
		Date:         strings.TrimSpace(req.Date),
		Description:  strings.TrimSpace(req.Description),
		Requirements: reqs,
		Owner:        ownerLabel,
		Phone:        strings.TrimSpace(req.Phone),
		CreatedBy:    &createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

type ListFilter struct {
	Query string
	Type  string
	Limit int
}

// TypeFilter returns the type to match, or "" for all.
func (f ListFilter) TypeFilter() string {
	t := strings.TrimSpace(f.Type)
	if t == AllTypes {
		return ""
	}
	return t
}
