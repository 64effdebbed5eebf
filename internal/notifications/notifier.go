package notifications

import (
	"context"
	"time"
)

// ApplicationNotice tells a job owner that a driver applied.
type ApplicationNotice struct {
	OwnerEmail  string
	OwnerName   string
	JobID       string
	JobTitle    string
	JobRoute    string
	DriverName  string
	DriverEmail string
	DriverPhone string
	AppliedAt   time.Time
}

type Notifier interface {
	SendApplicationNotice(ctx context.Context, n ApplicationNotice) error
}
