package tasks

import (
	"fmt"
	"time"
)

// ApplicationNotifyPayload is a snapshot of a driver applying to a job,
// taken at enqueue time so the worker needs no lookups.
type ApplicationNotifyPayload struct {
	JobID       string    `json:"jobId"`
	JobTitle    string    `json:"jobTitle"`
	JobRoute    string    `json:"jobRoute"`
	OwnerEmail  string    `json:"ownerEmail"`
	OwnerName   string    `json:"ownerName"`
	DriverID    string    `json:"driverId"`
	DriverName  string    `json:"driverName"`
	DriverEmail string    `json:"driverEmail"`
	DriverPhone string    `json:"driverPhone,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
	RequestID   string    `json:"requestId,omitempty"`
}

// ApplicationKey dedupes repeated applications from the same driver.
func ApplicationKey(jobID, driverID string) string {
	return fmt.Sprintf("application:%s:%s", jobID, driverID)
}
