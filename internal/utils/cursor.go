package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskCursor is the keyset position for the admin task listing.
type TaskCursor struct {
	UpdatedAt time.Time `json:"updatedAt"`
	ID        string    `json:"id"`
}

func EncodeTaskCursor(updatedAt time.Time, id string) (string, error) {
	b, err := json.Marshal(TaskCursor{UpdatedAt: updatedAt, ID: id})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeTaskCursor(cursor string) (TaskCursor, error) {
	if cursor == "" {
		return TaskCursor{}, errors.New("empty cursor")
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return TaskCursor{}, err
	}
	var c TaskCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return TaskCursor{}, err
	}
	if c.ID == "" || c.UpdatedAt.IsZero() {
		return TaskCursor{}, errors.New("invalid cursor payload")
	}
	return c, nil
}

// FirstPage is the DESC keyset sentinel: far future plus the max uuid.
func FirstPage() TaskCursor {
	return TaskCursor{
		UpdatedAt: time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC),
		ID:        "ffffffff-ffff-ffff-ffff-ffffffffffff",
	}
}

func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
