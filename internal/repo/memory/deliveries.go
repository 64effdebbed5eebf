package memory

import (
	"context"
	"sync"

	"github.com/geocoder89/truckmatch/internal/domain/delivery"
)

type deliveryRow struct {
	status    string
	recipient string
	lastError string
}

// DeliveriesRepo keeps its own lock; it never spans other tables.
type DeliveriesRepo struct {
	mu   sync.Mutex
	rows map[string]deliveryRow
}

func NewDeliveriesRepo() *DeliveriesRepo {
	return &DeliveriesRepo{rows: make(map[string]deliveryRow)}
}

func (r *DeliveriesRepo) TryStart(ctx context.Context, kind, key, taskID, recipient string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := kind + "|" + key
	row, ok := r.rows[k]
	switch {
	case !ok, row.status == "failed":
		r.rows[k] = deliveryRow{status: "sending", recipient: recipient}
		return nil
	case row.status == "sent":
		return delivery.ErrAlreadySent
	default:
		return delivery.ErrInProgress
	}
}

func (r *DeliveriesRepo) MarkSent(ctx context.Context, kind, key string) error {
	return r.set(kind, key, "sent", "")
}

func (r *DeliveriesRepo) MarkFailed(ctx context.Context, kind, key, errMsg string) error {
	return r.set(kind, key, "failed", errMsg)
}

func (r *DeliveriesRepo) set(kind, key, status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := kind + "|" + key
	row := r.rows[k]
	row.status = status
	row.lastError = errMsg
	r.rows[k] = row
	return nil
}
