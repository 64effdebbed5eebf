package notifications

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// LogNotifier writes notices to the log instead of sending them. It is the
// default when SMTP is not configured.
type LogNotifier struct {
	log *slog.Logger

	// Delay and Fail simulate a slow or broken provider in local runs.
	Delay time.Duration
	Fail  bool
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendApplicationNotice(ctx context.Context, in ApplicationNotice) error {
	if n.Delay > 0 {
		select {
		case <-time.After(n.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if n.Fail {
		return errors.New("provider down (simulated)")
	}

	n.log.InfoContext(ctx, "notification.application_notice",
		"to", in.OwnerEmail,
		"job_id", in.JobID,
		"driver", in.DriverName,
	)
	return nil
}
