// Package scheduler runs the periodic subscription expiry sweep.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/truckmatch/internal/observability"
	"github.com/robfig/cron/v3"
)

type Expirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// Sweeper flips subscriptions past their term to expired. Gates already treat
// them as unentitled; the sweep keeps stored status and dashboards honest.
type Sweeper struct {
	cron    *cron.Cron
	expirer Expirer
	log     *slog.Logger
	prom    *observability.Prom
	timeout time.Duration
}

func NewSweeper(expirer Expirer, log *slog.Logger, prom *observability.Prom) *Sweeper {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelInfo))

	return &Sweeper{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		expirer: expirer,
		log:     log,
		prom:    prom,
		timeout: 30 * time.Second,
	}
}

// Start registers the sweep on schedule (standard cron or @every) and starts the scheduler.
func (s *Sweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return fmt.Errorf("schedule expiry sweep %q: %w", schedule, err)
	}

	s.log.Info("expiry sweep scheduled", "schedule", schedule)
	s.cron.Start()
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.Sweep(ctx); err != nil {
		s.log.Error("expiry sweep failed", observability.Err(err))
	}
}

func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.expirer.ExpireStale(ctx)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		s.log.Info("expired subscriptions", "count", n)
		if s.prom != nil {
			s.prom.ExpiredSubscriptions.Add(float64(n))
		}
	}
	return n, nil
}
