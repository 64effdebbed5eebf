package observability

import (
	"sync/atomic"
	"time"
)

// TaskMetrics are per-process worker counters served on the worker's health port.
type TaskMetrics struct {
	claimed      atomic.Uint64
	done         atomic.Uint64
	retried      atomic.Uint64
	deadLettered atomic.Uint64
	skipped      atomic.Uint64

	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewTaskMetrics() *TaskMetrics {
	return &TaskMetrics{}
}

func (m *TaskMetrics) IncClaimed()      { m.claimed.Add(1) }
func (m *TaskMetrics) IncDone()         { m.done.Add(1) }
func (m *TaskMetrics) IncRetried()      { m.retried.Add(1) }
func (m *TaskMetrics) IncDeadLettered() { m.deadLettered.Add(1) }

// IncSkipped counts tasks completed without side effects because the
// delivery had already happened.
func (m *TaskMetrics) IncSkipped() { m.skipped.Add(1) }

func (m *TaskMetrics) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	for {
		curr := m.durationMax.Load()
		if ns <= curr {
			return
		}
		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type TaskMetricsSnapshot struct {
	Claimed         uint64        `json:"claimed"`
	Done            uint64        `json:"done"`
	Retried         uint64        `json:"retried"`
	DeadLettered    uint64        `json:"deadLettered"`
	Skipped         uint64        `json:"skipped"`
	DurationCount   uint64        `json:"durationCount"`
	AverageDuration time.Duration `json:"averageDurationNs"`
	MaxDuration     time.Duration `json:"maxDurationNs"`
}

func (m *TaskMetrics) Snapshot() TaskMetricsSnapshot {
	count := m.durationCount.Load()
	total := m.durationTotal.Load()

	var avg time.Duration
	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	return TaskMetricsSnapshot{
		Claimed:         m.claimed.Load(),
		Done:            m.done.Load(),
		Retried:         m.retried.Load(),
		DeadLettered:    m.deadLettered.Load(),
		Skipped:         m.skipped.Load(),
		DurationCount:   count,
		AverageDuration: avg,
		MaxDuration:     time.Duration(m.durationMax.Load()),
	}
}
