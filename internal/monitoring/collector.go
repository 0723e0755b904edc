package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/store"
)

// MetricsSnapshot holds a point-in-time view of fusion health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsActive   int     `json:"runs_active"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Record metrics, summed over finished runs.
	Observations  int     `json:"observations"`
	Records       int     `json:"records"`
	Rejections    int     `json:"rejections"`
	Excluded      int     `json:"excluded"`
	DeadLettered  int     `json:"dead_lettered"`
	RejectionRate float64 `json:"rejection_rate"`

	DLQDepth int `json:"dlq_depth"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunSource abstracts the store methods needed by the collector.
type RunSource interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	CountDLQ(ctx context.Context) (int, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store RunSource
}

// NewCollector creates a new metrics collector.
func NewCollector(st RunSource) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		default:
			snap.RunsActive++
		}
		if r.Result != nil {
			snap.Observations += r.Result.Observations
			snap.Records += r.Result.Records
			snap.Rejections += r.Result.Rejections
			snap.Excluded += r.Result.Excluded
			snap.DeadLettered += r.Result.DeadLettered
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.Records > 0 {
		snap.RejectionRate = float64(snap.Rejections) / float64(snap.Records)
	}

	dlqCount, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = dlqCount

	return snap, nil
}
