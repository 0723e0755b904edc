package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/resilience"
)

// ErrNotFound is returned when a run or record does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Vertical     string          `json:"vertical,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// RecordFilter specifies criteria for listing canonical records.
type RecordFilter struct {
	RunID           string `json:"run_id,omitempty"`
	VerticalID      string `json:"vertical_id,omitempty"`
	IncludeExcluded bool   `json:"include_excluded,omitempty"`
	Limit           int    `json:"limit,omitempty"`
	Offset          int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for fused records and batch runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, vertical string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Records
	SaveRecords(ctx context.Context, runID string, records []*model.CanonicalRecord) error
	GetRecord(ctx context.Context, id string) (*model.CanonicalRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.CanonicalRecord, error)

	// Batch statistics
	SaveCardinalities(ctx context.Context, runID string, cards map[string]model.Cardinality) error
	GetCardinalities(ctx context.Context, runID string) (map[string]model.Cardinality, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entries []resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func listLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
