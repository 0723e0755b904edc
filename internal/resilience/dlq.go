package resilience

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/product-fusion/internal/model"
)

// DLQEntry is a record that could not be fused. Its observations are kept so
// the record can be replayed once the cause is fixed.
type DLQEntry struct {
	ID           string              `json:"id"`
	RunID        string              `json:"run_id"`
	ProductID    string              `json:"product_id"`
	Stage        string              `json:"stage"`
	Error        string              `json:"error"`
	Category     model.ErrorCategory `json:"category"`
	ErrorType    string              `json:"error_type"` // "transient" or "permanent"
	Observations []model.Observation `json:"observations,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	RunID    string              `json:"run_id,omitempty"`
	Category model.ErrorCategory `json:"category,omitempty"`
	Limit    int                 `json:"limit,omitempty"`
}

// NewDLQEntry builds an entry for a record that failed at stage.
func NewDLQEntry(runID, productID, stage string, err error, observations []model.Observation) DLQEntry {
	return DLQEntry{
		ID:           uuid.NewString(),
		RunID:        runID,
		ProductID:    productID,
		Stage:        stage,
		Error:        err.Error(),
		Category:     ClassifyError(err),
		ErrorType:    RetryClass(err),
		Observations: observations,
		CreatedAt:    time.Now().UTC(),
	}
}

// Replayable reports whether the entry's observations can be fed to a new run.
func (e *DLQEntry) Replayable() bool {
	return e.ProductID != "" && len(e.Observations) > 0
}

// ClassifyError maps err to its fusion error category.
func ClassifyError(err error) model.ErrorCategory {
	return model.CategoryOf(err)
}

// RetryClass categorizes an error as "transient" or "permanent".
func RetryClass(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
