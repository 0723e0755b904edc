package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/product-fusion/internal/model"
)

func TestNewDLQEntry(t *testing.T) {
	obs := []model.Observation{{Source: "icecat", ProductID: "p1", Timestamp: time.Now()}}
	err := &model.RejectionError{Field: "record", Category: model.ErrorFatal, Reason: "panic"}

	e := NewDLQEntry("run-1", "p1", model.StageIngest, err, obs)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "run-1", e.RunID)
	assert.Equal(t, model.ErrorFatal, e.Category)
	assert.Equal(t, "permanent", e.ErrorType)
	assert.Equal(t, model.StageIngest, e.Stage)
	assert.True(t, e.Replayable())
	assert.False(t, e.CreatedAt.IsZero())
}

func TestDLQEntry_Replayable(t *testing.T) {
	assert.False(t, (&DLQEntry{Observations: []model.Observation{{}}}).Replayable())
	assert.False(t, (&DLQEntry{ProductID: "p1"}).Replayable())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want model.ErrorCategory
	}{
		{model.ErrNoIdentity, model.ErrorFatal},
		{model.ErrZeroWidth, model.ErrorStatistical},
		{model.ErrInvalidPrice, model.ErrorParse},
		{model.Reject(model.ErrorConfig, "COLOR", "icecat", "no parser"), model.ErrorConfig},
		{errors.New("other"), model.ErrorFatal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyError(tt.err), tt.err.Error())
	}
}

func TestRetryClass(t *testing.T) {
	assert.Equal(t, "transient", RetryClass(errors.New("database is locked")))
	assert.Equal(t, "permanent", RetryClass(model.ErrNoIdentity))
}
