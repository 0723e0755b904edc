package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/store"
)

// mockRunSource implements RunSource for testing.
type mockRunSource struct {
	runs     []model.Run
	dlqCount int
	listErr  error
	dlqErr   error
}

func (m *mockRunSource) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.Run
	for _, r := range m.runs {
		if !filter.CreatedAfter.IsZero() && r.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

func (m *mockRunSource) CountDLQ(context.Context) (int, error) {
	return m.dlqCount, m.dlqErr
}

func TestCollector_Collect(t *testing.T) {
	now := time.Now().UTC()
	src := &mockRunSource{
		dlqCount: 4,
		runs: []model.Run{
			{ID: "1", Status: model.RunStatusComplete, CreatedAt: now, Result: &model.RunResult{Observations: 100, Records: 10, Rejections: 5, DeadLettered: 1}},
			{ID: "2", Status: model.RunStatusComplete, CreatedAt: now, Result: &model.RunResult{Observations: 50, Records: 10, Rejections: 1, Excluded: 2}},
			{ID: "3", Status: model.RunStatusFailed, CreatedAt: now},
			{ID: "4", Status: model.RunStatusIngesting, CreatedAt: now},
			{ID: "old", Status: model.RunStatusFailed, CreatedAt: now.Add(-72 * time.Hour)},
		},
	}

	snap, err := NewCollector(src).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsActive)
	assert.InDelta(t, 1.0/3.0, snap.RunFailRate, 1e-9)
	assert.Equal(t, 150, snap.Observations)
	assert.Equal(t, 20, snap.Records)
	assert.Equal(t, 6, snap.Rejections)
	assert.Equal(t, 2, snap.Excluded)
	assert.Equal(t, 1, snap.DeadLettered)
	assert.InDelta(t, 0.3, snap.RejectionRate, 1e-9)
	assert.Equal(t, 4, snap.DLQDepth)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := NewCollector(&mockRunSource{}).Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.RunFailRate)
	assert.Zero(t, snap.RejectionRate)
}

func TestCollector_Errors(t *testing.T) {
	_, err := NewCollector(&mockRunSource{listErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list runs")

	_, err = NewCollector(&mockRunSource{dlqErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count dlq")
}
