package cardinality

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-fusion/internal/model"
)

func TestTracker_Increment(t *testing.T) {
	tr := New()
	for _, v := range []float64{4, 2, 9} {
		tr.Add("REPAIRABILITY", v)
	}

	c, ok := tr.Snapshot("REPAIRABILITY")
	require.True(t, ok)
	assert.Equal(t, int64(3), c.Count)
	assert.Equal(t, 2.0, c.Min)
	assert.Equal(t, 9.0, c.Max)
	assert.InDelta(t, 5.0, c.Avg, 1e-9)
	assert.Equal(t, 15.0, c.Sum)
	assert.LessOrEqual(t, c.Min, c.Avg)
	assert.LessOrEqual(t, c.Avg, c.Max)
}

func TestTracker_NilIsNoop(t *testing.T) {
	tr := New()
	tr.Increment("A", nil)

	_, ok := tr.Snapshot("A")
	assert.False(t, ok)
	assert.Equal(t, 0, tr.Len())

	tr.Increment("A", model.Float(3))
	c, ok := tr.Snapshot("A")
	require.True(t, ok)
	assert.Equal(t, int64(1), c.Count)
}

func TestTracker_SnapshotIsCopy(t *testing.T) {
	tr := New()
	tr.Add("A", 1)
	snap, _ := tr.Snapshot("A")
	tr.Add("A", 10)

	assert.Equal(t, 1.0, snap.Max)
	now, _ := tr.Snapshot("A")
	assert.Equal(t, 10.0, now.Max)
}

func TestTracker_Concurrent(t *testing.T) {
	tr := New()
	names := []string{"A", "B", "C", "D"}

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 1; i <= 1000; i++ {
				tr.Add(names[(w+i)%len(names)], float64(i))
			}
		}(w)
	}
	wg.Wait()

	var total int64
	for _, n := range names {
		c, ok := tr.Snapshot(n)
		require.True(t, ok)
		assert.Equal(t, 1.0, c.Min)
		assert.Equal(t, 1000.0, c.Max)
		total += c.Count
	}
	assert.Equal(t, int64(16*1000), total)
	assert.Equal(t, names, tr.Names())
}

func TestTracker_Close(t *testing.T) {
	tr := New()
	tr.Add("A", 1)
	tr.Close()

	assert.Equal(t, 0, tr.Len())
	tr.Add("A", 2)
	_, ok := tr.Snapshot("A")
	assert.False(t, ok)
}

func TestTracker_All(t *testing.T) {
	tr := New()
	tr.Add("A", 1)
	tr.Add("B", 2)

	all := tr.All()
	assert.Len(t, all, 2)
	assert.Equal(t, 2.0, all["B"].Max)
}
