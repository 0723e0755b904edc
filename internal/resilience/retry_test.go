package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-fusion/internal/config"
)

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func(context.Context) error {
		calls++
		return errors.New("constraint violation")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return NewTransientError(errors.New("busy"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func(context.Context) error {
			calls++
			return NewTransientError(errors.New("busy"))
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestDo_CustomShouldRetry(t *testing.T) {
	calls := 0
	cfg := fastConfig()
	cfg.ShouldRetry = func(error) bool { return true }
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return errors.New("anything")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), fastConfig(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("SQLITE_BUSY")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestComputeBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, 400*time.Millisecond, computeBackoff(2, cfg))
	assert.Equal(t, time.Second, computeBackoff(10, cfg))

	cfg.JitterFraction = 0.5
	for range 50 {
		d := computeBackoff(0, cfg)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.RetryConfig{
		MaxAttempts:      5,
		InitialBackoffMs: 10,
		MaxBackoffMs:     100,
		Multiplier:       3,
		JitterFraction:   0,
	})
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 100*time.Millisecond, cfg.MaxBackoff)
	assert.Equal(t, 3.0, cfg.Multiplier)
	assert.Zero(t, cfg.JitterFraction)

	def := FromConfig(config.RetryConfig{JitterFraction: -1})
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, def.MaxAttempts)
	assert.Equal(t, DefaultRetryConfig().JitterFraction, def.JitterFraction)
}

func TestRetryLogger(t *testing.T) {
	fn := RetryLogger("save_records")
	assert.NotPanics(t, func() { fn(1, errors.New("busy")) })
}
