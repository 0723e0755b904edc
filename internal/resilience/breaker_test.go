package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(clock *time.Time) *Breaker {
	b := NewBreaker("feeds.example.com", BreakerConfig{Threshold: 2, Cooldown: time.Minute})
	b.now = func() time.Time { return *clock }
	return b
}

func failTransient(context.Context) (int, error) {
	return 0, NewTransientError(errors.New("http 502"))
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(&clock)

	_, _ = Guard(context.Background(), b, failTransient)
	assert.Equal(t, BreakerClosed, b.State())
	_, _ = Guard(context.Background(), b, failTransient)
	assert.Equal(t, BreakerOpen, b.State())

	called := false
	_, err := Guard(context.Background(), b, func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	require.ErrorIs(t, err, ErrHostUnavailable)
	assert.False(t, called)
}

func TestBreaker_PermanentErrorsDoNotCount(t *testing.T) {
	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(&clock)

	for range 5 {
		_, err := Guard(context.Background(), b, func(context.Context) (int, error) {
			return 0, errors.New("unexpected status 404")
		})
		require.Error(t, err)
	}
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(&clock)

	_, _ = Guard(context.Background(), b, failTransient)
	_, err := Guard(context.Background(), b, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	_, _ = Guard(context.Background(), b, failTransient)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	tests := []struct {
		name  string
		probe func(context.Context) (int, error)
		want  BreakerState
	}{
		{"probe succeeds", func(context.Context) (int, error) { return 1, nil }, BreakerClosed},
		{"probe fails", failTransient, BreakerOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
			b := newTestBreaker(&clock)
			_, _ = Guard(context.Background(), b, failTransient)
			_, _ = Guard(context.Background(), b, failTransient)

			clock = clock.Add(time.Minute)
			assert.Equal(t, BreakerProbing, b.State())

			_, _ = Guard(context.Background(), b, tt.probe)
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreakers_OnePerHost(t *testing.T) {
	r := NewBreakers(BreakerConfig{})
	a := r.For("a.example.com")
	assert.Same(t, a, r.For("a.example.com"))
	assert.NotSame(t, a, r.For("b.example.com"))
	assert.Equal(t, 3, a.cfg.Threshold)
	assert.Equal(t, time.Minute, a.cfg.Cooldown)
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "probing", BreakerProbing.String())
	assert.Equal(t, "unknown", BreakerState(9).String())
}
