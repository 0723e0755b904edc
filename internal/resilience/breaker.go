package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState is the state of a host breaker.
type BreakerState int

const (
	// BreakerClosed lets every call through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cooldown elapses.
	BreakerOpen
	// BreakerProbing lets one call through to test the host.
	BreakerProbing
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// ErrHostUnavailable is returned without calling out while a host's breaker is open.
var ErrHostUnavailable = eris.New("host marked unavailable")

// BreakerConfig controls when a host is marked unavailable.
type BreakerConfig struct {
	// Threshold is the number of consecutive transient failures that opens
	// the breaker. Default: 3.
	Threshold int
	// Cooldown is how long an open breaker rejects calls. Default: 1m.
	Cooldown time.Duration
}

// Breaker stops calls to one feed host after repeated transient failures.
// Non-transient errors (a 404, a malformed URL) never count against it.
type Breaker struct {
	host string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	now      func() time.Time
}

// NewBreaker creates a closed breaker for host.
func NewBreaker(host string, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	return &Breaker{host: host, cfg: cfg, now: time.Now}
}

// Guard runs fn unless the breaker is open.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(err)
	return v, err
}

// State returns the current state, reporting an open breaker whose cooldown
// has elapsed as probing.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return BreakerProbing
	}
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerOpen {
		return nil
	}
	if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
		return eris.Wrapf(ErrHostUnavailable, "%s", b.host)
	}
	b.setState(BreakerProbing)
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !IsTransient(err) {
		b.failures = 0
		if b.state == BreakerProbing {
			b.setState(BreakerClosed)
		}
		return
	}
	b.failures++
	if b.state == BreakerProbing || b.failures >= b.cfg.Threshold {
		b.openedAt = b.now()
		b.setState(BreakerOpen)
	}
}

func (b *Breaker) setState(to BreakerState) {
	if b.state == to {
		return
	}
	zap.L().Info("resilience: host breaker state change",
		zap.String("host", b.host),
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
	)
	b.state = to
}

// Breakers holds one breaker per host.
type Breakers struct {
	cfg BreakerConfig

	mu    sync.Mutex
	hosts map[string]*Breaker
}

// NewBreakers creates an empty registry.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, hosts: make(map[string]*Breaker)}
}

// For returns the breaker of host, creating it on first use.
func (r *Breakers) For(host string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.hosts[host]
	if !ok {
		b = NewBreaker(host, r.cfg)
		r.hosts[host] = b
	}
	return b
}
