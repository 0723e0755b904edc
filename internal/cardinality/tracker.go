// Package cardinality keeps batch-wide running statistics keyed by score name.
package cardinality

import (
	"slices"
	"sync"

	"github.com/sells-group/product-fusion/internal/model"
)

type entry struct {
	mu   sync.Mutex
	card model.Cardinality
}

// Tracker accumulates one Cardinality per name. Increments on the same name
// are serialized by a per-key lock; different names never contend beyond the
// index lookup. A Tracker lives for one batch run.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[string]*entry)}
}

// Increment folds v into name's statistic. A nil value is a no-op.
func (t *Tracker) Increment(name string, v *float64) {
	if v == nil {
		return
	}
	t.Add(name, *v)
}

// Add folds v into name's statistic, creating it on first use.
func (t *Tracker) Add(name string, v float64) {
	e := t.entry(name)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.card.Increment(v)
	e.mu.Unlock()
}

func (t *Tracker) entry(name string) *entry {
	t.mu.RLock()
	e, ok := t.entries[name]
	closed := t.closed
	t.mu.RUnlock()
	if ok || closed {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	if e, ok = t.entries[name]; !ok {
		e = &entry{}
		t.entries[name] = e
	}
	return e
}

// Snapshot returns an immutable copy of name's statistic. ok is false when
// the name was never incremented.
func (t *Tracker) Snapshot(name string) (model.Cardinality, bool) {
	t.mu.RLock()
	e, ok := t.entries[name]
	t.mu.RUnlock()
	if !ok {
		return model.Cardinality{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.card, e.card.Valid()
}

// Names returns the tracked names in sorted order.
func (t *Tracker) Names() []string {
	t.mu.RLock()
	names := make([]string, 0, len(t.entries))
	for n := range t.entries {
		names = append(names, n)
	}
	t.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Len returns the number of tracked names.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// All returns snapshots of every tracked name.
func (t *Tracker) All() map[string]model.Cardinality {
	out := make(map[string]model.Cardinality)
	for _, n := range t.Names() {
		if c, ok := t.Snapshot(n); ok {
			out[n] = c
		}
	}
	return out
}

// Close discards all state. Later increments are ignored.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.entries = make(map[string]*entry)
	t.closed = true
	t.mu.Unlock()
}
