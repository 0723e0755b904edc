package attribute

import (
	"slices"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-fusion/internal/model"
)

// Parser converts a cleaned attribute value into its canonical form.
type Parser interface {
	Parse(raw string) (string, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(raw string) (string, error)

// Parse calls f(raw).
func (f ParserFunc) Parse(raw string) (string, error) {
	return f(raw)
}

// Registry resolves custom parsers by name.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// DefaultRegistry returns a registry with the built-in parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("warranty", NewWarrantyParser(DefaultWarrantyMinYears, DefaultWarrantyMaxYears))
	r.Register("dimension", ParserFunc(ParseDimension))
	r.Register("energy_class", ParserFunc(ParseEnergyClass))
	return r
}

// Register adds or replaces the parser registered under name.
func (r *Registry) Register(name string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[name] = p
}

// Get returns the parser registered under name.
func (r *Registry) Get(name string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[name]
	if !ok {
		return nil, eris.Wrapf(model.ErrUnknownParser, "attribute: parser %q", name)
	}
	return p, nil
}

// Names returns the registered parser names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.parsers))
	for n := range r.parsers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// safeParse runs p and converts a panic into an error.
func safeParse(p Parser, raw string) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = eris.Errorf("parser panic: %v", rec)
		}
	}()
	return p.Parse(raw)
}
