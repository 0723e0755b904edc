// Package composite computes weighted scores over other resolved scores.
package composite

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-fusion/internal/cardinality"
	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/score"
	"github.com/sells-group/product-fusion/internal/vertical"
)

// Composer evaluates composite definitions layer by layer. A composite only
// reads scores of earlier layers or leaf scores.
type Composer struct {
	layers      [][]vertical.CompositeDef
	relativizer *score.Relativizer
	max         float64
}

// NewComposer orders defs into dependency layers. Duplicate names and
// cycles are configuration errors.
func NewComposer(defs []vertical.CompositeDef, canonicalMax float64) (*Composer, error) {
	byName := make(map[string]vertical.CompositeDef, len(defs))
	for _, d := range defs {
		d.Name = strings.ToUpper(strings.TrimSpace(d.Name))
		d.Components = slices.Clone(d.Components)
		for i := range d.Components {
			d.Components[i].Score = strings.ToUpper(strings.TrimSpace(d.Components[i].Score))
		}
		if _, dup := byName[d.Name]; dup {
			return nil, eris.Errorf("composite: duplicate definition %s", d.Name)
		}
		byName[d.Name] = d
	}

	// Kahn's algorithm over composite-to-composite edges.
	indegree := make(map[string]int, len(byName))
	dependents := make(map[string][]string)
	for name := range byName {
		indegree[name] = 0
	}
	for name, d := range byName {
		for _, c := range d.Components {
			if c.Score == name {
				return nil, eris.Errorf("composite: %s references itself", name)
			}
			if _, ok := byName[c.Score]; ok {
				indegree[name]++
				dependents[c.Score] = append(dependents[c.Score], name)
			}
		}
	}

	var layers [][]vertical.CompositeDef
	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	placed := 0
	for len(ready) > 0 {
		slices.Sort(ready)
		layer := make([]vertical.CompositeDef, 0, len(ready))
		var next []string
		for _, name := range ready {
			layer = append(layer, byName[name])
			placed++
			for _, dep := range dependents[name] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		layers = append(layers, layer)
		ready = next
	}
	if placed != len(byName) {
		var cyclic []string
		for name, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		slices.Sort(cyclic)
		return nil, eris.Errorf("composite: dependency cycle between %s", strings.Join(cyclic, ", "))
	}

	return &Composer{layers: layers, relativizer: score.NewRelativizer(canonicalMax), max: canonicalMax}, nil
}

// Layers returns the number of dependency layers.
func (c *Composer) Layers() int {
	return len(c.layers)
}

// LayerNames returns the composite names of layer i.
func (c *Composer) LayerNames(i int) []string {
	names := make([]string, 0, len(c.layers[i]))
	for _, d := range c.layers[i] {
		names = append(names, d.Name)
	}
	return names
}

// Normalized reports whether layer i holds a composite to relativize.
func (c *Composer) Normalized(i int) bool {
	for _, d := range c.layers[i] {
		if d.Normalize {
			return true
		}
	}
	return false
}

// Compose evaluates the composites of layer i on rec. The raw value of a
// normalized composite is fed to tracker. A composite with an unresolved
// component is absent from rec and reported as insufficient data.
func (c *Composer) Compose(rec *model.CanonicalRecord, i int, tracker *cardinality.Tracker) {
	for _, d := range c.layers[i] {
		s, err := c.evaluate(rec, d)
		if err != nil {
			delete(rec.Scores, d.Name)
			rec.Reject(model.StageCompose, err)
			continue
		}
		rec.Scores[d.Name] = s
		if d.Normalize && tracker != nil {
			tracker.Increment(d.Name, s.Raw)
		}
	}
}

// Normalize relativizes the normalized composites of layer i on rec. It
// must run after Compose returned for every record of the batch.
func (c *Composer) Normalize(rec *model.CanonicalRecord, i int, tracker *cardinality.Tracker) {
	for _, d := range c.layers[i] {
		if !d.Normalize {
			continue
		}
		s, ok := rec.Scores[d.Name]
		if !ok {
			continue
		}
		if err := c.relativizer.Score(rec.ID, s, tracker); err != nil {
			rec.Reject(model.StageCompose, err)
		}
	}
}

func (c *Composer) evaluate(rec *model.CanonicalRecord, d vertical.CompositeDef) (*model.Score, error) {
	var sum, weights float64
	contributions := make([]model.ScoreContribution, 0, len(d.Components))
	var missing []string
	for _, comp := range d.Components {
		v, ok := rec.Scores[comp.Score].Resolved()
		if !ok {
			missing = append(missing, comp.Score)
			continue
		}
		sum += comp.Weight * v
		weights += comp.Weight
		contributions = append(contributions, model.ScoreContribution{
			Source: comp.Score,
			Value:  v,
			Max:    c.max,
		})
	}
	if len(missing) > 0 {
		re := model.Reject(model.ErrorInsufficientData, d.Name, "", "unresolved components "+strings.Join(missing, ", "))
		re.Err = model.ErrInsufficientData
		return nil, re
	}

	return &model.Score{
		Name:          d.Name,
		Raw:           &sum,
		Min:           0,
		Max:           c.max * weights,
		Derived:       true,
		Contributions: contributions,
	}, nil
}
