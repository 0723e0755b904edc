// Package taxonomy assigns a vertical to a record from its category labels.
package taxonomy

import (
	"slices"
	"strings"

	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/vertical"
)

// Classifier maps category labels to vertical ids.
type Classifier struct {
	cfg *vertical.Config
}

// NewClassifier creates a classifier over cfg's taxonomy table.
func NewClassifier(cfg *vertical.Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Apply accumulates the category label of obs on rec.
func (c *Classifier) Apply(rec *model.CanonicalRecord, obs model.Observation) {
	label := strings.Join(strings.Fields(obs.Category), " ")
	if label == "" {
		return
	}
	for _, existing := range rec.Categories {
		if strings.EqualFold(existing, label) {
			return
		}
	}
	rec.Categories = append(rec.Categories, label)
}

// Classify sets the record's vertical to the id matched by most labels,
// ties going to the smallest id. TaxonomyIDs lists every matched id.
func (c *Classifier) Classify(rec *model.CanonicalRecord) {
	votes := make(map[string]int)
	for _, label := range rec.Categories {
		if id, ok := c.cfg.TaxonomyFor(label); ok {
			votes[id]++
		}
	}
	if len(votes) == 0 {
		return
	}

	ids := make([]string, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	best := ids[0]
	for _, id := range ids[1:] {
		if votes[id] > votes[best] {
			best = id
		}
	}
	rec.VerticalID = best
	rec.TaxonomyIDs = ids
}
