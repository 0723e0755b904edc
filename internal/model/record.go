package model

import (
	"slices"
	"time"
)

// AlternateValue keeps a conflicting referentiel value for audit.
type AlternateValue struct {
	Key       ReferentielKey `json:"key"`
	Value     string         `json:"value"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
}

// CanonicalRecord is the fused view of one physical product.
//
// It is created on the first observation of a product, mutated by every
// later observation during Stage A, by the relativizer during Stage B and by
// the composer during Stage C, and must be treated as immutable afterwards.
type CanonicalRecord struct {
	ID              string                          `json:"id"`
	Scores          map[string]*Score               `json:"scores"`
	Attributes      map[string]*AggregatedAttribute `json:"attributes"`
	Unmapped        map[string]*AggregatedAttribute `json:"unmapped,omitempty"`
	Features        []string                        `json:"features,omitempty"`
	Referentiel     map[ReferentielKey]string       `json:"referentiel"`
	AlternateIDs    []AlternateValue                `json:"alternate_ids,omitempty"`
	AlternateBrands []AlternateValue                `json:"alternate_brands,omitempty"`
	Price           PriceAggregate                  `json:"price"`
	VerticalID      string                          `json:"vertical_id,omitempty"`
	TaxonomyIDs     []string                        `json:"taxonomy_ids,omitempty"`
	Categories      []string                        `json:"categories,omitempty"`
	Resources       []Resource                      `json:"resources,omitempty"`
	Excluded        bool                            `json:"excluded"`
	MissingFields   []string                        `json:"missing_fields,omitempty"`
	WorstScores     []string                        `json:"worst_scores,omitempty"`
	BestScores      []string                        `json:"best_scores,omitempty"`
	Rejections      []Rejection                     `json:"rejections,omitempty"`
	Sources         []string                        `json:"sources"`
	Observations    int                             `json:"observations"`
	FirstSeen       time.Time                       `json:"first_seen"`
	LastSeen        time.Time                       `json:"last_seen"`
}

// NewCanonicalRecord creates an empty record for product id.
func NewCanonicalRecord(id string) *CanonicalRecord {
	return &CanonicalRecord{
		ID:          id,
		Scores:      make(map[string]*Score),
		Attributes:  make(map[string]*AggregatedAttribute),
		Unmapped:    make(map[string]*AggregatedAttribute),
		Referentiel: make(map[ReferentielKey]string),
	}
}

// Touch records that source contributed an observation at ts.
func (r *CanonicalRecord) Touch(source string, ts time.Time) {
	r.Observations++
	if !slices.Contains(r.Sources, source) {
		r.Sources = append(r.Sources, source)
	}
	if r.FirstSeen.IsZero() || ts.Before(r.FirstSeen) {
		r.FirstSeen = ts
	}
	if ts.After(r.LastSeen) {
		r.LastSeen = ts
	}
}

// Reject appends a contained failure to the record's audit trail.
func (r *CanonicalRecord) Reject(stage string, err error) {
	r.Rejections = append(r.Rejections, NewRejection(stage, err))
}

// Brand returns the canonical brand.
func (r *CanonicalRecord) Brand() string {
	return r.Referentiel[ReferentielBrand]
}

// Model returns the canonical model.
func (r *CanonicalRecord) Model() string {
	return r.Referentiel[ReferentielModel]
}

// AddFeature adds name to the feature list once.
func (r *CanonicalRecord) AddFeature(name string) {
	if !slices.Contains(r.Features, name) {
		r.Features = append(r.Features, name)
	}
}

// AddResource adds res unless a resource with the same URL exists.
func (r *CanonicalRecord) AddResource(res Resource) bool {
	if res.URL == "" {
		return false
	}
	for _, existing := range r.Resources {
		if existing.URL == res.URL {
			return false
		}
	}
	r.Resources = append(r.Resources, res)
	return true
}

// ScoreNames returns the record's score names in sorted order.
func (r *CanonicalRecord) ScoreNames() []string {
	names := make([]string, 0, len(r.Scores))
	for n := range r.Scores {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
