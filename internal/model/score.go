package model

import "fmt"

// Cardinality is a running statistic over a population of values.
type Cardinality struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Sum   float64 `json:"sum"`
}

// Increment folds v into the statistic using an incremental mean.
func (c *Cardinality) Increment(v float64) {
	if c.Count == 0 {
		c.Min, c.Max = v, v
	} else {
		c.Min = min(c.Min, v)
		c.Max = max(c.Max, v)
	}
	c.Count++
	c.Sum += v
	c.Avg += (v - c.Avg) / float64(c.Count)
}

// Valid reports whether the statistic holds at least one value. Min, Max
// and Avg must not be read otherwise.
func (c Cardinality) Valid() bool {
	return c.Count > 0
}

// Width is the population range, Max - Min.
func (c Cardinality) Width() float64 {
	return c.Max - c.Min
}

func (c Cardinality) String() string {
	if !c.Valid() {
		return "card(empty)"
	}
	return fmt.Sprintf("card(n=%d min=%g max=%g avg=%g)", c.Count, c.Min, c.Max, c.Avg)
}

// ScoreContribution is one source's input to a record-level score.
type ScoreContribution struct {
	Source string  `json:"source"`
	Value  float64 `json:"value"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Voters int64   `json:"voters,omitempty"`
}

// Score is a named rating of a canonical record.
//
// Raw is nil until the record is sealed at the end of Stage A. Relativized is
// only set by the relativizer (Stage B, or per composite layer) and always
// lies in [0, CanonicalMax].
type Score struct {
	Name          string              `json:"name"`
	Raw           *float64            `json:"raw,omitempty"`
	Min           float64             `json:"min"`
	Max           float64             `json:"max"`
	Absolute      *Cardinality        `json:"absolute,omitempty"`
	Relativized   *float64            `json:"relativized,omitempty"`
	Tags          []string            `json:"tags,omitempty"`
	Voters        int64               `json:"voters"`
	Derived       bool                `json:"derived,omitempty"`
	Ranking       *int                `json:"ranking,omitempty"`
	LowestID      string              `json:"lowest_id,omitempty"`
	HighestID     string              `json:"highest_id,omitempty"`
	Contributions []ScoreContribution `json:"contributions,omitempty"`
}

// Resolved returns the value downstream consumers should read: the
// relativized value when present, else the raw value of a derived score.
// Leaf scores that were never relativized are unresolved.
func (s *Score) Resolved() (float64, bool) {
	if s == nil {
		return 0, false
	}
	if s.Relativized != nil {
		return *s.Relativized, true
	}
	if s.Derived && s.Raw != nil {
		return *s.Raw, true
	}
	return 0, false
}

// HasTag reports whether the score carries tag.
func (s *Score) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
