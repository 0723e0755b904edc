// Package score accumulates per-source ratings into record scores,
// relativizes them against batch-wide cardinalities and ranks records.
package score

import (
	"math"
	"slices"
	"strings"

	"github.com/sells-group/product-fusion/internal/cardinality"
	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/vertical"
)

// Ingester records per-source score contributions on a record.
type Ingester struct {
	cfg          *vertical.Config
	canonicalMax float64
}

// NewIngester creates an ingester. Scores without configured bounds take the
// bounds of their first contribution.
func NewIngester(cfg *vertical.Config, canonicalMax float64) *Ingester {
	return &Ingester{cfg: cfg, canonicalMax: canonicalMax}
}

// Apply adds every score of obs to rec. Invalid scores are rejected on the
// record.
func (in *Ingester) Apply(rec *model.CanonicalRecord, obs model.Observation) {
	for _, rs := range obs.Scores {
		if err := in.Add(rec, obs.Source, rs); err != nil {
			rec.Reject(model.StageIngest, err)
		}
	}
}

// Add records one contribution. A nil value is ignored.
func (in *Ingester) Add(rec *model.CanonicalRecord, source string, rs model.RawScore) error {
	name := strings.ToUpper(strings.TrimSpace(rs.Name))
	if name == "" || rs.Value == nil {
		return nil
	}
	v := *rs.Value
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return model.Reject(model.ErrorParse, name, source, "score is not a finite number")
	}
	if rs.Max < rs.Min {
		return model.Reject(model.ErrorParse, name, source, "score max is below min")
	}

	s, ok := rec.Scores[name]
	if !ok {
		s = &model.Score{Name: name, Min: rs.Min, Max: rs.Max}
		if b, ok := in.cfg.ScoreBounds(name); ok {
			s.Min, s.Max = b.Min, b.Max
		}
		rec.Scores[name] = s
	}
	s.Contributions = append(s.Contributions, model.ScoreContribution{
		Source: source,
		Value:  v,
		Min:    rs.Min,
		Max:    rs.Max,
		Voters: rs.Voters,
	})
	for _, tag := range rs.Tags {
		if !s.HasTag(tag) {
			s.Tags = append(s.Tags, tag)
		}
	}
	return nil
}

// AddComments turns the comment ratings of a record into a contribution to
// the COMMENTS score and feeds every rating to the batch-wide
// CommentRatingsKey statistic. Ratings are on the canonical scale.
func (in *Ingester) AddComments(rec *model.CanonicalRecord, ratings []float64, tracker *cardinality.Tracker) {
	var local model.Cardinality
	for _, r := range ratings {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		local.Increment(r)
		tracker.Add(CommentRatingsKey, r)
	}
	if !local.Valid() {
		return
	}

	s, ok := rec.Scores[CommentsKey]
	if !ok {
		s = &model.Score{Name: CommentsKey, Min: 0, Max: in.canonicalMax}
		rec.Scores[CommentsKey] = s
	}
	s.Contributions = append(s.Contributions, model.ScoreContribution{
		Source: CommentsSource,
		Value:  local.Avg,
		Min:    0,
		Max:    in.canonicalMax,
		Voters: local.Count,
	})
	if !s.HasTag(CommentsTag) {
		s.Tags = append(s.Tags, CommentsTag)
	}
}

// Seal computes the raw value of every score of rec as the mean of its
// contributions rescaled onto the score's bounds, and feeds it to tracker.
func Seal(rec *model.CanonicalRecord, tracker *cardinality.Tracker) {
	for _, name := range rec.ScoreNames() {
		s := rec.Scores[name]
		if s.Derived || len(s.Contributions) == 0 {
			continue
		}
		slices.SortStableFunc(s.Contributions, func(a, b model.ScoreContribution) int {
			return strings.Compare(a.Source, b.Source)
		})

		var sum float64
		var voters int64
		for _, c := range s.Contributions {
			sum += rescale(c.Value, c.Min, c.Max, s.Min, s.Max)
			voters += c.Voters
		}
		raw := sum / float64(len(s.Contributions))
		s.Raw = &raw
		s.Voters = voters
		tracker.Add(name, raw)
	}
}

// rescale maps v from [fromMin, fromMax] onto [toMin, toMax]. Values from a
// degenerate scale are kept as is.
func rescale(v, fromMin, fromMax, toMin, toMax float64) float64 {
	if fromMax == fromMin || (fromMin == toMin && fromMax == toMax) {
		return v
	}
	return toMin + (v-fromMin)*(toMax-toMin)/(fromMax-fromMin)
}
