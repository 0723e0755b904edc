package score

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-fusion/internal/cardinality"
	"github.com/sells-group/product-fusion/internal/model"
)

// Relativizer rescales raw scores onto [0, CanonicalMax] using batch-wide
// cardinalities.
type Relativizer struct {
	CanonicalMax float64
}

// NewRelativizer returns a relativizer for the given canonical maximum.
func NewRelativizer(canonicalMax float64) *Relativizer {
	return &Relativizer{CanonicalMax: canonicalMax}
}

// Relativize computes
//
//	(raw - (card.Min - s.Min)) * max / (card.Max - (card.Min - s.Min))
//
// clamped to [0, max].
func Relativize(s *model.Score, card model.Cardinality, canonicalMax float64) (float64, bool, error) {
	if s.Raw == nil {
		return 0, false, eris.Wrapf(model.ErrMissingValue, "score: %s", s.Name)
	}
	if !card.Valid() {
		return 0, false, eris.Wrapf(model.ErrNoCardinality, "score: %s", s.Name)
	}
	offset := card.Min - s.Min
	denom := card.Max - offset
	if card.Width() == 0 || denom <= 0 {
		return 0, false, eris.Wrapf(model.ErrZeroWidth, "score: %s %s", s.Name, card)
	}

	v := (*s.Raw - offset) * canonicalMax / denom
	clamped := false
	switch {
	case v < 0:
		v, clamped = 0, true
	case v > canonicalMax:
		v, clamped = canonicalMax, true
	}
	return v, clamped, nil
}

// Score relativizes s against the tracker entry of the same name and
// attaches the cardinality snapshot. Skips are returned as statistical
// rejections and leave Relativized unset.
func (r *Relativizer) Score(recordID string, s *model.Score, tracker *cardinality.Tracker) error {
	card, ok := tracker.Snapshot(s.Name)
	if ok {
		snap := card
		s.Absolute = &snap
	}
	v, clamped, err := Relativize(s, card, r.CanonicalMax)
	if err != nil {
		zap.L().Debug("score: relativization skipped",
			zap.String("product_id", recordID),
			zap.String("score", s.Name),
			zap.Error(err),
		)
		re := model.Reject(model.ErrorStatistical, s.Name, "", "relativization skipped")
		re.Err = err
		return re
	}
	if clamped {
		zap.L().Warn("score: relativized value clamped",
			zap.String("product_id", recordID),
			zap.String("score", s.Name),
			zap.Float64("raw", *s.Raw),
			zap.Stringer("cardinality", card),
		)
	}
	s.Relativized = &v
	return nil
}

// Record relativizes every non-derived score of rec. Skipped scores are
// recorded as rejections of the relativize stage.
func (r *Relativizer) Record(rec *model.CanonicalRecord, tracker *cardinality.Tracker) {
	for _, name := range rec.ScoreNames() {
		s := rec.Scores[name]
		if s.Derived {
			continue
		}
		if err := r.Score(rec.ID, s, tracker); err != nil {
			rec.Reject(model.StageRelativize, err)
		}
	}
}
