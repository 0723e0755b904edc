package pipeline

import (
	"slices"
	"strconv"
	"time"

	"github.com/sells-group/product-fusion/internal/model"
)

// BuildProvenance lists, for every elected attribute, referentiel field and
// resolved score of rec, the winning value and all source attempts. When
// previous is the stored version of the same record, value changes are
// flagged.
func BuildProvenance(runID string, rec, previous *model.CanonicalRecord) []model.FieldProvenance {
	var records []model.FieldProvenance

	for _, key := range sortedKeys(rec.Attributes) {
		attr := rec.Attributes[key]
		fp := model.FieldProvenance{
			RunID:        runID,
			ProductID:    rec.ID,
			Kind:         model.ProvenanceAttribute,
			FieldKey:     key,
			WinnerValue:  attr.Value,
			HasConflicts: attr.HasConflicts,
			Attempts:     make([]model.ProvenanceAttempt, 0, len(attr.Sources)),
		}
		for _, sv := range attr.Sources {
			fp.Attempts = append(fp.Attempts, model.ProvenanceAttempt{
				Source:      sv.Source,
				Value:       sv.Value,
				Referentiel: sv.Referentiel,
				DataAsOf:    timePtr(sv),
			})
		}
		if previous != nil {
			if prev, ok := previous.Attributes[key]; ok {
				fp.PreviousValue = prev.Value
				fp.ValueChanged = prev.Value != attr.Value
			}
		}
		records = append(records, fp)
	}

	keys := make([]model.ReferentielKey, 0, len(rec.Referentiel))
	for k := range rec.Referentiel {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, key := range keys {
		fp := model.FieldProvenance{
			RunID:       runID,
			ProductID:   rec.ID,
			Kind:        model.ProvenanceReferentiel,
			FieldKey:    string(key),
			WinnerValue: rec.Referentiel[key],
		}
		for _, alt := range alternates(rec, key) {
			ts := alt.Timestamp
			fp.Attempts = append(fp.Attempts, model.ProvenanceAttempt{
				Source:   alt.Source,
				Value:    alt.Value,
				DataAsOf: &ts,
			})
		}
		fp.HasConflicts = len(fp.Attempts) > 0
		if previous != nil {
			if prev, ok := previous.Referentiel[key]; ok {
				fp.PreviousValue = prev
				fp.ValueChanged = prev != fp.WinnerValue
			}
		}
		records = append(records, fp)
	}

	for _, name := range rec.ScoreNames() {
		s := rec.Scores[name]
		v, ok := s.Resolved()
		if !ok {
			continue
		}
		fp := model.FieldProvenance{
			RunID:       runID,
			ProductID:   rec.ID,
			Kind:        model.ProvenanceScore,
			FieldKey:    name,
			WinnerValue: formatFloat(v),
			Attempts:    make([]model.ProvenanceAttempt, 0, len(s.Contributions)),
		}
		for _, c := range s.Contributions {
			fp.Attempts = append(fp.Attempts, model.ProvenanceAttempt{
				Source: c.Source,
				Value:  formatFloat(c.Value),
			})
		}
		if previous != nil {
			if prev, ok := previous.Scores[name].Resolved(); ok {
				fp.PreviousValue = formatFloat(prev)
				fp.ValueChanged = fp.PreviousValue != fp.WinnerValue
			}
		}
		records = append(records, fp)
	}

	return records
}

// CountChanged returns the number of provenance records where the value changed.
func CountChanged(records []model.FieldProvenance) int {
	var n int
	for _, r := range records {
		if r.ValueChanged {
			n++
		}
	}
	return n
}

func alternates(rec *model.CanonicalRecord, key model.ReferentielKey) []model.AlternateValue {
	var list []model.AlternateValue
	switch key {
	case model.ReferentielModel:
		list = rec.AlternateIDs
	case model.ReferentielBrand:
		list = rec.AlternateBrands
	}
	out := make([]model.AlternateValue, 0, len(list))
	for _, alt := range list {
		if alt.Key == key {
			out = append(out, alt)
		}
	}
	return out
}

func sortedKeys(m map[string]*model.AggregatedAttribute) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func timePtr(sv model.SourcedValue) *time.Time {
	if sv.Timestamp.IsZero() {
		return nil
	}
	ts := sv.Timestamp
	return &ts
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
