package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/vertical"
)

const testVertical = `
vertical:
  id: tv
  attributes:
    - key: COLOR
      type: TEXT
      synonyms:
        all: [COULEUR]
      parser: { case: lower, normalize: true, trim: true }
    - key: DIAGONAL
      type: NUMERIC
      synonyms:
        all: [SCREEN SIZE]
      parser:
        delete_tokens: [pouces]
        remove_parenthesis: true
        trim: true
    - key: ENERGY_CLASS
      type: TEXT
      synonyms:
        all: [CLASSE ENERGETIQUE]
      parser: { normalize: true, trim: true, name: energy_class }
      numeric_mapping: { A: 5, B: 4, C: 3, D: 2, E: 1, F: 0.5, G: 0 }
      as_score: true
  mandatory: [DIAGONAL]
  scores:
    REPAIRABILITY_INDEX: { min: 0, max: 10 }
    ENERGY_CLASS: { min: 0, max: 5 }
    COMMENTS: { min: 0, max: 5 }
  composites:
    - name: ECOSCORE
      normalize: true
      components:
        - { score: REPAIRABILITY_INDEX, weight: 0.6 }
        - { score: ENERGY_CLASS, weight: 0.4 }
  brands:
    LG ELECTRONICS: LG
  taxonomy:
    TELEVISEURS: tv
  datasources:
    icecat: { referentiel: true }
    fnac: { affiliated: true, compensation_percent: 4 }
`

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testVerticalConfig(t *testing.T) *vertical.Config {
	t.Helper()
	vc, err := vertical.Parse([]byte(testVertical))
	require.NoError(t, err)
	return vc
}

func testFuser(t *testing.T, workers int) *Fuser {
	t.Helper()
	f, err := NewFuser(testVerticalConfig(t), nil, Settings{
		Workers:      workers,
		CanonicalMax: 5,
		WorstLimit:   1,
		BestLimit:    1,
	})
	require.NoError(t, err)
	return f
}

// tvObservation builds an observation of a television with a diagonal, an
// energy class and a repairability index.
func tvObservation(source, id string, hoursAgo int, energy string, repair float64) model.Observation {
	return model.Observation{
		Source:    source,
		ProductID: id,
		Timestamp: testNow.Add(-time.Duration(hoursAgo) * time.Hour),
		Attributes: []model.RawAttribute{
			{Name: "SCREEN SIZE", Value: "55 pouces"},
			{Name: "CLASSE ENERGETIQUE", Value: energy},
		},
		Scores: []model.RawScore{
			{Name: "REPAIRABILITY_INDEX", Value: model.Float(repair), Min: 0, Max: 10},
		},
		Category: "Televiseurs",
	}
}

func sampleObservations() []model.Observation {
	p1 := tvObservation("icecat", "P1", 10, "A", 8)
	p1.Referentiel = map[model.ReferentielKey]string{model.ReferentielBrand: "LG Electronics"}
	p1.Comments = []model.Comment{{Rating: model.Float(4)}, {Rating: model.Float(2)}}

	p1Offer := model.Observation{
		Source:    "fnac",
		ProductID: "P1",
		Timestamp: testNow.Add(-2 * time.Hour),
		Attributes: []model.RawAttribute{
			{Name: "COULEUR", Value: "Noir"},
		},
		Price: &model.PriceQuote{Price: 499, Currency: "EUR"},
	}

	p2 := tvObservation("icecat", "P2", 8, "C", 4)
	p2.Comments = []model.Comment{{Rating: model.Float(5)}}

	p3 := tvObservation("icecat", "P3", 6, "B", 6)

	return []model.Observation{p1, p1Offer, p2, p3}
}

func findRecord(t *testing.T, records []*model.CanonicalRecord, id string) *model.CanonicalRecord {
	t.Helper()
	for _, rec := range records {
		if rec.ID == id {
			return rec
		}
	}
	require.Failf(t, "record not found", "no record %s", id)
	return nil
}

func resolved(t *testing.T, rec *model.CanonicalRecord, name string) float64 {
	t.Helper()
	s, ok := rec.Scores[name]
	require.True(t, ok, "score %s missing on %s", name, rec.ID)
	v, ok := s.Resolved()
	require.True(t, ok, "score %s unresolved on %s", name, rec.ID)
	return v
}
