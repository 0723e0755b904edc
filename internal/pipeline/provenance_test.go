package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-fusion/internal/model"
)

func provenanceRecord() *model.CanonicalRecord {
	ts := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	rec := model.NewCanonicalRecord("P1")
	rec.Attributes["COLOR"] = &model.AggregatedAttribute{
		Name:         "COLOR",
		Value:        "noir",
		SourceCount:  2,
		HasConflicts: true,
		Sources: []model.SourcedValue{
			{Source: "icecat", Value: "noir", Referentiel: true, Timestamp: ts},
			{Source: "fnac", Value: "black"},
		},
	}
	rec.Referentiel[model.ReferentielBrand] = "LG"
	rec.Referentiel[model.ReferentielModel] = "OLED55C3"
	rec.AlternateIDs = []model.AlternateValue{
		{Key: model.ReferentielModel, Value: "OLED55C34LA", Source: "fnac", Timestamp: ts},
	}
	rec.Scores["REPAIRABILITY_INDEX"] = &model.Score{
		Name:          "REPAIRABILITY_INDEX",
		Raw:           model.Float(8),
		Relativized:   model.Float(4.25),
		Contributions: []model.ScoreContribution{{Source: "icecat", Value: 8, Max: 10}},
	}
	rec.Scores["NOISE"] = &model.Score{Name: "NOISE", Raw: model.Float(30)}
	return rec
}

func TestBuildProvenance(t *testing.T) {
	records := BuildProvenance("run-1", provenanceRecord(), nil)
	require.Len(t, records, 4)

	color := records[0]
	assert.Equal(t, model.ProvenanceAttribute, color.Kind)
	assert.Equal(t, "COLOR", color.FieldKey)
	assert.Equal(t, "noir", color.WinnerValue)
	assert.True(t, color.HasConflicts)
	require.Len(t, color.Attempts, 2)
	assert.True(t, color.Attempts[0].Referentiel)
	require.NotNil(t, color.Attempts[0].DataAsOf)
	assert.Nil(t, color.Attempts[1].DataAsOf)

	brand := records[1]
	assert.Equal(t, model.ProvenanceReferentiel, brand.Kind)
	assert.Equal(t, "BRAND", brand.FieldKey)
	assert.False(t, brand.HasConflicts)
	assert.Empty(t, brand.Attempts)

	mdl := records[2]
	assert.Equal(t, "MODEL", mdl.FieldKey)
	assert.True(t, mdl.HasConflicts)
	require.Len(t, mdl.Attempts, 1)
	assert.Equal(t, "OLED55C34LA", mdl.Attempts[0].Value)

	// NOISE is unresolved and has no provenance.
	repair := records[3]
	assert.Equal(t, model.ProvenanceScore, repair.Kind)
	assert.Equal(t, "REPAIRABILITY_INDEX", repair.FieldKey)
	assert.Equal(t, "4.2500", repair.WinnerValue)
	require.Len(t, repair.Attempts, 1)
	assert.Equal(t, "8.0000", repair.Attempts[0].Value)

	for _, r := range records {
		assert.Equal(t, "run-1", r.RunID)
		assert.Equal(t, "P1", r.ProductID)
		assert.False(t, r.ValueChanged)
	}
}

func TestBuildProvenance_ValueChanged(t *testing.T) {
	previous := provenanceRecord()
	previous.Attributes["COLOR"].Value = "gris"
	previous.Scores["REPAIRABILITY_INDEX"].Relativized = model.Float(4.25)
	previous.Referentiel[model.ReferentielBrand] = "LG ELECTRONICS"

	records := BuildProvenance("run-2", provenanceRecord(), previous)

	changed := make(map[string]model.FieldProvenance)
	for _, r := range records {
		changed[r.FieldKey] = r
	}
	assert.True(t, changed["COLOR"].ValueChanged)
	assert.Equal(t, "gris", changed["COLOR"].PreviousValue)
	assert.True(t, changed["BRAND"].ValueChanged)
	assert.False(t, changed["MODEL"].ValueChanged)
	assert.False(t, changed["REPAIRABILITY_INDEX"].ValueChanged)
	assert.Equal(t, "4.2500", changed["REPAIRABILITY_INDEX"].PreviousValue)

	assert.Equal(t, 2, CountChanged(records))
}

func TestCountChanged_Empty(t *testing.T) {
	assert.Zero(t, CountChanged(nil))
}
