package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldProvenance_JSONOmitsEmptyPrevious(t *testing.T) {
	fp := FieldProvenance{
		RunID:       "run-1",
		ProductID:   "p1",
		Kind:        ProvenanceAttribute,
		FieldKey:    "COLOR",
		WinnerValue: "RED",
		Attempts:    []ProvenanceAttempt{{Source: "icecat", Value: "RED", Referentiel: true}},
	}
	data, err := json.Marshal(fp)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "previous_value")
	assert.Contains(t, string(data), `"kind":"attribute"`)
}
