package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-fusion/internal/model"
)

func TestReadObservations_Array(t *testing.T) {
	in := `[
		{"source":"icecat","product_id":"P1","timestamp":"2026-03-01T10:00:00Z",
		 "attributes":[{"name":"COLOR","value":"Noir"}],
		 "referentiel":{"BRAND":"LG"}},
		{"source":"fnac","product_id":"P1","timestamp":"2026-03-02T10:00:00Z",
		 "price":{"price":499,"currency":"EUR","state":"NEW"}}
	]`

	obs, err := ReadObservations(context.Background(), strings.NewReader(in), 0)
	require.NoError(t, err)
	require.Len(t, obs, 2)

	assert.Equal(t, int64(1), obs[0].Seq)
	assert.Equal(t, int64(2), obs[1].Seq)
	assert.Equal(t, "LG", obs[0].Referentiel[model.ReferentielBrand])
	require.NotNil(t, obs[1].Price)
	assert.InDelta(t, 499.0, obs[1].Price.Price, 1e-9)
}

func TestReadObservations_JSONLinesWithOffset(t *testing.T) {
	in := `{"source":"icecat","product_id":"P1","timestamp":"2026-03-01T10:00:00Z"}
{"source":"icecat","product_id":"P2","timestamp":"2026-03-01T10:00:00Z"}
`
	obs, err := ReadObservations(context.Background(), strings.NewReader(in), 10)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, int64(11), obs[0].Seq)
	assert.Equal(t, "P2", obs[1].ProductID)
}

func TestReadObservations_Malformed(t *testing.T) {
	in := `[{"source":"icecat","product_id":"P1"}, {"source": 12}]`
	obs, err := ReadObservations(context.Background(), strings.NewReader(in), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest: read observations")
	assert.Len(t, obs, 1)
}

func TestRenumber(t *testing.T) {
	obs := []model.Observation{{Seq: 7}, {Seq: 3}, {Seq: 9}}
	Renumber(obs)
	assert.Equal(t, []int64{1, 2, 3}, []int64{obs[0].Seq, obs[1].Seq, obs[2].Seq})
}
