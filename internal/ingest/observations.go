// Package ingest turns input files and datasource feeds into observations.
package ingest

import (
	"context"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-fusion/internal/fetcher"
	"github.com/sells-group/product-fusion/internal/model"
)

// ReadObservations decodes observations from a JSON array or JSON Lines
// stream. Each observation gets its arrival index as Seq, starting after
// offset.
func ReadObservations(ctx context.Context, r io.Reader, offset int64) ([]model.Observation, error) {
	out, errCh := fetcher.StreamJSON[model.Observation](ctx, r)

	var observations []model.Observation
	seq := offset
	for obs := range out {
		seq++
		obs.Seq = seq
		observations = append(observations, obs)
	}
	if err := <-errCh; err != nil {
		return observations, eris.Wrap(err, "ingest: read observations")
	}
	return observations, nil
}

// Renumber reassigns Seq to the arrival index of every observation.
func Renumber(observations []model.Observation) {
	for i := range observations {
		observations[i].Seq = int64(i + 1)
	}
}
