package ingest

import (
	"context"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-fusion/internal/fetcher"
	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/vertical"
)

// PriceFeed is the layout of the flat price CSV accepted on the command
// line: source,product_id,price,currency,state,offer_name,timestamp,url.
var PriceFeed = vertical.Feed{
	Format:   vertical.FormatCSV,
	Currency: "EUR",
	Columns: vertical.FeedColumns{
		Source:    "source",
		ProductID: []string{"product_id"},
		Price:     []string{"price"},
		Currency:  "currency",
		State:     "state",
		OfferName: "offer_name",
		Timestamp: "timestamp",
		URL:       []string{"url"},
	},
}

// ReadPriceCSV reads price quotes, one observation per row. Rows with an
// invalid price or timestamp are skipped and counted. Seq continues after
// offset.
func ReadPriceCSV(ctx context.Context, r io.Reader, now time.Time, offset int64) ([]model.Observation, Stats, error) {
	stats := Stats{Source: "prices"}
	rows, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{TrimSpace: true})
	mapper := NewMapper("prices", PriceFeed, now)

	var observations []model.Observation
	seq := offset
	for row := range rows {
		stats.Rows++
		obs, err := mapper.Map(row)
		if err != nil || obs.Price == nil {
			stats.Invalid++
			if err != nil {
				zap.L().Warn("ingest: skipping price row", zap.Int("row", stats.Rows), zap.Error(err))
			}
			continue
		}
		seq++
		obs.Seq = seq
		observations = append(observations, obs)
	}
	if err := <-errCh; err != nil {
		return observations, stats, eris.Wrap(err, "ingest: read price csv")
	}
	stats.Observations = len(observations)
	return observations, stats, nil
}
