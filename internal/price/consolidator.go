// Package price deduplicates competing offers of a product and tracks the
// history and trend of its minimum price.
package price

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/vertical"
)

// Defaults used when Settings leaves a value unset.
const (
	DefaultValidityDays      = 2
	DefaultCompensationShare = 0.2
	DefaultPercent           = 3.0
)

// Settings holds the numeric parameters of the consolidator.
type Settings struct {
	ValidityDays      int
	CompensationShare float64
	DefaultPercent    float64
}

func (s Settings) withDefaults() Settings {
	if s.ValidityDays <= 0 {
		s.ValidityDays = DefaultValidityDays
	}
	if s.CompensationShare <= 0 {
		s.CompensationShare = DefaultCompensationShare
	}
	if s.DefaultPercent <= 0 {
		s.DefaultPercent = DefaultPercent
	}
	return s
}

// Consolidator folds price quotes into a record's PriceAggregate.
type Consolidator struct {
	cfg      *vertical.Config
	settings Settings
	now      time.Time
}

// NewConsolidator creates a consolidator. Offers older than now minus the
// validity window are discarded.
func NewConsolidator(cfg *vertical.Config, settings Settings, now time.Time) *Consolidator {
	return &Consolidator{cfg: cfg, settings: settings.withDefaults(), now: now}
}

// Apply adds the price quote of obs, if any, to rec. Rejected quotes are
// recorded on the record and returned.
func (c *Consolidator) Apply(rec *model.CanonicalRecord, obs model.Observation) error {
	if obs.Price == nil {
		return nil
	}
	ds := c.cfg.Datasource(obs.Source)
	offer := model.Offer{
		Source:     obs.Source,
		State:      obs.Price.State,
		OfferName:  obs.Price.OfferName,
		Price:      obs.Price.Price,
		Currency:   obs.Price.Currency,
		Timestamp:  obs.Timestamp,
		URL:        obs.Price.URL,
		Affiliated: ds.Affiliated,
	}
	if offer.State == "" {
		offer.State = model.ProductStateNew
	}
	if err := c.Add(&rec.Price, offer); err != nil {
		rec.Reject(model.StageIngest, err)
		return err
	}
	return nil
}

// Add appends offer to agg, drops stale offers, keeps the lowest price per
// offer key, elects the minimum and updates history and trend.
func (c *Consolidator) Add(agg *model.PriceAggregate, offer model.Offer) error {
	if math.IsNaN(offer.Price) || math.IsInf(offer.Price, 0) || offer.Price <= 0 {
		re := model.Reject(model.ErrorParse, "price", offer.Source, "")
		re.Err = eris.Wrapf(model.ErrInvalidPrice, "price: %g", offer.Price)
		return re
	}

	cutoff := c.now.Add(-time.Duration(c.settings.ValidityDays) * 24 * time.Hour)
	var stale error
	if offer.Timestamp.Before(cutoff) {
		re := model.Reject(model.ErrorParse, "price", offer.Source, "")
		re.Err = eris.Wrapf(model.ErrStaleOffer, "price: offer of %s", offer.Timestamp.Format(time.RFC3339))
		stale = re
	}

	all := append(agg.Offers, offer)
	byKey := make(map[string]int, len(all))
	reduced := make([]model.Offer, 0, len(all))
	for _, o := range all {
		if o.Timestamp.Before(cutoff) {
			zap.L().Debug("price: dropping stale offer",
				zap.String("source", o.Source),
				zap.Time("timestamp", o.Timestamp),
			)
			continue
		}
		k := o.Key()
		if i, ok := byKey[k]; ok {
			if o.Price < reduced[i].Price {
				reduced[i] = o
			}
			continue
		}
		byKey[k] = len(reduced)
		reduced = append(reduced, o)
	}

	for i := range reduced {
		reduced[i].Compensation = c.compensation(reduced[i])
	}

	agg.Offers = reduced
	agg.OffersCount = len(reduced)
	agg.Min = nil
	for i := range reduced {
		if agg.Min == nil || reduced[i].Price < agg.Min.Price {
			m := reduced[i]
			agg.Min = &m
		}
	}

	if agg.Min != nil && agg.Min.State == model.ProductStateNew {
		updateHistory(agg, *agg.Min)
	}
	return stale
}

// updateHistory compares the elected minimum with the last history entry.
// Increases are appended to the history, decreases only move the trend.
func updateHistory(agg *model.PriceAggregate, minOffer model.Offer) {
	entry := model.PriceHistory{Price: minOffer.Price, Source: minOffer.Source, Timestamp: minOffer.Timestamp}
	last, ok := agg.LastHistory()
	switch {
	case !ok:
		agg.Trend = model.TrendFlat
		agg.History = append(agg.History, entry)
	case minOffer.Price == last.Price:
		agg.Trend = model.TrendFlat
	case minOffer.Price > last.Price:
		agg.Trend = model.TrendIncreased
		agg.History = append(agg.History, entry)
	default:
		agg.Trend = model.TrendDecreased
	}
}

func (c *Consolidator) compensation(o model.Offer) float64 {
	if !o.Affiliated {
		return 0
	}
	percent := c.settings.DefaultPercent
	if p := c.cfg.Datasource(o.Source).CompensationPercent; p != nil {
		percent = *p
	}
	return o.Price * (percent / 100) * c.settings.CompensationShare
}
