package model

import (
	"fmt"
	"strings"
	"time"
)

// Offer is a price quote retained in a record's price aggregate.
type Offer struct {
	Source       string       `json:"source"`
	State        ProductState `json:"state"`
	OfferName    string       `json:"offer_name,omitempty"`
	Price        float64      `json:"price"`
	Currency     string       `json:"currency"`
	Timestamp    time.Time    `json:"timestamp"`
	URL          string       `json:"url,omitempty"`
	Affiliated   bool         `json:"affiliated"`
	Compensation float64      `json:"compensation"`
}

// Key identifies competing quotes of the same offer: source, product state
// and normalized offer name.
func (o Offer) Key() string {
	return fmt.Sprintf("%s|%s|%s", o.Source, o.State, strings.ToUpper(strings.TrimSpace(o.OfferName)))
}

// PriceHistory is one entry of the append-only history of minimum prices.
type PriceHistory struct {
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Trend values.
const (
	TrendDecreased = -1
	TrendFlat      = 0
	TrendIncreased = 1
)

// PriceAggregate holds the currently valid offers of a record.
type PriceAggregate struct {
	Offers      []Offer        `json:"offers"`
	Min         *Offer         `json:"min,omitempty"`
	History     []PriceHistory `json:"history"`
	Trend       int            `json:"trend"`
	OffersCount int            `json:"offers_count"`
}

// LastHistory returns the most recent history entry.
func (p *PriceAggregate) LastHistory() (PriceHistory, bool) {
	if len(p.History) == 0 {
		return PriceHistory{}, false
	}
	return p.History[len(p.History)-1], true
}
