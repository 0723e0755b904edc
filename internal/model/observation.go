package model

import (
	"strings"
	"time"
)

// ReferentielKey names a canonical identifying field of a product.
type ReferentielKey string

const (
	ReferentielBrand ReferentielKey = "BRAND"
	ReferentielModel ReferentielKey = "MODEL"
	ReferentielGTIN  ReferentielKey = "GTIN"
)

// ParseReferentielKey upper-cases and trims a raw key.
func ParseReferentielKey(s string) ReferentielKey {
	return ReferentielKey(strings.ToUpper(strings.TrimSpace(s)))
}

// ProductState is the condition of the product behind a price quote.
type ProductState string

const (
	ProductStateNew         ProductState = "NEW"
	ProductStateOccasion    ProductState = "OCCASION"
	ProductStateRefurbished ProductState = "REFURBISHED"
)

// ParseProductState maps free-form state labels to a ProductState.
// Unknown or empty labels default to NEW.
func ParseProductState(s string) ProductState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OCCASION", "USED", "SECOND_HAND", "SECONDHAND":
		return ProductStateOccasion
	case "REFURBISHED", "RECONDITIONNE", "RECONDITIONED":
		return ProductStateRefurbished
	default:
		return ProductStateNew
	}
}

// RawAttribute is an attribute exactly as a source reported it.
type RawAttribute struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Language string `json:"language,omitempty"`
}

// RawScore is a rating reported by a source on its own scale.
type RawScore struct {
	Name   string   `json:"name"`
	Value  *float64 `json:"value"`
	Min    float64  `json:"min"`
	Max    float64  `json:"max"`
	Voters int64    `json:"voters,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// Comment is a user review; Rating is on the canonical scale when present.
type Comment struct {
	Rating *float64 `json:"rating,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// PriceQuote is the zero-or-one offer carried by an observation.
type PriceQuote struct {
	Price     float64      `json:"price"`
	Currency  string       `json:"currency"`
	State     ProductState `json:"state"`
	OfferName string       `json:"offer_name,omitempty"`
	URL       string       `json:"url,omitempty"`
}

// Resource is a media or document link attached to an observation.
type Resource struct {
	URL  string `json:"url"`
	Kind string `json:"kind,omitempty"`
}

// Observation is one source's point-in-time report about one product.
// It is owned by the producing collaborator and never mutated by the core.
type Observation struct {
	Source      string                    `json:"source"`
	ProductID   string                    `json:"product_id"`
	Timestamp   time.Time                 `json:"timestamp"`
	Attributes  []RawAttribute            `json:"attributes,omitempty"`
	Scores      []RawScore                `json:"scores,omitempty"`
	Comments    []Comment                 `json:"comments,omitempty"`
	Referentiel map[ReferentielKey]string `json:"referentiel,omitempty"`
	Price       *PriceQuote               `json:"price,omitempty"`
	Category    string                    `json:"category,omitempty"`
	Resources   []Resource                `json:"resources,omitempty"`

	// Seq is the arrival index assigned by the reader; it is only used as a
	// last-resort ordering key.
	Seq int64 `json:"-"`
}

// HasIdentity reports whether the observation can be attached to a record.
func (o Observation) HasIdentity() bool {
	return strings.TrimSpace(o.ProductID) != ""
}
