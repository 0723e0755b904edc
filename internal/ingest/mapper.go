package ingest

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/vertical"
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
}

// Mapper converts feed rows of one datasource into observations.
type Mapper struct {
	source string
	feed   vertical.Feed
	now    time.Time
}

// NewMapper creates a mapper for source. Rows without a timestamp column
// are stamped with now.
func NewMapper(source string, feed vertical.Feed, now time.Time) *Mapper {
	return &Mapper{source: source, feed: feed, now: now}
}

// Filtered reports whether row is dropped by the feed's include and exclude
// rules.
func (m *Mapper) Filtered(row map[string]string) bool {
	for col, want := range m.feed.Include {
		if !strings.EqualFold(strings.TrimSpace(row[col]), want) {
			return true
		}
	}
	for col, reject := range m.feed.Exclude {
		if strings.EqualFold(strings.TrimSpace(row[col]), reject) {
			return true
		}
	}
	return false
}

// Map builds the observation of row. A row without product identity still
// yields an observation so the fusion engine can report it; an unparsable
// price or timestamp is returned as an error alongside the observation,
// which then carries no price quote.
func (m *Mapper) Map(row map[string]string) (model.Observation, error) {
	c := m.feed.Columns
	obs := model.Observation{
		Source:    m.source,
		ProductID: first(row, c.ProductID),
		Timestamp: m.now,
		Category:  first(row, c.Category),
	}
	if c.Source != "" {
		if s := strings.TrimSpace(row[c.Source]); s != "" {
			obs.Source = s
		}
	}

	var errs []string
	if c.Timestamp != "" {
		if raw := strings.TrimSpace(row[c.Timestamp]); raw != "" {
			ts, err := parseTimestamp(raw)
			if err != nil {
				errs = append(errs, err.Error())
			} else {
				obs.Timestamp = ts
			}
		}
	}

	if raw := first(row, c.Price); raw != "" {
		price, err := ParsePrice(raw)
		if err != nil {
			errs = append(errs, err.Error())
		} else {
			obs.Price = &model.PriceQuote{
				Price:     price,
				Currency:  m.currency(row),
				State:     model.ParseProductState(row[c.State]),
				OfferName: strings.TrimSpace(row[c.OfferName]),
				URL:       first(row, c.URL),
			}
		}
	}

	if len(c.Referentiel) > 0 {
		obs.Referentiel = make(map[model.ReferentielKey]string, len(c.Referentiel))
		for key, cols := range c.Referentiel {
			if v := first(row, cols); v != "" {
				obs.Referentiel[model.ParseReferentielKey(string(key))] = v
			}
		}
	}

	for _, col := range c.Images {
		if u := strings.TrimSpace(row[col]); u != "" {
			obs.Resources = append(obs.Resources, model.Resource{URL: u, Kind: "image"})
		}
	}

	if c.Rating != "" {
		if raw := strings.TrimSpace(row[c.Rating]); raw != "" {
			if r, err := ParsePrice(raw); err == nil {
				obs.Comments = append(obs.Comments, model.Comment{Rating: &r})
			}
		}
	}

	if m.feed.ImportAllAttributes {
		obs.Attributes = m.attributes(row)
	}

	if len(errs) > 0 {
		return obs, eris.Errorf("ingest: %s row %q: %s", m.source, obs.ProductID, strings.Join(errs, "; "))
	}
	return obs, nil
}

func (m *Mapper) currency(row map[string]string) string {
	if col := m.feed.Columns.Currency; col != "" {
		if v := strings.TrimSpace(row[col]); v != "" {
			return strings.ToUpper(v)
		}
	}
	return strings.ToUpper(m.feed.Currency)
}

// attributes returns every unmapped non-empty column, sorted by name.
func (m *Mapper) attributes(row map[string]string) []model.RawAttribute {
	names := make([]string, 0, len(row))
	for name := range row {
		if !m.feed.Columns.Mapped(name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	var attrs []model.RawAttribute
	for _, name := range names {
		v := strings.TrimSpace(row[name])
		if v == "" {
			continue
		}
		attrs = append(attrs, model.RawAttribute{Name: name, Value: v})
	}
	return attrs
}

// ParsePrice parses a decimal with an optional currency symbol, thousands
// separators and a comma or dot decimal mark.
func ParsePrice(raw string) (float64, error) {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			return r
		default:
			return -1
		}
	}, raw)
	if s == "" {
		return 0, eris.Errorf("invalid price %q", raw)
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Errorf("invalid price %q", raw)
	}
	return v, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(epoch, 0).UTC(), nil
	}
	return time.Time{}, eris.Errorf("invalid timestamp %q", raw)
}

func first(row map[string]string, cols []string) string {
	for _, col := range cols {
		if v := strings.TrimSpace(row[col]); v != "" {
			return v
		}
	}
	return ""
}
