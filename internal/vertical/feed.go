package vertical

import (
	"path"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-fusion/internal/model"
)

// Feed formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatXML  = "xml"
	FormatJSON = "json"
)

// Feed describes where a datasource publishes its catalog and how its rows
// map onto observations.
type Feed struct {
	// URL is an http(s)://, ftp:// or file:// location, or a local path.
	URL string `yaml:"url"`
	// Format is inferred from the URL extension when empty.
	Format    string `yaml:"format"`
	Separator string `yaml:"separator"`
	Zipped    bool   `yaml:"zipped"`
	Gzip      bool   `yaml:"gzip"`
	// Element names the product element of an XML feed.
	Element string `yaml:"element"`
	Sheet   string `yaml:"sheet"`
	// Currency applies when no currency column is mapped.
	Currency string      `yaml:"currency"`
	Columns  FeedColumns `yaml:"columns"`
	// Include keeps only rows whose column equals the value; Exclude drops them.
	Include map[string]string `yaml:"include"`
	Exclude map[string]string `yaml:"exclude"`
	// ImportAllAttributes turns every unmapped column into a raw attribute.
	ImportAllAttributes bool `yaml:"import_all_attributes"`
}

// FeedColumns maps observation fields to feed column names. List fields
// take the first non-empty column.
type FeedColumns struct {
	Source      string                            `yaml:"source"`
	ProductID   []string                          `yaml:"product_id"`
	Price       []string                          `yaml:"price"`
	Currency    string                            `yaml:"currency"`
	State       string                            `yaml:"state"`
	OfferName   string                            `yaml:"offer_name"`
	URL         []string                          `yaml:"url"`
	Timestamp   string                            `yaml:"timestamp"`
	Category    []string                          `yaml:"category"`
	Images      []string                          `yaml:"images"`
	Rating      string                            `yaml:"rating"`
	Referentiel map[model.ReferentielKey][]string `yaml:"referentiel"`
}

// Mapped reports whether column is bound to an observation field.
func (c FeedColumns) Mapped(column string) bool {
	if column == "" {
		return false
	}
	single := []string{c.Source, c.Currency, c.State, c.OfferName, c.Timestamp, c.Rating}
	if slices.Contains(single, column) {
		return true
	}
	for _, list := range [][]string{c.ProductID, c.Price, c.URL, c.Category, c.Images} {
		if slices.Contains(list, column) {
			return true
		}
	}
	for _, cols := range c.Referentiel {
		if slices.Contains(cols, column) {
			return true
		}
	}
	return false
}

// ResolvedFormat returns the declared format or the one implied by the URL
// extension, ignoring .zip and .gz suffixes.
func (f Feed) ResolvedFormat() (string, error) {
	if f.Format != "" {
		format := strings.ToLower(f.Format)
		switch format {
		case FormatCSV, FormatXLSX, FormatXML, FormatJSON:
			return format, nil
		case "jsonl", "ndjson":
			return FormatJSON, nil
		}
		return "", eris.Errorf("vertical: unknown feed format %q", f.Format)
	}

	name := strings.ToLower(path.Base(f.URL))
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".zip")
	switch path.Ext(name) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".xml":
		return FormatXML, nil
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON, nil
	}
	return "", eris.Errorf("vertical: cannot infer feed format of %q", f.URL)
}

// Feeds returns the names of datasources that publish a feed, sorted.
func (c *Config) Feeds() []string {
	var names []string
	for name, ds := range c.Datasources {
		if ds.Feed != nil && ds.Feed.URL != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
