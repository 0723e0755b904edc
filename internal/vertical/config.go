package vertical

import (
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/product-fusion/internal/model"
)

// AllSources is the synonym bucket applied to every source.
const AllSources = "all"

// Config is the read-only lookup table of one product vertical.
type Config struct {
	ID             string                `yaml:"id"`
	Attributes     []AttributeRule       `yaml:"attributes"`
	Exclusions     []string              `yaml:"exclusions"`
	Mandatory      []string              `yaml:"mandatory"`
	FeaturedValues []string              `yaml:"featured_values"`
	Scores         map[string]Bounds     `yaml:"scores"`
	Composites     []CompositeDef        `yaml:"composites"`
	Brands         map[string]string     `yaml:"brands"`
	Taxonomy       map[string]string     `yaml:"taxonomy"`
	Datasources    map[string]Datasource `yaml:"datasources"`

	byKey     map[string]*AttributeRule
	bySource  map[string]map[string]*AttributeRule
	excluded  map[string]struct{}
	featured  map[string]struct{}
	taxonomyU map[string]string
}

// AttributeRule configures how one attribute is parsed and typed.
type AttributeRule struct {
	Key            string              `yaml:"key"`
	Type           model.AttributeType `yaml:"type"`
	Synonyms       map[string][]string `yaml:"synonyms"`
	Parser         ParserConfig        `yaml:"parser"`
	Mappings       map[string]string   `yaml:"mappings"`
	NumericMapping map[string]float64  `yaml:"numeric_mapping"`
	AsScore        bool                `yaml:"as_score"`
}

// ParserConfig lists the normalization steps applied to a raw value.
type ParserConfig struct {
	// Case is "lower", "upper" or empty.
	Case              string   `yaml:"case"`
	DeleteTokens      []string `yaml:"delete_tokens"`
	RemoveParenthesis bool     `yaml:"remove_parenthesis"`
	Normalize         bool     `yaml:"normalize"`
	Trim              bool     `yaml:"trim"`
	TokenMatch        []string `yaml:"token_match"`
	// Name selects a registered custom parser.
	Name string `yaml:"name"`
}

// Bounds is the declared scale of a score.
type Bounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Component is one weighted input of a composite score.
type Component struct {
	Score  string  `yaml:"score"`
	Weight float64 `yaml:"weight"`
}

// CompositeDef defines a derived score Σ(weight × resolved component).
type CompositeDef struct {
	Name       string      `yaml:"name"`
	Components []Component `yaml:"components"`
	Normalize  bool        `yaml:"normalize"`
}

// Datasource holds per-source settings.
type Datasource struct {
	Referentiel         bool     `yaml:"referentiel"`
	Affiliated          bool     `yaml:"affiliated"`
	CompensationPercent *float64 `yaml:"compensation_percent"`
	Feed                *Feed    `yaml:"feed"`
}

// LoadConfig reads a vertical definition from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vertical: read config %s", path)
	}
	return Parse(data)
}

// Parse decodes a vertical definition. The YAML has a top-level "vertical" key.
func Parse(data []byte) (*Config, error) {
	var wrapper struct {
		Vertical Config `yaml:"vertical"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "vertical: parse config")
	}
	cfg := &wrapper.Vertical
	if err := cfg.Index(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Index validates the config and builds the lookup tables. It must be called
// on configs built in code before Lookup is used.
func (c *Config) Index() error {
	c.byKey = make(map[string]*AttributeRule, len(c.Attributes))
	c.bySource = make(map[string]map[string]*AttributeRule)

	for i := range c.Attributes {
		rule := &c.Attributes[i]
		rule.Key = strings.ToUpper(strings.TrimSpace(rule.Key))
		if rule.Key == "" {
			return eris.Errorf("vertical: attribute %d has no key", i)
		}
		if _, dup := c.byKey[rule.Key]; dup {
			return eris.Errorf("vertical: duplicate attribute %s", rule.Key)
		}
		rule.Type = model.ParseAttributeType(string(rule.Type))
		c.byKey[rule.Key] = rule

		for source, names := range rule.Synonyms {
			source = normalizeSource(source)
			bucket, ok := c.bySource[source]
			if !ok {
				bucket = make(map[string]*AttributeRule)
				c.bySource[source] = bucket
			}
			for _, n := range names {
				bucket[strings.ToUpper(strings.TrimSpace(n))] = rule
			}
		}
	}

	c.excluded = upperSet(c.Exclusions)
	c.featured = upperSet(c.FeaturedValues)
	for i, m := range c.Mandatory {
		c.Mandatory[i] = strings.ToUpper(strings.TrimSpace(m))
	}

	c.taxonomyU = make(map[string]string, len(c.Taxonomy))
	for label, id := range c.Taxonomy {
		c.taxonomyU[strings.ToUpper(strings.TrimSpace(label))] = id
	}

	scores := make(map[string]Bounds, len(c.Scores))
	for name, b := range c.Scores {
		name = strings.ToUpper(strings.TrimSpace(name))
		if b.Max < b.Min {
			return eris.Errorf("vertical: score %s has max %g below min %g", name, b.Max, b.Min)
		}
		if _, dup := scores[name]; dup {
			return eris.Errorf("vertical: duplicate score %s", name)
		}
		scores[name] = b
	}
	c.Scores = scores
	for _, def := range c.Composites {
		if def.Name == "" || len(def.Components) == 0 {
			return eris.Errorf("vertical: composite %q needs a name and components", def.Name)
		}
	}
	for name, ds := range c.Datasources {
		if ds.Feed == nil {
			continue
		}
		if _, err := ds.Feed.ResolvedFormat(); err != nil {
			return eris.Wrapf(err, "vertical: datasource %s", name)
		}
	}
	return nil
}

func normalizeSource(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "*" {
		return AllSources
	}
	return s
}

func upperSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[strings.ToUpper(strings.TrimSpace(v))] = struct{}{}
	}
	return out
}

// Lookup resolves the rule for an attribute reported by source: exact key
// first, then the source's synonyms, then the synonyms shared by all sources.
func (c *Config) Lookup(source, name string) (*AttributeRule, bool) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if r, ok := c.byKey[n]; ok {
		return r, true
	}
	if bucket, ok := c.bySource[normalizeSource(source)]; ok {
		if r, ok := bucket[n]; ok {
			return r, true
		}
	}
	if r, ok := c.bySource[AllSources][n]; ok {
		return r, true
	}
	return nil, false
}

// Rule returns the rule with the given key.
func (c *Config) Rule(key string) (*AttributeRule, bool) {
	r, ok := c.byKey[strings.ToUpper(strings.TrimSpace(key))]
	return r, ok
}

// IsExcluded reports whether unmapped attribute name must be dropped.
func (c *Config) IsExcluded(name string) bool {
	_, ok := c.excluded[strings.ToUpper(strings.TrimSpace(name))]
	return ok
}

// IsFeaturedValue reports whether a raw value marks its attribute as a feature.
func (c *Config) IsFeaturedValue(value string) bool {
	_, ok := c.featured[strings.ToUpper(strings.TrimSpace(value))]
	return ok
}

// ScoreBounds returns the declared bounds of a score, if configured.
func (c *Config) ScoreBounds(name string) (Bounds, bool) {
	b, ok := c.Scores[name]
	return b, ok
}

// Datasource returns the settings of source. Unknown sources get the zero value.
func (c *Config) Datasource(source string) Datasource {
	if ds, ok := c.Datasources[source]; ok {
		return ds
	}
	return c.Datasources[strings.ToLower(strings.TrimSpace(source))]
}

// IsReferentiel reports whether source is an authoritative source.
func (c *Config) IsReferentiel(source string) bool {
	return c.Datasource(source).Referentiel
}

// TaxonomyFor maps a category label to a vertical id.
func (c *Config) TaxonomyFor(label string) (string, bool) {
	id, ok := c.taxonomyU[strings.ToUpper(strings.TrimSpace(label))]
	return id, ok
}

// MissingMandatory returns the mandatory attributes absent from present, sorted.
func (c *Config) MissingMandatory(present map[string]*model.AggregatedAttribute) []string {
	var missing []string
	for _, m := range c.Mandatory {
		if _, ok := present[m]; !ok {
			missing = append(missing, m)
		}
	}
	slices.Sort(missing)
	return missing
}
