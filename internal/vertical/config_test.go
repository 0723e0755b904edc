package vertical

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-fusion/internal/model"
)

const testVertical = `
vertical:
  id: tv
  attributes:
    - key: color
      type: text
      synonyms:
        all: [COULEUR]
        fnac: [Coloris]
    - key: DIAGONAL
      type: NUMERIC
      parser:
        delete_tokens: [pouces]
        trim: true
  exclusions: [sku]
  mandatory: [diagonal]
  featured_values: [oui, "yes"]
  scores:
    REPAIRABILITY_INDEX: { min: 0, max: 10 }
  composites:
    - name: ECO
      components:
        - { score: A, weight: 0.6 }
        - { score: B, weight: 0.4 }
  brands:
    LG ELECTRONICS: LG
  taxonomy:
    Televiseurs: tv
  datasources:
    icecat: { referentiel: true }
    fnac: { affiliated: true, compensation_percent: 4 }
`

func writeVertical(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vertical.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeVertical(t, testVertical))
	require.NoError(t, err)

	assert.Equal(t, "tv", cfg.ID)
	require.Len(t, cfg.Attributes, 2)
	assert.Equal(t, "COLOR", cfg.Attributes[0].Key)
	assert.Equal(t, model.AttributeText, cfg.Attributes[0].Type)
	assert.Equal(t, model.AttributeNumeric, cfg.Attributes[1].Type)
	assert.Equal(t, []string{"pouces"}, cfg.Attributes[1].Parser.DeleteTokens)
	assert.Equal(t, []string{"DIAGONAL"}, cfg.Mandatory)

	b, ok := cfg.ScoreBounds("REPAIRABILITY_INDEX")
	require.True(t, ok)
	assert.Equal(t, 10.0, b.Max)

	require.Len(t, cfg.Composites, 1)
	assert.Equal(t, 0.4, cfg.Composites[0].Components[1].Weight)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/vertical.yaml")
	assert.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeVertical(t, "vertical: [unclosed"))
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing key",
			yaml: "vertical:\n  attributes:\n    - type: TEXT\n",
		},
		{
			name: "duplicate key",
			yaml: "vertical:\n  attributes:\n    - key: A\n    - key: a\n",
		},
		{
			name: "inverted bounds",
			yaml: "vertical:\n  scores:\n    X: { min: 10, max: 0 }\n",
		},
		{
			name: "duplicate score",
			yaml: "vertical:\n  scores:\n    eco: { min: 0, max: 5 }\n    ECO: { min: 0, max: 5 }\n",
		},
		{
			name: "composite without components",
			yaml: "vertical:\n  composites:\n    - name: ECO\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLookup(t *testing.T) {
	cfg, err := Parse([]byte(testVertical))
	require.NoError(t, err)

	tests := []struct {
		source string
		name   string
		want   string
		found  bool
	}{
		{"any", "color", "COLOR", true},
		{"any", " Couleur ", "COLOR", true},
		{"fnac", "coloris", "COLOR", true},
		{"darty", "coloris", "", false},
		{"any", "weight", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.source+"/"+tt.name, func(t *testing.T) {
			rule, ok := cfg.Lookup(tt.source, tt.name)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, rule.Key)
			}
		})
	}
}

func TestLookups(t *testing.T) {
	cfg, err := Parse([]byte(testVertical))
	require.NoError(t, err)

	assert.True(t, cfg.IsExcluded("SKU"))
	assert.False(t, cfg.IsExcluded("COLOR"))
	assert.True(t, cfg.IsFeaturedValue(" Oui"))
	assert.False(t, cfg.IsFeaturedValue("non"))
	assert.True(t, cfg.IsReferentiel("icecat"))
	assert.False(t, cfg.IsReferentiel("fnac"))

	ds := cfg.Datasource("fnac")
	assert.True(t, ds.Affiliated)
	require.NotNil(t, ds.CompensationPercent)
	assert.Equal(t, 4.0, *ds.CompensationPercent)
	assert.Equal(t, Datasource{}, cfg.Datasource("unknown"))

	id, ok := cfg.TaxonomyFor("TELEVISEURS")
	assert.True(t, ok)
	assert.Equal(t, "tv", id)
}

func TestMissingMandatory(t *testing.T) {
	cfg, err := Parse([]byte(testVertical))
	require.NoError(t, err)

	assert.Equal(t, []string{"DIAGONAL"}, cfg.MissingMandatory(map[string]*model.AggregatedAttribute{}))
	assert.Empty(t, cfg.MissingMandatory(map[string]*model.AggregatedAttribute{
		"DIAGONAL": {Name: "DIAGONAL"},
	}))
}

func TestScoreBounds_CaseInsensitiveKeys(t *testing.T) {
	cfg, err := Parse([]byte("vertical:\n  scores:\n    repairability_index: { min: 0, max: 10 }\n    \" Energy_Class \": { min: 0, max: 5 }\n"))
	require.NoError(t, err)

	b, ok := cfg.ScoreBounds("REPAIRABILITY_INDEX")
	require.True(t, ok)
	assert.Equal(t, Bounds{Min: 0, Max: 10}, b)

	b, ok = cfg.ScoreBounds("ENERGY_CLASS")
	require.True(t, ok)
	assert.Equal(t, 5.0, b.Max)

	_, ok = cfg.ScoreBounds("repairability_index")
	assert.False(t, ok)
}

func TestExampleVerticalLoads(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "vertical.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Attributes)
	assert.NotEmpty(t, cfg.Composites)
}

func TestExampleVerticalFeeds(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "vertical.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"darty", "fnac"}, cfg.Feeds())

	format, err := cfg.Datasources["darty"].Feed.ResolvedFormat()
	require.NoError(t, err)
	assert.Equal(t, FormatXML, format)
}
