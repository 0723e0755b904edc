//go:build !integration

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-fusion/internal/config"
)

const testVerticalYAML = `vertical:
  id: tv
  attributes:
    - key: COLOR
      type: TEXT
      synonyms:
        all: [COULEUR]
      parser: { case: lower, trim: true }
    - key: DIAGONAL
      type: NUMERIC
      parser: { trim: true }
  mandatory: [DIAGONAL]
  scores:
    REPAIRABILITY_INDEX: { min: 0, max: 10 }
  datasources:
    icecat: { referentiel: true }
    fnac:
      affiliated: true
      feed:
        url: FEED_PATH
        separator: ";"
        currency: EUR
        columns:
          product_id: [ean]
          price: [prix]
`

// setTestConfig points the global config at a fresh SQLite database.
func setTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "fusion.db")},
		Batch: config.BatchConfig{Workers: 2},
		Fusion: config.FusionConfig{
			CanonicalMax:      5,
			CompensationShare: 0.2,
			PriceValidityDays: 2,
			WorstLimit:        3,
			BestLimit:         3,
			VerticalPath:      filepath.Join(dir, "vertical.yaml"),
		},
		Retry: config.RetryConfig{MaxAttempts: 1, InitialBackoffMs: 1, MaxBackoffMs: 1, Multiplier: 1},
	}
	return dir
}

// writeTestVertical writes the test vertical whose fnac feed reads feedPath.
func writeTestVertical(t *testing.T, path, feedPath string) {
	t.Helper()
	content := []byte(strings.ReplaceAll(testVerticalYAML, "FEED_PATH", feedPath))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
