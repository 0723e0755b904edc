package fetcher

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeTestFile is a helper that writes data to a file path.
func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// drain reads every value of out, then the first error of errCh.
func drain[T any](out <-chan T, errCh <-chan error) ([]T, error) {
	var items []T
	for item := range out {
		items = append(items, item)
	}
	return items, <-errCh
}
