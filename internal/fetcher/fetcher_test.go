package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-fusion/internal/config"
)

func TestRouter_OpenLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.csv")
	writeTestFile(t, path, "a,b\n1,2\n")

	r := NewRouter(config.FetchConfig{})
	for _, loc := range []string{path, "file://" + path} {
		rc, err := r.Open(context.Background(), loc)
		require.NoError(t, err, loc)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, "a,b\n1,2\n", string(data))
	}
}

func TestRouter_OpenHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	r := NewRouter(config.FetchConfig{UserAgent: "test-agent", TimeoutSecs: 5})
	rc, err := r.Open(context.Background(), srv.URL+"/feed.json")
	require.NoError(t, err)
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(data))
}

func TestRouter_Errors(t *testing.T) {
	r := &Router{}

	_, err := r.Open(context.Background(), "gopher://example.com/feed")
	assert.ErrorContains(t, err, "unsupported scheme")

	_, err = r.Open(context.Background(), "https://example.com/feed")
	assert.ErrorContains(t, err, "no http fetcher")

	_, err = r.Open(context.Background(), "ftp://example.com/feed")
	assert.ErrorContains(t, err, "no ftp fetcher")

	_, err = r.Open(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestRouter_DownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("file content here"))
	}))
	defer srv.Close()

	r := &Router{HTTP: NewHTTPFetcher(HTTPOptions{Timeout: 5 * time.Second})}
	path := filepath.Join(t.TempDir(), "out.txt")

	n, err := r.DownloadToFile(context.Background(), srv.URL+"/file", path)
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file content here", string(data))
}

func TestIsLocal(t *testing.T) {
	tests := []struct {
		location string
		local    bool
		path     string
	}{
		{"feeds/offers.csv", true, "feeds/offers.csv"},
		{"/tmp/offers.csv", true, "/tmp/offers.csv"},
		{"file:///tmp/offers.csv", true, "/tmp/offers.csv"},
		{"https://example.com/offers.csv", false, "https://example.com/offers.csv"},
		{"FTP://example.com/offers.csv", false, "FTP://example.com/offers.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			assert.Equal(t, tt.local, IsLocal(tt.location))
			assert.Equal(t, tt.path, LocalPath(tt.location))
		})
	}
}
