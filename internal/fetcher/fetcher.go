// Package fetcher opens datasource feeds over HTTP, FTP or the local
// filesystem and streams their rows as CSV, XLSX, XML or JSON.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/product-fusion/internal/config"
	"github.com/sells-group/product-fusion/internal/resilience"
)

// Fetcher downloads a remote resource.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Router dispatches a feed location to the fetcher of its scheme.
// Locations without a scheme, or with file://, are local paths.
type Router struct {
	HTTP Fetcher
	FTP  Fetcher
}

// NewRouter builds HTTP and FTP fetchers from cfg.
func NewRouter(cfg config.FetchConfig) *Router {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	return &Router{
		HTTP: NewHTTPFetcher(HTTPOptions{
			UserAgent:  cfg.UserAgent,
			Timeout:    timeout,
			MaxRetries: cfg.MaxRetries,
			HostRate:   rate.Limit(cfg.HostRate),
			HostBurst:  cfg.HostBurst,
			Breaker: resilience.BreakerConfig{
				Threshold: cfg.BreakerThreshold,
				Cooldown:  time.Duration(cfg.BreakerCooldownSecs) * time.Second,
			},
		}),
		FTP: NewFTPFetcher(FTPOptions{Timeout: timeout}),
	}
}

// Open returns a reader over the resource at location.
func (r *Router) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	scheme, path := splitScheme(location)
	switch scheme {
	case "http", "https":
		if r.HTTP == nil {
			return nil, eris.Errorf("fetcher: no http fetcher for %s", location)
		}
		return r.HTTP.Download(ctx, location)
	case "ftp":
		if r.FTP == nil {
			return nil, eris.Errorf("fetcher: no ftp fetcher for %s", location)
		}
		return r.FTP.Download(ctx, location)
	case "", "file":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", path)
		}
		return f, nil
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", scheme)
	}
}

// DownloadToFile copies the resource at location to path. Returns bytes
// written.
func (r *Router) DownloadToFile(ctx context.Context, location, path string) (int64, error) {
	body, err := r.Open(ctx, location)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "fetcher: write file")
	}
	return n, nil
}

// IsLocal reports whether location names a local file.
func IsLocal(location string) bool {
	scheme, _ := splitScheme(location)
	return scheme == "" || scheme == "file"
}

// LocalPath returns the filesystem path of a local location.
func LocalPath(location string) string {
	_, path := splitScheme(location)
	return path
}

func splitScheme(location string) (string, string) {
	i := strings.Index(location, "://")
	if i <= 0 {
		return "", location
	}
	scheme := strings.ToLower(location[:i])
	if scheme == "file" {
		if u, err := url.Parse(location); err == nil {
			return scheme, u.Path
		}
		return scheme, location[i+3:]
	}
	return scheme, location
}
