package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-fusion/internal/fetcher"
	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/vertical"
)

const defaultXMLElement = "product"

// Stats counts what happened to the rows of one feed.
type Stats struct {
	Source       string `json:"source"`
	Rows         int    `json:"rows"`
	Filtered     int    `json:"filtered"`
	Observations int    `json:"observations"`
	Invalid      int    `json:"invalid"`
}

// Loader downloads datasource feeds and maps their rows to observations.
type Loader struct {
	router  *fetcher.Router
	workDir string
	now     func() time.Time
}

// NewLoader creates a loader. Archives and spreadsheets are staged under
// workDir, or the system temp dir when empty.
func NewLoader(router *fetcher.Router, workDir string) *Loader {
	return &Loader{router: router, workDir: workDir, now: time.Now}
}

// SetClock replaces the clock used to stamp rows without a timestamp.
func (l *Loader) SetClock(now func() time.Time) {
	l.now = now
}

// Load fetches the feed of source and returns its observations. Rows that
// fail to map are counted as invalid and logged; the observation is kept
// when it still carries a product id.
func (l *Loader) Load(ctx context.Context, source string, feed vertical.Feed) ([]model.Observation, Stats, error) {
	stats := Stats{Source: source}
	format, err := feed.ResolvedFormat()
	if err != nil {
		return nil, stats, err
	}

	staging, err := os.MkdirTemp(l.workDir, "feed-"+source+"-")
	if err != nil {
		return nil, stats, eris.Wrap(err, "ingest: create staging dir")
	}
	defer os.RemoveAll(staging) //nolint:errcheck

	rows, errCh, closer, err := l.open(ctx, feed, format, staging)
	if err != nil {
		return nil, stats, eris.Wrapf(err, "ingest: open feed %s", source)
	}
	if closer != nil {
		defer closer.Close() //nolint:errcheck
	}

	mapper := NewMapper(source, feed, l.now().UTC())
	var observations []model.Observation
	for row := range rows {
		stats.Rows++
		if mapper.Filtered(row) {
			stats.Filtered++
			continue
		}
		obs, err := mapper.Map(row)
		if err != nil {
			stats.Invalid++
			zap.L().Debug("ingest: invalid feed row", zap.String("source", source), zap.Error(err))
		}
		obs.Seq = int64(stats.Rows)
		observations = append(observations, obs)
	}
	if err := <-errCh; err != nil {
		return observations, stats, eris.Wrapf(err, "ingest: read feed %s", source)
	}
	stats.Observations = len(observations)

	zap.L().Info("ingest: loaded feed",
		zap.String("source", source),
		zap.String("format", format),
		zap.Int("rows", stats.Rows),
		zap.Int("filtered", stats.Filtered),
		zap.Int("invalid", stats.Invalid),
	)
	return observations, stats, nil
}

// LoadAll loads the feed of every datasource in names. A feed that fails is
// logged and skipped; the error is returned only when every feed failed.
func (l *Loader) LoadAll(ctx context.Context, vc *vertical.Config, names []string) ([]model.Observation, []Stats, error) {
	var (
		all     []model.Observation
		stats   []Stats
		lastErr error
	)
	for _, name := range names {
		ds, ok := vc.Datasources[name]
		if !ok || ds.Feed == nil {
			return nil, stats, eris.Errorf("ingest: datasource %q has no feed", name)
		}
		obs, st, err := l.Load(ctx, name, *ds.Feed)
		stats = append(stats, st)
		if err != nil {
			if ctx.Err() != nil {
				return nil, stats, ctx.Err()
			}
			lastErr = err
			zap.L().Warn("ingest: feed failed", zap.String("source", name), zap.Error(err))
			continue
		}
		all = append(all, obs...)
	}
	if len(all) == 0 && lastErr != nil {
		return nil, stats, lastErr
	}
	Renumber(all)
	return all, stats, nil
}

// open returns the row stream of feed. The returned closer, when non-nil,
// must be closed once the stream is drained.
func (l *Loader) open(ctx context.Context, feed vertical.Feed, format, staging string) (<-chan map[string]string, <-chan error, io.Closer, error) {
	// Zip archives and spreadsheets need random access, so they go to disk.
	if feed.Zipped || format == vertical.FormatXLSX {
		path, err := l.stage(ctx, feed, staging)
		if err != nil {
			return nil, nil, nil, err
		}
		if format == vertical.FormatXLSX {
			rows, errCh := fetcher.StreamXLSX(ctx, path, fetcher.XLSXOptions{SheetName: feed.Sheet})
			return rows, errCh, nil, nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, nil, eris.Wrap(err, "ingest: open extracted file")
		}
		rows, errCh, err := streamRows(ctx, f, feed, format)
		if err != nil {
			_ = f.Close()
			return nil, nil, nil, err
		}
		return rows, errCh, f, nil
	}

	body, err := l.router.Open(ctx, feed.URL)
	if err != nil {
		return nil, nil, nil, err
	}
	if feed.Gzip {
		body, err = fetcher.Gunzip(body)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	rows, errCh, err := streamRows(ctx, body, feed, format)
	if err != nil {
		_ = body.Close()
		return nil, nil, nil, err
	}
	return rows, errCh, body, nil
}

// stage copies the feed into dir and extracts it when zipped. Returns the
// path of the data file.
func (l *Loader) stage(ctx context.Context, feed vertical.Feed, dir string) (string, error) {
	var path string
	if fetcher.IsLocal(feed.URL) && !feed.Gzip {
		path = fetcher.LocalPath(feed.URL)
	} else {
		path = filepath.Join(dir, "download")
		body, err := l.router.Open(ctx, feed.URL)
		if err != nil {
			return "", err
		}
		if feed.Gzip {
			if body, err = fetcher.Gunzip(body); err != nil {
				return "", err
			}
		}
		err = writeFile(path, body)
		_ = body.Close()
		if err != nil {
			return "", err
		}
	}

	if !feed.Zipped {
		return path, nil
	}
	return fetcher.ExtractZIPSingle(path, filepath.Join(dir, "extracted"))
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "ingest: create staging file")
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "ingest: write staging file")
	}
	return f.Close()
}

func streamRows(ctx context.Context, r io.Reader, feed vertical.Feed, format string) (<-chan map[string]string, <-chan error, error) {
	switch format {
	case vertical.FormatCSV:
		delim, err := separator(feed.Separator)
		if err != nil {
			return nil, nil, err
		}
		rows, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
			Delimiter:  delim,
			LazyQuotes: true,
			TrimSpace:  true,
		})
		return rows, errCh, nil
	case vertical.FormatXML:
		element := feed.Element
		if element == "" {
			element = defaultXMLElement
		}
		fields, errCh := fetcher.StreamXML[fetcher.Fields](ctx, r, element)
		return fieldRows(fields), errCh, nil
	case vertical.FormatJSON:
		objs, errCh := fetcher.StreamJSON[map[string]any](ctx, r)
		return objectRows(objs), errCh, nil
	default:
		return nil, nil, eris.Errorf("ingest: format %q cannot be streamed", format)
	}
}

func separator(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "":
		return ',', nil
	case "tab", `\t`:
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) {
		return 0, eris.Errorf("ingest: separator %q must be a single character", s)
	}
	return r, nil
}

func fieldRows(in <-chan fetcher.Fields) <-chan map[string]string {
	out := make(chan map[string]string, cap(in))
	go func() {
		defer close(out)
		for f := range in {
			out <- map[string]string(f)
		}
	}()
	return out
}

func objectRows(in <-chan map[string]any) <-chan map[string]string {
	out := make(chan map[string]string, cap(in))
	go func() {
		defer close(out)
		for obj := range in {
			row := make(map[string]string, len(obj))
			for k, v := range obj {
				if s, ok := scalar(v); ok {
					row[k] = s
				}
			}
			out <- row
		}
	}()
	return out
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return "", false
	}
}
