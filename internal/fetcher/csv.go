package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV reads a CSV feed with a header row and sends each data row as a
// column → value map. A leading UTF-8 byte order mark is dropped and header
// names are trimmed. Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan map[string]string, <-chan error) {
	rowCh := make(chan map[string]string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow variable fields

		var header []string
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if header == nil {
				header = HeaderNames(record)
				continue
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			select {
			case rowCh <- RowMap(header, record):
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// HeaderNames trims header cells and drops a UTF-8 byte order mark.
func HeaderNames(record []string) []string {
	header := make([]string, len(record))
	for i, h := range record {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		header[i] = strings.TrimSpace(h)
	}
	return header
}

// RowMap pairs header names with row cells. Missing cells are empty; extra
// cells and unnamed columns are dropped.
func RowMap(header, record []string) map[string]string {
	row := make(map[string]string, len(header))
	for i, name := range header {
		if name == "" {
			continue
		}
		if i < len(record) {
			row[name] = record[i]
		} else {
			row[name] = ""
		}
	}
	return row
}
