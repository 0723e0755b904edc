package fetcher

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"unicode"

	"github.com/rotisserie/eris"
)

// StreamJSON decodes a JSON array ([{...},{...}]) or a stream of JSON values
// (JSON Lines) into T, sending each element to a channel. Both channels are
// closed when processing completes.
func StreamJSON[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		br := bufio.NewReader(r)
		first, err := peekNonSpace(br)
		if err == io.EOF {
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "json: read input")
			return
		}

		decoder := json.NewDecoder(br)
		array := first == '['
		if array {
			if _, err := decoder.Token(); err != nil {
				errCh <- eris.Wrap(err, "json: read opening token")
				return
			}
		}

		for index := 0; ; index++ {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
			if array && !decoder.More() {
				break
			}

			var item T
			if err := decoder.Decode(&item); err != nil {
				if err == io.EOF && !array {
					return
				}
				errCh <- eris.Wrapf(err, "json: decode element %d at offset %d", index, decoder.InputOffset())
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		// Consume closing bracket
		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}

func peekNonSpace(br *bufio.Reader) (rune, error) {
	for {
		r, _, err := br.ReadRune()
		if err != nil {
			return 0, err
		}
		if r == '\ufeff' || unicode.IsSpace(r) {
			continue
		}
		return r, br.UnreadRune()
	}
}
