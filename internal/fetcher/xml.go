package fetcher

import (
	"context"
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// StreamXML decodes every element named elementName (matched on its local
// name, case-insensitively) into T and sends it to a channel. Non UTF-8
// documents are transcoded from their declared charset. Both channels are
// closed when processing completes.
func StreamXML[T any](ctx context.Context, r io.Reader, elementName string) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := xml.NewDecoder(r)
		decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
			enc, err := htmlindex.Get(charset)
			if err != nil {
				return nil, eris.Wrapf(err, "xml: unsupported charset %q", charset)
			}
			return enc.NewDecoder().Reader(input), nil
		}

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "xml: context cancelled")
				return
			}

			tok, err := decoder.Token()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "xml: read token")
				return
			}

			se, ok := tok.(xml.StartElement)
			if !ok || !strings.EqualFold(se.Name.Local, elementName) {
				continue
			}

			var item T
			if err := decoder.DecodeElement(&item, &se); err != nil {
				errCh <- eris.Wrap(err, "xml: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "xml: context cancelled")
				return
			}
		}
	}()

	return outCh, errCh
}

// Fields flattens an XML element into a name → text map: attributes of the
// element and the text of every leaf descendant, keyed by local name.
// Repeated names keep the first non-empty value.
type Fields map[string]string

// UnmarshalXML implements xml.Unmarshaler.
func (f *Fields) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	if *f == nil {
		*f = make(Fields)
	}
	for _, a := range start.Attr {
		f.set(a.Name.Local, a.Value)
	}

	var stack []string
	var text strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return eris.Wrap(err, "xml: read fields")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			text.Reset()
			for _, a := range t.Attr {
				f.set(t.Name.Local+"@"+a.Name.Local, a.Value)
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil
			}
			name := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			f.set(name, strings.TrimSpace(text.String()))
			text.Reset()
		}
	}
}

func (f Fields) set(name, value string) {
	if value == "" {
		return
	}
	if existing, ok := f[name]; ok && existing != "" {
		return
	}
	f[name] = value
}
