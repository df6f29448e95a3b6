// Package csvfile streams Discogs CSV exports with header-based column lookup.
package csvfile

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Header is a header row with name lookup. The first of duplicate names
// wins.
type Header struct {
	Names []string
	index map[string]int
}

// NewHeader indexes a header row.
func NewHeader(row []string) Header {
	h := Header{Names: make([]string, len(row)), index: make(map[string]int, len(row))}
	for i, name := range row {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		h.Names[i] = name
		if _, dup := h.index[name]; !dup {
			h.index[name] = i
		}
	}
	return h
}

// Has reports whether every named column is present.
func (h Header) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := h.index[n]; !ok {
			return false
		}
	}
	return true
}

// Get returns the named field of row, or "" when absent.
func (h Header) Get(row []string, name string) string {
	i, ok := h.index[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// Stream reads a CSV document and sends data rows on the returned channel.
// The header row is consumed first and returned directly. Invalid UTF-8 is
// replaced so rows can always be written to Postgres. Both channels close
// when reading stops; the caller must drain the row channel.
func Stream(ctx context.Context, r io.Reader) (Header, <-chan []string, <-chan error, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	first, err := reader.Read()
	if err == io.EOF {
		return Header{}, nil, nil, eris.New("csv: empty file, no header")
	}
	if err != nil {
		return Header{}, nil, nil, eris.Wrap(err, "csv: read header")
	}
	header := NewHeader(first)

	rowCh := make(chan []string, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

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
			for i, field := range record {
				record[i] = strings.ToValidUTF8(field, "\uFFFD")
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return header, rowCh, errCh, nil
}

// File is an open CSV export being streamed.
type File struct {
	Path   string
	Header Header
	Rows   <-chan []string

	f      *os.File
	errs   <-chan error
	cancel context.CancelFunc
}

// Open starts streaming the CSV file at path.
func Open(ctx context.Context, path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: open %s", path)
	}
	ctx, cancel := context.WithCancel(ctx)
	header, rows, errs, err := Stream(ctx, f)
	if err != nil {
		cancel()
		f.Close()
		return nil, eris.Wrapf(err, "csv: %s", path)
	}
	return &File{Path: path, Header: header, Rows: rows, f: f, errs: errs, cancel: cancel}, nil
}

// Err returns the first read error once Rows is drained.
func (c *File) Err() error {
	if c.errs == nil {
		return nil
	}
	for err := range c.errs {
		if err != nil {
			return eris.Wrapf(err, "csv: %s", c.Path)
		}
	}
	return nil
}

// Close stops reading and releases the file. Remaining rows are discarded.
func (c *File) Close() error {
	c.cancel()
	for range c.Rows {
	}
	return c.f.Close()
}

// Exists reports whether path names a regular file.
func Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
