package etl

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/csvfile"
	"github.com/wxyc/discogs-cache/internal/db"
)

var yearRE = regexp.MustCompile(`^[0-9]{4}`)

// parseFunc converts a CSV field. ok is false when the row must be skipped.
type parseFunc func(string) (v any, ok bool)

func textField(s string) (any, bool) {
	if s == "" {
		return nil, true
	}
	return s, true
}

func bigint(s string) (any, bool) {
	if s == "" {
		return nil, true
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, false
	}
	return n, true
}

// intOrZero parses an integer, treating blanks and junk as 0.
func intOrZero(s string) (any, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, true
	}
	return n, true
}

// year extracts a leading four-digit year from a Discogs "released" value.
func year(s string) (any, bool) {
	m := yearRE.FindString(s)
	if m == "" {
		return nil, true
	}
	n, _ := strconv.Atoi(m)
	return n, true
}

// column maps one CSV field to one table column.
type column struct {
	csv      string
	db       string
	parse    parseFunc
	required bool
	// optional columns may be absent from the export header.
	optional bool
}

// exportTable describes how one export file loads into one table.
type exportTable struct {
	file   string
	table  string
	idCol  string
	cols   []column
	unique []string
}

func (t exportTable) dbColumns() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.db
	}
	return out
}

var (
	releaseExport = exportTable{
		file:  "release.csv",
		table: "release",
		idCol: "id",
		cols: []column{
			{csv: "id", db: "id", parse: bigint, required: true},
			{csv: "title", db: "title", parse: textField, required: true},
			{csv: "released", db: "release_year", parse: year, optional: true},
			{csv: "country", db: "country", parse: textField, optional: true},
			{csv: "master_id", db: "master_id", parse: bigint, optional: true},
		},
	}
	releaseArtistExport = exportTable{
		file:  "release_artist.csv",
		table: "release_artist",
		idCol: "release_id",
		cols: []column{
			{csv: "release_id", db: "release_id", parse: bigint, required: true},
			{csv: "position", db: "position", parse: intOrZero, optional: true},
			{csv: "artist_name", db: "artist_name", parse: textField, required: true},
			{csv: "extra", db: "extra", parse: intOrZero, optional: true},
		},
		unique: []string{"release_id", "artist_name"},
	}
	releaseLabelExport = exportTable{
		file:  "release_label.csv",
		table: "release_label",
		idCol: "release_id",
		cols: []column{
			{csv: "release_id", db: "release_id", parse: bigint, required: true},
			{csv: "label", db: "label_name", parse: textField, required: true},
		},
		unique: []string{"release_id", "label"},
	}
	releaseTrackExport = exportTable{
		file:  "release_track.csv",
		table: "release_track",
		idCol: "release_id",
		cols: []column{
			{csv: "release_id", db: "release_id", parse: bigint, required: true},
			{csv: "sequence", db: "sequence", parse: bigint, required: true},
			{csv: "position", db: "position", parse: textField, optional: true},
			{csv: "title", db: "title", parse: textField, required: true},
			{csv: "duration", db: "duration", parse: textField, optional: true},
		},
	}
	releaseTrackArtistExport = exportTable{
		file:  "release_track_artist.csv",
		table: "release_track_artist",
		idCol: "release_id",
		cols: []column{
			{csv: "release_id", db: "release_id", parse: bigint, required: true},
			{csv: "track_sequence", db: "track_sequence", parse: bigint, required: true},
			{csv: "artist_name", db: "artist_name", parse: textField, required: true},
		},
		unique: []string{"release_id", "track_sequence", "artist_name"},
	}
)

// csvSource adapts a CSV export to pgx.CopyFromSource, dropping rows that
// miss required fields, repeat a unique key, or belong to a release not in
// keep.
type csvSource struct {
	f    *csvfile.File
	tbl  exportTable
	keep func(id int64) bool
	// seenIDs, when set, collects every emitted release id.
	seenIDs map[int64]bool

	seen map[string]struct{}
	cur  []any
	err  error

	skipped, filtered, dupes int64
}

func newCSVSource(f *csvfile.File, tbl exportTable, keep func(int64) bool) *csvSource {
	s := &csvSource{f: f, tbl: tbl, keep: keep}
	if len(tbl.unique) > 0 {
		s.seen = make(map[string]struct{})
	}
	return s
}

func (s *csvSource) Next() bool {
	if s.err != nil {
		return false
	}
	for row := range s.f.Rows {
		vals, ok := s.convert(row)
		if !ok {
			continue
		}
		s.cur = vals
		return true
	}
	s.err = s.f.Err()
	return false
}

func (s *csvSource) convert(row []string) ([]any, bool) {
	h := s.f.Header
	id, err := strconv.ParseInt(strings.TrimSpace(h.Get(row, s.tbl.idCol)), 10, 64)
	if err != nil {
		s.skipped++
		return nil, false
	}
	if s.keep != nil && !s.keep(id) {
		s.filtered++
		return nil, false
	}

	vals := make([]any, len(s.tbl.cols))
	for i, c := range s.tbl.cols {
		v, ok := c.parse(h.Get(row, c.csv))
		if !ok || (c.required && v == nil) {
			s.skipped++
			return nil, false
		}
		vals[i] = v
	}

	if s.seen != nil {
		parts := make([]string, len(s.tbl.unique))
		for i, name := range s.tbl.unique {
			parts[i] = h.Get(row, name)
		}
		key := strings.Join(parts, "\x00")
		if _, dup := s.seen[key]; dup {
			s.dupes++
			return nil, false
		}
		s.seen[key] = struct{}{}
	}
	if s.seenIDs != nil {
		s.seenIDs[id] = true
	}
	return vals, true
}

func (s *csvSource) Values() ([]any, error) { return s.cur, nil }

func (s *csvSource) Err() error { return s.err }

var _ pgx.CopyFromSource = (*csvSource)(nil)

// copyExport loads one export file into its table. A missing optional
// export is skipped with a warning; seenIDs may be nil.
func copyExport(ctx context.Context, c db.Copier, dir string, tbl exportTable, keep func(int64) bool, seenIDs map[int64]bool) (int64, error) {
	log := zap.L().With(zap.String("table", tbl.table))
	path := filepath.Join(dir, tbl.file)

	f, err := csvfile.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	for _, col := range tbl.cols {
		if !col.optional && !f.Header.Has(col.csv) {
			return 0, errMissingColumn(path, col.csv)
		}
	}

	src := newCSVSource(f, tbl, keep)
	src.seenIDs = seenIDs
	n, err := db.CopySource(ctx, c, tbl.table, tbl.dbColumns(), src)
	if err != nil {
		return 0, err
	}
	if err := src.Err(); err != nil {
		return 0, err
	}
	log.Info("imported export",
		zap.String("file", tbl.file),
		zap.Int64("rows", n),
		zap.Int64("skipped", src.skipped),
		zap.Int64("filtered", src.filtered),
		zap.Int64("duplicates", src.dupes),
	)
	return n, nil
}
