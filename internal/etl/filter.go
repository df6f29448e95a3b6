package etl

import (
	"bufio"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/catalog"
	"github.com/wxyc/discogs-cache/internal/csvfile"
)

// releaseFiles are the exports narrowed to matching releases. release.csv
// keys on id; the rest on release_id.
var releaseFiles = []string{
	"release.csv",
	"release_artist.csv",
	"release_label.csv",
	"release_track.csv",
	"release_track_artist.csv",
	"release_image.csv",
}

// filterCSV keeps only releases credited to a library artist.
type filterCSV struct {
	deps
}

func (s *filterCSV) Name() string { return StepFilterCSV }

func (s *filterCSV) Run(ctx context.Context, env *Env) (*Result, error) {
	p := env.Config.Pipeline
	return FilterExports(ctx, p.LibraryArtists, RawDir(p.CSVDir), p.CSVDir)
}

// FilterExports copies the release exports in src to dst, keeping only
// rows whose release has at least one artist named in the artists file.
func FilterExports(ctx context.Context, artistsPath, src, dst string) (*Result, error) {
	log := zap.L().With(zap.String("step", StepFilterCSV))

	artists, err := LoadArtistNames(artistsPath)
	if err != nil {
		return nil, err
	}
	log.Info("loaded library artists", zap.Int("artists", len(artists)))

	ids, err := matchingReleases(ctx, filepath.Join(src, "release_artist.csv"), artists)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, eris.New("filter: no release matched a library artist, check the artists file")
	}
	log.Info("found matching releases", zap.Int("releases", len(ids)))

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, eris.Wrapf(err, "filter: mkdir %s", dst)
	}

	var kept int64
	for _, name := range releaseFiles {
		in := filepath.Join(src, name)
		if !csvfile.Exists(in) {
			log.Warn("export missing, skipping", zap.String("file", name))
			continue
		}
		idCol := "release_id"
		if name == "release.csv" {
			idCol = "id"
		}
		read, wrote, err := filterFile(ctx, in, filepath.Join(dst, name), idCol, ids)
		if err != nil {
			return nil, err
		}
		kept += wrote
		log.Info("filtered export",
			zap.String("file", name),
			zap.Int64("read", read),
			zap.Int64("kept", wrote),
		)
	}
	return &Result{Rows: kept, Metadata: map[string]any{"releases": len(ids)}}, nil
}

// NormalizeArtist folds case and strips diacritics so "Björk" matches
// "Bjork".
func NormalizeArtist(name string) string {
	return strings.TrimSpace(strings.ToLower(catalog.StripAccents(name)))
}

// LoadArtistNames reads one artist per line into a normalized set.
func LoadArtistNames(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "filter: open artists %s", path)
	}
	defer f.Close()

	out := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if n := NormalizeArtist(scanner.Text()); n != "" {
			out[n] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "filter: read artists %s", path)
	}
	return out, nil
}

func matchingReleases(ctx context.Context, path string, artists map[string]bool) (map[int64]bool, error) {
	f, err := csvfile.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if !f.Header.Has("release_id", "artist_name") {
		return nil, eris.Errorf("filter: %s lacks release_id or artist_name", path)
	}

	ids := make(map[int64]bool)
	for row := range f.Rows {
		if !artists[NormalizeArtist(f.Header.Get(row, "artist_name"))] {
			continue
		}
		if id, err := strconv.ParseInt(f.Header.Get(row, "release_id"), 10, 64); err == nil {
			ids[id] = true
		}
	}
	return ids, f.Err()
}

func filterFile(ctx context.Context, in, out, idCol string, ids map[int64]bool) (read, wrote int64, err error) {
	f, err := csvfile.Open(ctx, in)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	if !f.Header.Has(idCol) {
		return 0, 0, eris.Errorf("filter: %s lacks %s", in, idCol)
	}

	tmp := out + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "filter: create %s", tmp)
	}
	defer os.Remove(tmp)

	w := csv.NewWriter(dst)
	if err := w.Write(f.Header.Names); err != nil {
		dst.Close()
		return 0, 0, eris.Wrapf(err, "filter: write %s", tmp)
	}
	for row := range f.Rows {
		read++
		id, perr := strconv.ParseInt(f.Header.Get(row, idCol), 10, 64)
		if perr != nil || !ids[id] {
			continue
		}
		if err := w.Write(row); err != nil {
			dst.Close()
			return read, wrote, eris.Wrapf(err, "filter: write %s", tmp)
		}
		wrote++
	}
	if err := f.Err(); err != nil {
		dst.Close()
		return read, wrote, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		dst.Close()
		return read, wrote, eris.Wrapf(err, "filter: flush %s", tmp)
	}
	if err := dst.Close(); err != nil {
		return read, wrote, eris.Wrapf(err, "filter: close %s", tmp)
	}
	if err := os.Rename(tmp, out); err != nil {
		return read, wrote, eris.Wrapf(err, "filter: rename %s", tmp)
	}
	return read, wrote, nil
}
