package etl

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/csvfile"
	"github.com/wxyc/discogs-cache/internal/db"
	"github.com/wxyc/discogs-cache/internal/schema"
)

// CacheSource tags rows loaded from the bulk export in cache_metadata.
const CacheSource = "bulk_import"

func errMissingColumn(path, col string) error {
	return eris.Errorf("import: %s has no %s column", path, col)
}

// importCSV loads releases, artists, labels and artwork, and precomputes
// track counts for dedup. Tracks themselves wait until after dedup.
type importCSV struct {
	deps
}

func (s *importCSV) Name() string { return StepImportCSV }

func (s *importCSV) Run(ctx context.Context, env *Env) (*Result, error) {
	return ImportBase(ctx, env.Pool, env.Config.Pipeline.CSVDir)
}

// ImportBase replaces the contents of every release table with the base
// exports in dir, in one transaction. Re-running converges.
func ImportBase(ctx context.Context, pool db.Pool, dir string) (*Result, error) {
	if !csvfile.Exists(filepath.Join(dir, releaseExport.file)) {
		return nil, eris.Errorf("import: %s not found in %s", releaseExport.file, dir)
	}

	var total int64
	meta := map[string]any{}
	err := db.InTx(ctx, pool, func(tx pgx.Tx) error {
		if err := truncate(ctx, tx, schema.Tables...); err != nil {
			return err
		}
		// The count table is transient and may already be gone.
		if err := schema.EnsureStaging(ctx, tx); err != nil {
			return err
		}
		if err := truncate(ctx, tx, schema.TrackCountTable); err != nil {
			return err
		}

		ids := make(map[int64]bool)
		n, err := copyExport(ctx, tx, dir, releaseExport, nil, ids)
		if err != nil {
			return err
		}
		total += n
		meta["releases"] = n
		known := func(id int64) bool { return ids[id] }

		for _, tbl := range []exportTable{releaseArtistExport, releaseLabelExport} {
			if !csvfile.Exists(filepath.Join(dir, tbl.file)) {
				zap.L().Warn("export missing, skipping", zap.String("file", tbl.file))
				continue
			}
			n, err := copyExport(ctx, tx, dir, tbl, known, nil)
			if err != nil {
				return err
			}
			total += n
		}

		art, err := importArtwork(ctx, tx, dir, known)
		if err != nil {
			return err
		}
		meta["artwork"] = art

		if _, err := tx.Exec(ctx,
			`INSERT INTO cache_metadata (release_id, source)
			 SELECT id, $1 FROM release
			 ON CONFLICT (release_id) DO NOTHING`, CacheSource,
		); err != nil {
			return db.Storage("populate cache_metadata", err)
		}

		counted, err := importTrackCounts(ctx, tx, dir, known)
		if err != nil {
			return err
		}
		meta["track_counts"] = counted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Rows: total, Metadata: meta}, nil
}

// importArtwork sets release.artwork_url from release_image.csv, preferring
// the primary image and falling back to the first one listed.
func importArtwork(ctx context.Context, tx pgx.Tx, dir string, known func(int64) bool) (int64, error) {
	path := filepath.Join(dir, "release_image.csv")
	if !csvfile.Exists(path) {
		zap.L().Warn("export missing, skipping", zap.String("file", "release_image.csv"))
		return 0, nil
	}
	f, err := csvfile.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	primary := make(map[int64]string)
	fallback := make(map[int64]string)
	for row := range f.Rows {
		id, err := strconv.ParseInt(f.Header.Get(row, "release_id"), 10, 64)
		if err != nil || !known(id) {
			continue
		}
		uri := f.Header.Get(row, "uri")
		if uri == "" {
			continue
		}
		if f.Header.Get(row, "type") == "primary" {
			if _, ok := primary[id]; !ok {
				primary[id] = uri
			}
		} else if _, ok := fallback[id]; !ok {
			fallback[id] = uri
		}
	}
	if err := f.Err(); err != nil {
		return 0, err
	}
	for id, uri := range fallback {
		if _, ok := primary[id]; !ok {
			primary[id] = uri
		}
	}
	if len(primary) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(primary))
	for id, uri := range primary {
		rows = append(rows, []any{id, uri})
	}
	if _, err := tx.Exec(ctx,
		`CREATE TEMP TABLE _artwork (release_id BIGINT PRIMARY KEY, artwork_url TEXT NOT NULL) ON COMMIT DROP`,
	); err != nil {
		return 0, db.Storage("create artwork staging", err)
	}
	if _, err := db.CopyFrom(ctx, tx, "_artwork", []string{"release_id", "artwork_url"}, rows); err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE release r SET artwork_url = a.artwork_url FROM _artwork a WHERE r.id = a.release_id`,
	)
	if err != nil {
		return 0, db.Storage("apply artwork", err)
	}
	return tag.RowsAffected(), nil
}

// importTrackCounts fills the transient count table from release_track.csv
// so dedup can rank releases before tracks are loaded.
func importTrackCounts(ctx context.Context, tx pgx.Tx, dir string, known func(int64) bool) (int64, error) {
	path := filepath.Join(dir, releaseTrackExport.file)
	if !csvfile.Exists(path) {
		zap.L().Warn("export missing, dedup will count imported tracks", zap.String("file", releaseTrackExport.file))
		return 0, nil
	}
	f, err := csvfile.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	counts := make(map[int64]int)
	for row := range f.Rows {
		id, err := strconv.ParseInt(f.Header.Get(row, "release_id"), 10, 64)
		if err != nil || !known(id) {
			continue
		}
		counts[id]++
	}
	if err := f.Err(); err != nil {
		return 0, err
	}

	rows := make([][]any, 0, len(counts))
	for id, n := range counts {
		rows = append(rows, []any{id, n})
	}
	return db.CopyFrom(ctx, tx, schema.TrackCountTable, []string{"release_id", "track_count"}, rows)
}

// importTracks loads tracks and track credits for releases that survived
// dedup.
type importTracks struct {
	deps
}

func (s *importTracks) Name() string { return StepImportTracks }

func (s *importTracks) Run(ctx context.Context, env *Env) (*Result, error) {
	return ImportTracks(ctx, env.Pool, env.Config.Pipeline.CSVDir)
}

// ImportTracks replaces both track tables with the rows of surviving
// releases, in one transaction.
func ImportTracks(ctx context.Context, pool db.Pool, dir string) (*Result, error) {
	var total int64
	err := db.InTx(ctx, pool, func(tx pgx.Tx) error {
		if err := truncate(ctx, tx, releaseTrackExport.table, releaseTrackArtistExport.table); err != nil {
			return err
		}
		ids, err := releaseIDs(ctx, tx)
		if err != nil {
			return err
		}
		zap.L().Info("filtering tracks to surviving releases", zap.Int("releases", len(ids)))
		known := func(id int64) bool { return ids[id] }

		for _, tbl := range []exportTable{releaseTrackExport, releaseTrackArtistExport} {
			if !csvfile.Exists(filepath.Join(dir, tbl.file)) {
				zap.L().Warn("export missing, skipping", zap.String("file", tbl.file))
				continue
			}
			n, err := copyExport(ctx, tx, dir, tbl, known, nil)
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Rows: total}, nil
}

func releaseIDs(ctx context.Context, tx pgx.Tx) (map[int64]bool, error) {
	rows, err := tx.Query(ctx, `SELECT id FROM release`)
	if err != nil {
		return nil, db.Storage("list release ids", err)
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, db.Storage("scan release id", err)
		}
		ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, db.Storage("list release ids", err)
	}
	return ids, nil
}

func truncate(ctx context.Context, tx pgx.Tx, tables ...string) error {
	if _, err := tx.Exec(ctx, "TRUNCATE "+tableList(tables)); err != nil {
		return db.Storage("truncate", err)
	}
	return nil
}
