package catalog

import (
	"context"
	"database/sql"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/wxyc/discogs-cache/internal/model"
)

// LoadSQLite reads the station library from library.db. The library table
// (id, artist, title) is required; library_alias (library_id, alias) and
// library_track (library_id, artist, title) are read when present. Rows
// with a blank artist or title are skipped.
func LoadSQLite(ctx context.Context, path string) ([]model.CatalogEntry, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(ErrCatalogUnavailable, "catalog: stat %s: %v", path, err)
	}

	conn, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, eris.Wrapf(ErrCatalogUnavailable, "catalog: open %s: %v", path, err)
	}
	defer conn.Close()

	log := zap.L().With(zap.String("component", "catalog"), zap.String("path", path))

	entries, byID, skipped, err := loadLibrary(ctx, conn)
	if err != nil {
		return nil, err
	}

	if ok, err := hasTable(ctx, conn, "library_alias"); err != nil {
		return nil, err
	} else if ok {
		if err := loadAliases(ctx, conn, entries, byID); err != nil {
			return nil, err
		}
	}

	if ok, err := hasTable(ctx, conn, "library_track"); err != nil {
		return nil, err
	} else if ok {
		if err := loadTracks(ctx, conn, entries, byID); err != nil {
			return nil, err
		}
	}

	log.Info("library catalog loaded",
		zap.Int("entries", len(entries)),
		zap.Int("skipped", skipped),
	)
	return entries, nil
}

func loadLibrary(ctx context.Context, conn *sql.DB) ([]model.CatalogEntry, map[int64]int, int, error) {
	rows, err := conn.QueryContext(ctx, "SELECT id, artist, title FROM library ORDER BY id")
	if err != nil {
		return nil, nil, 0, eris.Wrapf(ErrCatalogUnavailable, "catalog: query library: %v", err)
	}
	defer rows.Close()

	var entries []model.CatalogEntry
	byID := make(map[int64]int)
	skipped := 0
	for rows.Next() {
		var (
			id            int64
			artist, title sql.NullString
		)
		if err := rows.Scan(&id, &artist, &title); err != nil {
			return nil, nil, 0, eris.Wrapf(ErrCatalogUnavailable, "catalog: scan library row: %v", err)
		}
		if strings.TrimSpace(artist.String) == "" || strings.TrimSpace(title.String) == "" {
			skipped++
			continue
		}
		byID[id] = len(entries)
		entries = append(entries, model.CatalogEntry{ID: id, Name: artist.String, Title: title.String})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, 0, eris.Wrapf(ErrCatalogUnavailable, "catalog: read library: %v", err)
	}
	return entries, byID, skipped, nil
}

func loadAliases(ctx context.Context, conn *sql.DB, entries []model.CatalogEntry, byID map[int64]int) error {
	rows, err := conn.QueryContext(ctx, "SELECT library_id, alias FROM library_alias ORDER BY library_id, alias")
	if err != nil {
		return eris.Wrapf(ErrCatalogUnavailable, "catalog: query aliases: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    int64
			alias sql.NullString
		)
		if err := rows.Scan(&id, &alias); err != nil {
			return eris.Wrapf(ErrCatalogUnavailable, "catalog: scan alias: %v", err)
		}
		if i, ok := byID[id]; ok && alias.String != "" {
			entries[i].Aliases = append(entries[i].Aliases, alias.String)
		}
	}
	return rows.Err()
}

func loadTracks(ctx context.Context, conn *sql.DB, entries []model.CatalogEntry, byID map[int64]int) error {
	rows, err := conn.QueryContext(ctx, "SELECT library_id, artist, title FROM library_track ORDER BY library_id, rowid")
	if err != nil {
		return eris.Wrapf(ErrCatalogUnavailable, "catalog: query tracks: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id            int64
			artist, title sql.NullString
		)
		if err := rows.Scan(&id, &artist, &title); err != nil {
			return eris.Wrapf(ErrCatalogUnavailable, "catalog: scan track: %v", err)
		}
		if i, ok := byID[id]; ok {
			entries[i].Tracks = append(entries[i].Tracks, model.TrackCredit{Name: artist.String, Title: title.String})
		}
	}
	return rows.Err()
}

func hasTable(ctx context.Context, conn *sql.DB, name string) (bool, error) {
	var n int
	err := conn.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(ErrCatalogUnavailable, "catalog: inspect %s: %v", name, err)
	}
	return n > 0, nil
}

// Load reads the library and builds its index.
func Load(ctx context.Context, path string, opts Options) (*Index, error) {
	entries, err := LoadSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, eris.Wrapf(ErrCatalogUnavailable, "catalog: %s holds no usable entries", path)
	}
	return Build(entries, opts)
}
