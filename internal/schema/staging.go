package schema

import (
	"context"

	"github.com/wxyc/discogs-cache/internal/db"
)

// TrackCountTable holds per-release track counts computed from the CSV
// export so dedup can rank releases before tracks are imported.
const TrackCountTable = "release_track_count"

// GroupingColumn is the transient master-release key on release.
const GroupingColumn = "master_id"

// EnsureStaging (re)creates the transient objects an import needs. Dedup
// drops both once groups are collapsed.
func EnsureStaging(ctx context.Context, pool db.Pool) error {
	sql := `
		ALTER TABLE release ADD COLUMN IF NOT EXISTS master_id BIGINT;
		CREATE UNLOGGED TABLE IF NOT EXISTS release_track_count (
			release_id  BIGINT PRIMARY KEY,
			track_count INTEGER NOT NULL
		);
	`
	if _, err := pool.Exec(ctx, sql); err != nil {
		return db.Storage("ensure staging objects", err)
	}
	return nil
}

// DropStaging removes the grouping column and the track count table.
func DropStaging(ctx context.Context, pool db.Pool) error {
	sql := `
		ALTER TABLE release DROP COLUMN IF EXISTS master_id;
		DROP TABLE IF EXISTS release_track_count;
	`
	if _, err := pool.Exec(ctx, sql); err != nil {
		return db.Storage("drop staging objects", err)
	}
	return nil
}
