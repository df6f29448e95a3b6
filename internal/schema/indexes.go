package schema

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/db"
)

// IndexSet names one of the post-load index scripts.
type IndexSet string

const (
	// BaseIndexes covers release, release_artist, release_label, cache_metadata.
	BaseIndexes IndexSet = "base"
	// TrackIndexes covers release_track and release_track_artist.
	TrackIndexes IndexSet = "track"
)

// markers are the trigram indexes whose presence proves a set was built.
var markers = map[IndexSet][]string{
	BaseIndexes:  {"idx_release_artist_name_trgm", "idx_release_title_trgm"},
	TrackIndexes: {"idx_release_track_title_trgm", "idx_release_track_artist_name_trgm"},
}

// Markers returns the index names that identify a built set.
func (s IndexSet) Markers() []string {
	return append([]string(nil), markers[s]...)
}

// CreateIndexes builds an index set. Every statement is IF NOT EXISTS or
// guarded, so re-running after a partial build converges.
func CreateIndexes(ctx context.Context, pool db.Pool, set IndexSet) error {
	if _, ok := markers[set]; !ok {
		return eris.Errorf("schema: unknown index set %q", set)
	}
	data, err := sqlFS.ReadFile("sql/indexes/" + string(set) + ".sql")
	if err != nil {
		return eris.Wrapf(err, "schema: read index set %s", set)
	}

	zap.L().Info("creating indexes", zap.String("component", "schema"), zap.String("set", string(set)))
	if _, err := pool.Exec(ctx, string(data)); err != nil {
		return db.Storage("create "+string(set)+" indexes", err)
	}
	return nil
}

// IndexesBuilt reports whether every marker index of the set exists.
func IndexesBuilt(ctx context.Context, pool db.Pool, set IndexSet) (bool, error) {
	return db.IndexesExist(ctx, pool, markers[set]...)
}
