package match

import (
	"context"

	"github.com/wxyc/discogs-cache/internal/db"
	"github.com/wxyc/discogs-cache/internal/model"
)

// Source pages candidate releases out of the primary store.
type Source interface {
	// NextIDs returns up to limit release ids greater than after, ascending.
	NextIDs(ctx context.Context, after int64, limit int) ([]int64, error)
	// Load returns the releases for ids with their credits and tracks.
	// Ids that no longer exist are omitted.
	Load(ctx context.Context, ids []int64) ([]model.CandidateRecord, error)
}

// PgSource reads releases from Postgres.
type PgSource struct {
	pool db.Pool
}

// NewPgSource creates a PgSource.
func NewPgSource(pool db.Pool) *PgSource {
	return &PgSource{pool: pool}
}

// NextIDs implements Source using keyset pagination on release.id.
func (s *PgSource) NextIDs(ctx context.Context, after int64, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id FROM release WHERE id > $1 ORDER BY id LIMIT $2", after, limit)
	if err != nil {
		return nil, db.Storage("page release ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, db.Storage("scan release id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Storage("page release ids", err)
	}
	return ids, nil
}

// Load implements Source. Four set-based queries fill the page.
func (s *PgSource) Load(ctx context.Context, ids []int64) ([]model.CandidateRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	recs, byID, err := s.loadReleases(ctx, ids)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT release_id, artist_name FROM release_artist
		 WHERE release_id = ANY($1) AND extra = 0
		 ORDER BY release_id, position`, ids)
	if err != nil {
		return nil, db.Storage("load release artists", err)
	}
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return nil, db.Storage("scan release artist", err)
		}
		if i, ok := byID[id]; ok {
			recs[i].Artists = append(recs[i].Artists, name)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, db.Storage("load release artists", err)
	}

	// track index per release, keyed by sequence
	trackAt := make(map[int64]map[int]int)
	rows, err = s.pool.Query(ctx,
		`SELECT release_id, sequence, COALESCE(position, ''), title, COALESCE(duration, '')
		 FROM release_track WHERE release_id = ANY($1)
		 ORDER BY release_id, sequence`, ids)
	if err != nil {
		return nil, db.Storage("load release tracks", err)
	}
	for rows.Next() {
		var (
			id int64
			t  model.Track
		)
		if err := rows.Scan(&id, &t.Sequence, &t.Position, &t.Title, &t.Duration); err != nil {
			rows.Close()
			return nil, db.Storage("scan release track", err)
		}
		i, ok := byID[id]
		if !ok {
			continue
		}
		if trackAt[id] == nil {
			trackAt[id] = make(map[int]int)
		}
		trackAt[id][t.Sequence] = len(recs[i].Tracks)
		recs[i].Tracks = append(recs[i].Tracks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, db.Storage("load release tracks", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT release_id, track_sequence, artist_name FROM release_track_artist
		 WHERE release_id = ANY($1)
		 ORDER BY release_id, track_sequence, artist_name`, ids)
	if err != nil {
		return nil, db.Storage("load track artists", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			seq  int
			name string
		)
		if err := rows.Scan(&id, &seq, &name); err != nil {
			return nil, db.Storage("scan track artist", err)
		}
		i, ok := byID[id]
		if !ok {
			continue
		}
		if ti, ok := trackAt[id][seq]; ok {
			recs[i].Tracks[ti].Artists = append(recs[i].Tracks[ti].Artists, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, db.Storage("load track artists", err)
	}

	return recs, nil
}

func (s *PgSource) loadReleases(ctx context.Context, ids []int64) ([]model.CandidateRecord, map[int64]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, COALESCE(release_year, 0), COALESCE(country, '')
		 FROM release WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, nil, db.Storage("load releases", err)
	}
	defer rows.Close()

	var recs []model.CandidateRecord
	byID := make(map[int64]int, len(ids))
	for rows.Next() {
		var r model.CandidateRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Year, &r.Country); err != nil {
			return nil, nil, db.Storage("scan release", err)
		}
		byID[r.ID] = len(recs)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, db.Storage("load releases", err)
	}
	return recs, byID, nil
}
