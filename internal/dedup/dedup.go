package dedup

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/db"
	"github.com/wxyc/discogs-cache/internal/schema"
)

// dependents are deleted before their parent release rows. Classification
// results are left alone: finalize reads them after pruning.
var dependents = []string{
	"release_artist",
	"release_label",
	"release_track",
	"release_track_artist",
	"cache_metadata",
}

const membersWithCounts = `
SELECT r.id, r.master_id, COALESCE(r.country, ''), COALESCE(tc.track_count, 0)
FROM release r
LEFT JOIN release_track_count tc ON tc.release_id = r.id
WHERE r.master_id IN (
	SELECT master_id FROM release
	WHERE master_id IS NOT NULL
	GROUP BY master_id HAVING count(*) > 1
)
ORDER BY r.master_id, r.id`

const membersWithTracks = `
SELECT r.id, r.master_id, COALESCE(r.country, ''),
	(SELECT count(*) FROM release_track t WHERE t.release_id = r.id)::int
FROM release r
WHERE r.master_id IN (
	SELECT master_id FROM release
	WHERE master_id IS NOT NULL
	GROUP BY master_id HAVING count(*) > 1
)
ORDER BY r.master_id, r.id`

// Stats describes one dedup pass.
type Stats struct {
	Groups  int
	Losers  int
	Deleted int64
	Skipped bool
}

// Deduper removes losing releases and their dependent rows.
type Deduper struct {
	pool      db.Pool
	policy    Policy
	batchSize int
}

// New creates a Deduper.
func New(pool db.Pool, policy Policy, batchSize int) *Deduper {
	if batchSize < 1 {
		batchSize = 1000
	}
	return &Deduper{pool: pool, policy: policy, batchSize: batchSize}
}

// Run collapses every multi-member group. Each batch of deletions commits
// on its own, so a crash leaves whole releases either present or gone and
// a re-run converges on the same survivors. When the grouping column is
// already gone the pass is a no-op.
func (d *Deduper) Run(ctx context.Context) (Stats, error) {
	log := zap.L().With(zap.String("component", "dedup"))
	start := time.Now()

	ok, err := db.ColumnExists(ctx, d.pool, "release", schema.GroupingColumn)
	if err != nil {
		return Stats{}, err
	}
	if !ok {
		log.Info("grouping column already dropped, nothing to do")
		return Stats{Skipped: true}, nil
	}

	losers, groups, err := d.plan(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Groups: groups, Losers: len(losers)}
	log.Info("dedup planned", zap.Int("groups", groups), zap.Int("losers", len(losers)))

	for i := 0; i < len(losers); i += d.batchSize {
		end := min(i+d.batchSize, len(losers))
		n, err := DeleteReleases(ctx, d.pool, losers[i:end])
		if err != nil {
			return stats, err
		}
		stats.Deleted += n
	}

	if err := schema.DropStaging(ctx, d.pool); err != nil {
		return stats, err
	}

	log.Info("dedup complete",
		zap.Int("groups", stats.Groups),
		zap.Int64("deleted", stats.Deleted),
		zap.Duration("elapsed", time.Since(start)),
	)
	return stats, nil
}

// plan streams group members ordered by master id and collects losers.
func (d *Deduper) plan(ctx context.Context) ([]int64, int, error) {
	query := membersWithTracks
	hasCounts, err := db.TableExists(ctx, d.pool, schema.TrackCountTable)
	if err != nil {
		return nil, 0, err
	}
	if hasCounts {
		query = membersWithCounts
	}

	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, 0, db.Storage("load master groups", err)
	}
	defer rows.Close()

	var (
		losers []int64
		groups int
		group  []Member
	)
	flush := func() {
		if len(group) > 1 {
			groups++
			losers = append(losers, d.policy.Losers(group)...)
		}
		group = group[:0]
	}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.MasterID, &m.Country, &m.TrackCount); err != nil {
			return nil, 0, db.Storage("scan group member", err)
		}
		if len(group) > 0 && group[0].MasterID != m.MasterID {
			flush()
		}
		group = append(group, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.Storage("load master groups", err)
	}
	flush()
	return losers, groups, nil
}

// DeleteReleases removes releases and every dependent row in one
// transaction and returns the number of release rows deleted.
func DeleteReleases(ctx context.Context, pool db.Pool, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int64
	err := db.InTx(ctx, pool, func(tx pgx.Tx) error {
		for _, table := range dependents {
			if _, err := tx.Exec(ctx,
				"DELETE FROM "+db.Ident(table).Sanitize()+" WHERE release_id = ANY($1)", ids,
			); err != nil {
				return db.Storage("delete from "+table, err)
			}
		}
		tag, err := tx.Exec(ctx, "DELETE FROM release WHERE id = ANY($1)", ids)
		if err != nil {
			return db.Storage("delete from release", err)
		}
		deleted = tag.RowsAffected()
		return nil
	})
	return deleted, err
}
