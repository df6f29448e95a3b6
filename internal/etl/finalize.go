package etl

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/db"
	"github.com/wxyc/discogs-cache/internal/dedup"
	"github.com/wxyc/discogs-cache/internal/match"
	"github.com/wxyc/discogs-cache/internal/model"
	"github.com/wxyc/discogs-cache/internal/schema"
)

// ErrCopyMismatch is returned when the target holds a different number of
// releases than were retained.
var ErrCopyMismatch = eris.New("etl: copied release count does not match classification")

// copyTable is a release table and the columns carried to a target.
type copyTable struct {
	name string
	key  string
	cols []string
}

var copyTables = []copyTable{
	{"release", "id", []string{"id", "title", "release_year", "country", "artwork_url"}},
	{"release_artist", "release_id", []string{"release_id", "position", "artist_name", "extra"}},
	{"release_label", "release_id", []string{"release_id", "label_name"}},
	{"release_track", "release_id", []string{"release_id", "sequence", "position", "title", "duration"}},
	{"release_track_artist", "release_id", []string{"release_id", "track_sequence", "artist_name"}},
	{"cache_metadata", "release_id", []string{"release_id", "cached_at", "source", "last_validated"}},
	{"classification_result", "release_id", []string{"release_id", "verdict", "catalog_entry_id", "score", "reason", "classified_at"}},
}

type finalizeStep struct {
	deps
	plan Finalize
}

func (s *finalizeStep) Name() string { return StepFinalize }

func (s *finalizeStep) Run(ctx context.Context, env *Env) (*Result, error) {
	n, err := ApplyFinalize(ctx, env, s.plan)
	if err != nil {
		return nil, err
	}
	return &Result{Rows: n, Metadata: map[string]any{"mode": s.plan.Kind.String()}}, nil
}

// ApplyFinalize carries out f against the primary store and returns the
// number of releases pruned or copied. Report-only returns 0.
func ApplyFinalize(ctx context.Context, env *Env, f Finalize) (int64, error) {
	batch := env.Config.Finalize.BatchSize
	switch f.Kind {
	case DeleteInPlace:
		return Prune(ctx, env.Pool, batch)
	case CopyToTarget:
		connect := env.ConnectTarget
		if connect == nil {
			connect = ConnectTarget
		}
		target, closeTarget, err := connect(ctx, f.TargetURL)
		if err != nil {
			return 0, err
		}
		defer closeTarget()
		return CopyRetained(ctx, env.Pool, target, batch)
	default:
		return 0, WriteReport(ctx, env.Pool, env.Out)
	}
}

// idsByVerdict lists classified release ids with the given verdicts.
func idsByVerdict(ctx context.Context, pool db.Pool, verdicts ...model.Verdict) ([]int64, error) {
	vs := make([]string, len(verdicts))
	for i, v := range verdicts {
		vs[i] = string(v)
	}
	rows, err := pool.Query(ctx,
		`SELECT release_id FROM classification_result WHERE verdict = ANY($1) ORDER BY release_id`, vs,
	)
	if err != nil {
		return nil, db.Storage("list classified releases", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, db.Storage("scan classified release", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Storage("list classified releases", err)
	}
	return ids, nil
}

// Prune deletes PRUNE releases and their dependents, one transaction per
// batch. KEEP and REVIEW releases are never selected.
func Prune(ctx context.Context, pool db.Pool, batchSize int) (int64, error) {
	log := zap.L().With(zap.String("step", StepFinalize), zap.String("mode", DeleteInPlace.String()))
	ids, err := idsByVerdict(ctx, pool, model.VerdictPrune)
	if err != nil {
		return 0, err
	}
	if batchSize < 1 {
		batchSize = len(ids) + 1
	}
	var deleted int64
	for i := 0; i < len(ids); i += batchSize {
		end := min(i+batchSize, len(ids))
		n, err := dedup.DeleteReleases(ctx, pool, ids[i:end])
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	log.Info("pruned releases", zap.Int("selected", len(ids)), zap.Int64("deleted", deleted))
	return deleted, nil
}

// CopyRetained rebuilds the target store from KEEP and REVIEW releases. The
// source is only read. The target is cleared first, so a repeat converges.
func CopyRetained(ctx context.Context, source, target db.Pool, batchSize int) (int64, error) {
	log := zap.L().With(zap.String("step", StepFinalize), zap.String("mode", CopyToTarget.String()))

	if err := schema.Migrate(ctx, target); err != nil {
		return 0, err
	}
	if _, err := target.Exec(ctx, "TRUNCATE "+tableList(schema.Tables)); err != nil {
		return 0, db.Storage("clear target tables", err)
	}

	summary, err := match.LoadSummary(ctx, source)
	if err != nil {
		return 0, err
	}
	ids, err := idsByVerdict(ctx, source, model.VerdictKeep, model.VerdictReview)
	if err != nil {
		return 0, err
	}
	if batchSize < 1 {
		batchSize = len(ids) + 1
	}

	for i := 0; i < len(ids); i += batchSize {
		end := min(i+batchSize, len(ids))
		if err := copyBatch(ctx, source, target, ids[i:end]); err != nil {
			return 0, err
		}
		log.Debug("copied batch", zap.Int("done", end), zap.Int("total", len(ids)))
	}

	for _, set := range []schema.IndexSet{schema.BaseIndexes, schema.TrackIndexes} {
		if err := schema.CreateIndexes(ctx, target, set); err != nil {
			return 0, err
		}
	}

	var copied int64
	if err := target.QueryRow(ctx, "SELECT count(*) FROM release").Scan(&copied); err != nil {
		return 0, db.Storage("count target releases", err)
	}
	if copied != summary.Retained() {
		return copied, eris.Wrapf(ErrCopyMismatch, "etl: target has %d releases, classification retained %d", copied, summary.Retained())
	}
	log.Info("copied retained releases", zap.Int64("releases", copied))
	return copied, nil
}

// copyBatch moves one batch of releases and their dependents in a single
// target transaction.
func copyBatch(ctx context.Context, source, target db.Pool, ids []int64) error {
	return db.InTx(ctx, target, func(tx pgx.Tx) error {
		for _, t := range copyTables {
			rows, err := readRows(ctx, source, t, ids)
			if err != nil {
				return err
			}
			if _, err := db.CopyFrom(ctx, tx, t.name, t.cols, rows); err != nil {
				return err
			}
		}
		return nil
	})
}

func readRows(ctx context.Context, pool db.Pool, t copyTable, ids []int64) ([][]any, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ANY($1)",
		identList(t.cols), db.Ident(t.name).Sanitize(), pgx.Identifier{t.key}.Sanitize())
	rows, err := pool.Query(ctx, sql, ids)
	if err != nil {
		return nil, db.Storage("read "+t.name, err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, db.Storage("read "+t.name, err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Storage("read "+t.name, err)
	}
	return out, nil
}

// WriteReport writes what a prune would remove without changing anything.
func WriteReport(ctx context.Context, pool db.Pool, w io.Writer) error {
	summary, err := match.LoadSummary(ctx, pool)
	if err != nil {
		return err
	}
	ids, err := idsByVerdict(ctx, pool, model.VerdictPrune)
	if err != nil {
		return err
	}
	counts, err := CountDependents(ctx, pool, ids)
	if err != nil {
		return err
	}
	zap.L().Info("report only, nothing deleted",
		zap.Int64("keep", summary[model.VerdictKeep]),
		zap.Int64("review", summary[model.VerdictReview]),
		zap.Int64("prune", summary[model.VerdictPrune]),
	)
	if w != nil {
		renderPruneEstimate(w, summary, counts)
	}
	return nil
}

// TableCount is a per-table row count.
type TableCount struct {
	Table string
	Rows  int64
}

// CountDependents counts the rows each release table holds for ids.
func CountDependents(ctx context.Context, pool db.Pool, ids []int64) ([]TableCount, error) {
	out := make([]TableCount, 0, len(copyTables))
	for _, t := range copyTables {
		if t.name == "classification_result" {
			continue
		}
		tc := TableCount{Table: t.name}
		if len(ids) > 0 {
			sql := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s = ANY($1)",
				db.Ident(t.name).Sanitize(), pgx.Identifier{t.key}.Sanitize())
			if err := pool.QueryRow(ctx, sql, ids).Scan(&tc.Rows); err != nil {
				return nil, db.Storage("count "+t.name, err)
			}
		}
		out = append(out, tc)
	}
	return out, nil
}

func renderPruneEstimate(w io.Writer, summary match.Summary, counts []TableCount) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle(fmt.Sprintf("Dry run: %d releases would be pruned, %d retained",
		summary[model.VerdictPrune], summary.Retained()))
	tw.AppendHeader(table.Row{"Table", "Rows to delete"})
	for _, c := range counts {
		tw.AppendRow(table.Row{c.Table, c.Rows})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	tw.Render()
}

func identList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(out, ", ")
}

func tableList(tables []string) string {
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = db.Ident(t).Sanitize()
	}
	return strings.Join(out, ", ")
}
