package match

import (
	"context"

	"github.com/wxyc/discogs-cache/internal/db"
	"github.com/wxyc/discogs-cache/internal/model"
)

// Sink persists classification results.
type Sink interface {
	// Reset discards results from a previous attempt.
	Reset(ctx context.Context) error
	// Write stores one batch in a single transaction.
	Write(ctx context.Context, batch []model.ClassificationResult) error
}

var resultUpsert = db.UpsertConfig{
	Table:        "classification_result",
	Columns:      []string{"release_id", "verdict", "catalog_entry_id", "score", "reason"},
	ConflictKeys: []string{"release_id"},
}

// PgSink writes results into classification_result.
type PgSink struct {
	pool db.Pool
}

// NewPgSink creates a PgSink.
func NewPgSink(pool db.Pool) *PgSink {
	return &PgSink{pool: pool}
}

// Reset implements Sink.
func (s *PgSink) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE classification_result"); err != nil {
		return db.Storage("reset classification results", err)
	}
	return nil
}

// Write implements Sink with an upsert keyed on release_id, so a replayed
// batch converges.
func (s *PgSink) Write(ctx context.Context, batch []model.ClassificationResult) error {
	rows := make([][]any, len(batch))
	for i, r := range batch {
		rows[i] = []any{r.ReleaseID, string(r.Verdict), r.EntryID, r.Score, r.Reason}
	}
	_, err := db.BulkUpsert(ctx, s.pool, resultUpsert, rows)
	return err
}

// Summary counts stored results per verdict.
type Summary map[model.Verdict]int64

// Retained is the number of KEEP and REVIEW results.
func (s Summary) Retained() int64 {
	return s[model.VerdictKeep] + s[model.VerdictReview]
}

// LoadSummary counts the stored results per verdict.
func LoadSummary(ctx context.Context, pool db.Pool) (Summary, error) {
	rows, err := pool.Query(ctx,
		"SELECT verdict, count(*) FROM classification_result GROUP BY verdict")
	if err != nil {
		return nil, db.Storage("summarize classification results", err)
	}
	defer rows.Close()

	out := Summary{}
	for rows.Next() {
		var (
			v string
			n int64
		)
		if err := rows.Scan(&v, &n); err != nil {
			return nil, db.Storage("scan classification summary", err)
		}
		verdict, err := model.ParseVerdict(v)
		if err != nil {
			return nil, err
		}
		out[verdict] = n
	}
	if err := rows.Err(); err != nil {
		return nil, db.Storage("summarize classification results", err)
	}
	return out, nil
}
