package match

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wxyc/discogs-cache/internal/model"
	"github.com/wxyc/discogs-cache/internal/resilience"
)

// RunConfig sizes a classification run.
type RunConfig struct {
	Workers    int
	PageSize   int
	WriteBatch int
	Retry      resilience.RetryConfig
}

// Outcome is a result plus the fields the report shows.
type Outcome struct {
	Result model.ClassificationResult
	Artist string
	Title  string

	rec model.CandidateRecord
}

// Runner classifies every release in a Source and writes the results to a
// Sink. Workers share the read-only Classifier; a single writer owns the
// Sink, so no two goroutines ever write results concurrently.
type Runner struct {
	src Source
	snk Sink
	clf *Classifier
	cfg RunConfig
}

// NewRunner creates a Runner, defaulting non-positive sizes.
func NewRunner(src Source, snk Sink, clf *Classifier, cfg RunConfig) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = 1000
	}
	if cfg.WriteBatch < 1 {
		cfg.WriteBatch = 500
	}
	return &Runner{src: src, snk: snk, clf: clf, cfg: cfg}
}

// Run classifies all releases. Page loads that keep failing degrade to
// per-release loads; a release that still cannot be loaded is recorded as
// REVIEW with reason classification-error. Transient sink failures are
// retried; anything else aborts the run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	log := zap.L().With(zap.String("component", "match.runner"))
	start := time.Now()

	if err := r.snk.Reset(ctx); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	work := make(chan Outcome, r.cfg.PageSize)
	results := make(chan Outcome, r.cfg.WriteBatch)

	var senders sync.WaitGroup
	senders.Add(1 + r.cfg.Workers)

	g.Go(func() error {
		defer senders.Done()
		defer close(work)
		return r.produce(gctx, work, results)
	})

	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			defer senders.Done()
			return r.classify(gctx, work, results)
		})
	}

	go func() {
		senders.Wait()
		close(results)
	}()

	report := NewReport()
	g.Go(func() error {
		return r.write(gctx, results, report)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("classification complete",
		zap.Int("total", report.Total),
		zap.Int("keep", report.Counts[model.VerdictKeep]),
		zap.Int("review", report.Counts[model.VerdictReview]),
		zap.Int("prune", report.Counts[model.VerdictPrune]),
		zap.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

// produce pages ids and sends loaded records to work. Records that cannot
// be loaded go straight to results as errors.
func (r *Runner) produce(ctx context.Context, work, results chan<- Outcome) error {
	log := zap.L().With(zap.String("component", "match.runner"))
	retry := r.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("match", "load releases")

	var after int64
	for {
		ids, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]int64, error) {
			return r.src.NextIDs(ctx, after, r.cfg.PageSize)
		})
		if err != nil {
			return eris.Wrap(err, "match: page release ids")
		}
		if len(ids) == 0 {
			return nil
		}
		after = ids[len(ids)-1]

		recs, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]model.CandidateRecord, error) {
			return r.src.Load(ctx, ids)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("page load failed, loading releases one at a time",
				zap.Int64("first_id", ids[0]),
				zap.Int("count", len(ids)),
				zap.Error(err),
			)
			if err := r.produceEach(ctx, retry, ids, work, results); err != nil {
				return err
			}
			continue
		}

		for _, rec := range recs {
			if err := send(ctx, work, Outcome{Artist: rec.PrimaryArtist(), Title: rec.Title, rec: rec}); err != nil {
				return err
			}
		}
	}
}

func (r *Runner) produceEach(ctx context.Context, retry resilience.RetryConfig, ids []int64, work, results chan<- Outcome) error {
	for _, id := range ids {
		recs, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]model.CandidateRecord, error) {
			return r.src.Load(ctx, []int64{id})
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			zap.L().Warn("release load failed, deferring to review",
				zap.String("component", "match.runner"),
				zap.Int64("release_id", id),
				zap.Error(err),
			)
			if err := send(ctx, results, Outcome{Result: ErrorResult(id)}); err != nil {
				return err
			}
			continue
		}
		for _, rec := range recs {
			if err := send(ctx, work, Outcome{Artist: rec.PrimaryArtist(), Title: rec.Title, rec: rec}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) classify(ctx context.Context, work <-chan Outcome, results chan<- Outcome) error {
	for o := range work {
		o.Result = r.clf.Classify(&o.rec)
		o.rec = model.CandidateRecord{}
		if err := send(ctx, results, o); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) write(ctx context.Context, results <-chan Outcome, report *Report) error {
	retry := r.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("match", "write results")

	// Results upsert on release_id, so replaying a batch converges.
	batch := make([]model.ClassificationResult, 0, r.cfg.WriteBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := resilience.Do(ctx, retry, func(ctx context.Context) error {
			return r.snk.Write(ctx, batch)
		})
		if err != nil {
			return eris.Wrap(err, "match: write results")
		}
		batch = batch[:0]
		return nil
	}

	for o := range results {
		report.Add(o)
		batch = append(batch, o.Result)
		if len(batch) >= r.cfg.WriteBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return flush()
}

func send(ctx context.Context, ch chan<- Outcome, o Outcome) error {
	select {
	case ch <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
