package etl

import (
	"context"

	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/db"
	"github.com/wxyc/discogs-cache/internal/dedup"
	"github.com/wxyc/discogs-cache/internal/schema"
)

type createSchema struct {
	deps
}

func (s *createSchema) Name() string { return StepCreateSchema }

func (s *createSchema) Run(ctx context.Context, env *Env) (*Result, error) {
	if err := schema.Migrate(ctx, env.Pool); err != nil {
		return nil, err
	}
	if err := schema.EnsureStaging(ctx, env.Pool); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

// createIndexes builds one index set; both index steps share it.
type createIndexes struct {
	deps
	name string
	set  schema.IndexSet
}

func (s *createIndexes) Name() string { return s.name }

func (s *createIndexes) Run(ctx context.Context, env *Env) (*Result, error) {
	if err := schema.CreateIndexes(ctx, env.Pool, s.set); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

type dedupStep struct {
	deps
}

func (s *dedupStep) Name() string { return StepDedup }

func (s *dedupStep) Run(ctx context.Context, env *Env) (*Result, error) {
	cfg := env.Config.Dedup
	stats, err := dedup.New(env.Pool, dedup.Policy{HomeCountry: cfg.HomeCountry}, cfg.BatchSize).Run(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{
		Rows: stats.Deleted,
		Metadata: map[string]any{
			"groups":  stats.Groups,
			"losers":  stats.Losers,
			"skipped": stats.Skipped,
		},
	}, nil
}

// vacuum reclaims space. A table that cannot be vacuumed is logged and
// skipped; the step itself never fails on it.
type vacuum struct {
	deps
}

func (s *vacuum) Name() string { return StepVacuum }

func (s *vacuum) Run(ctx context.Context, env *Env) (*Result, error) {
	return Vacuum(ctx, env.Pool, schema.Tables), nil
}

// Vacuum runs VACUUM FULL on each table in turn.
func Vacuum(ctx context.Context, pool db.Pool, tables []string) *Result {
	log := zap.L().With(zap.String("step", StepVacuum))
	var done int64
	for _, t := range tables {
		if ctx.Err() != nil {
			break
		}
		log.Info("vacuum full", zap.String("table", t))
		if _, err := pool.Exec(ctx, "VACUUM FULL "+db.Ident(t).Sanitize()); err != nil {
			log.Warn("vacuum failed", zap.String("table", t), zap.Error(err))
			continue
		}
		done++
	}
	return &Result{Rows: done}
}
