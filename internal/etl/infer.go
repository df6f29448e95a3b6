package etl

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/db"
	"github.com/wxyc/discogs-cache/internal/ledger"
	"github.com/wxyc/discogs-cache/internal/schema"
)

type stateCheck struct {
	step  string
	check func(ctx context.Context, pool db.Pool) (bool, error)
}

// stateChecks run in pipeline order. classify, finalize and vacuum are never
// inferred because they are safe to repeat.
var stateChecks = []stateCheck{
	{StepCreateSchema, func(ctx context.Context, pool db.Pool) (bool, error) {
		for _, t := range schema.Tables {
			ok, err := db.TableExists(ctx, pool, t)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}},
	{StepImportCSV, func(ctx context.Context, pool db.Pool) (bool, error) {
		return db.TableHasRows(ctx, pool, "release")
	}},
	{StepCreateIndexes, func(ctx context.Context, pool db.Pool) (bool, error) {
		return schema.IndexesBuilt(ctx, pool, schema.BaseIndexes)
	}},
	{StepDedup, func(ctx context.Context, pool db.Pool) (bool, error) {
		ok, err := db.ColumnExists(ctx, pool, "release", schema.GroupingColumn)
		return !ok, err
	}},
	{StepImportTracks, func(ctx context.Context, pool db.Pool) (bool, error) {
		return db.TableHasRows(ctx, pool, "release_track")
	}},
	{StepCreateTrackIndexes, func(ctx context.Context, pool db.Pool) (bool, error) {
		return schema.IndexesBuilt(ctx, pool, schema.TrackIndexes)
	}},
}

// Infer reports which steps the primary store shows as already complete.
// It stops at the first unsatisfied check, so the result is always a
// prefix of the pipeline.
func Infer(ctx context.Context, pool db.Pool) ([]string, error) {
	var done []string
	for _, p := range stateChecks {
		ok, err := p.check(ctx, pool)
		if err != nil {
			return nil, eris.Wrapf(err, "etl: infer %s", p.step)
		}
		if !ok {
			break
		}
		done = append(done, p.step)
	}
	return done, nil
}

// StartOptions describes how a run picks up its ledger.
type StartOptions struct {
	Target ledger.Target
	RunID  string
	Resume bool
}

// Start prepares the ledger for a run. A resume reuses an existing ledger
// for the same target. A resume without a ledger in from-prepared mode
// infers completed steps from the database. Anything else starts fresh.
func Start(ctx context.Context, store ledger.Store, reg *Registry, plan Plan, pool db.Pool, opts StartOptions) error {
	log := zap.L().With(zap.String("component", "etl"))

	exists, err := store.Exists(ctx)
	if err != nil {
		return err
	}
	if opts.Resume && exists {
		if err := store.Resume(ctx, opts.Target); err != nil {
			return err
		}
		return ensureSteps(ctx, store, reg)
	}

	if err := store.Init(ctx, opts.Target, opts.RunID, reg.Names()); err != nil {
		return err
	}
	if !opts.Resume {
		return nil
	}
	if plan.Mode != FromPrepared {
		log.Info("no ledger to resume, starting from the first step")
		return nil
	}

	done, err := Infer(ctx, pool)
	if err != nil {
		return err
	}
	for _, step := range done {
		if err := store.Set(ctx, step, ledger.StatusDone, ""); err != nil {
			return err
		}
	}
	log.Info("inferred completed steps from database", zap.Strings("steps", done))
	return nil
}

// ensureSteps rejects a ledger that lacks a step the registry plans.
func ensureSteps(ctx context.Context, store ledger.Store, reg *Registry) error {
	for _, name := range reg.Names() {
		if _, err := store.Get(ctx, name); err != nil {
			return eris.Wrapf(err, "etl: ledger has no entry for %s, start a fresh run instead of resuming", name)
		}
	}
	return nil
}
