package etl

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/db"
	"github.com/wxyc/discogs-cache/internal/ledger"
	"github.com/wxyc/discogs-cache/internal/schema"
)

// Engine runs registry steps in order against a ledger.
type Engine struct {
	env   *Env
	store ledger.Store
	reg   *Registry
}

// NewEngine creates a new pipeline engine.
func NewEngine(env *Env, store ledger.Store, reg *Registry) *Engine {
	return &Engine{env: env, store: store, reg: reg}
}

// Summary counts what a run did.
type Summary struct {
	Ran     int
	Skipped int
}

// Run executes every step not yet done. Cancellation is honoured between
// steps; a step that fails is recorded as failed and halts the run with a
// *StepError.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	log := zap.L().With(zap.String("component", "etl.engine"))
	start := time.Now()
	var sum Summary

	for _, st := range e.reg.All() {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		name := st.Name()
		stepLog := log.With(zap.String("step", name))

		entry, err := e.store.Get(ctx, name)
		if err != nil {
			return sum, eris.Wrapf(err, "etl: read ledger for %s", name)
		}
		if entry.Status == ledger.StatusDone {
			stepLog.Info("skipping, already done")
			sum.Skipped++
			continue
		}

		for _, req := range st.Requires() {
			dep, err := e.store.Get(ctx, req)
			if err != nil {
				return sum, eris.Wrapf(err, "etl: read ledger for %s", req)
			}
			if dep.Status != ledger.StatusDone {
				return sum, &StepError{
					Step: name,
					Err:  eris.Wrapf(ErrDependency, "etl: %s requires %s (%s)", name, req, dep.Status),
				}
			}
		}

		if err := e.store.Set(ctx, name, ledger.StatusRunning, ""); err != nil {
			return sum, eris.Wrapf(err, "etl: mark %s running", name)
		}

		stepLog.Info("starting step")
		stepStart := time.Now()
		res, err := st.Run(ctx, e.env)
		elapsed := time.Since(stepStart)

		if err != nil {
			stepLog.Error("step failed", zap.Error(err), zap.Duration("elapsed", elapsed))
			if logErr := e.store.Set(context.WithoutCancel(ctx), name, ledger.StatusFailed, err.Error()); logErr != nil {
				stepLog.Error("failed to record step failure", zap.Error(logErr))
			}
			return sum, &StepError{Step: name, Err: err}
		}

		if err := e.store.Set(ctx, name, ledger.StatusDone, ""); err != nil {
			return sum, eris.Wrapf(err, "etl: mark %s done", name)
		}
		fields := []zap.Field{zap.Duration("elapsed", elapsed)}
		if res != nil {
			fields = append(fields, zap.Int64("rows", res.Rows))
		}
		stepLog.Info("step complete", fields...)
		sum.Ran++
	}

	log.Info("pipeline complete",
		zap.Int("ran", sum.Ran),
		zap.Int("skipped", sum.Skipped),
		zap.Duration("elapsed", time.Since(start)),
	)
	e.reportSizes(ctx)
	return sum, nil
}

// reportSizes logs final row counts and sizes. Failures only warn.
func (e *Engine) reportSizes(ctx context.Context) {
	log := zap.L().With(zap.String("component", "etl.engine"))
	sizes, err := db.TableSizes(ctx, e.env.Pool, schema.Tables)
	if err != nil {
		log.Warn("could not read table sizes", zap.Error(err))
		return
	}
	for _, s := range sizes {
		log.Info("table size",
			zap.String("table", s.Table),
			zap.Int64("rows", s.Rows),
			zap.Int64("bytes", s.Bytes),
		)
	}
}
