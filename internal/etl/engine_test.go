package etl

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/ledger"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// stubStep implements Step for testing.
type stubStep struct {
	deps
	name  string
	err   error
	calls int
	hook  func()
}

func (s *stubStep) Name() string { return s.name }

func (s *stubStep) Run(_ context.Context, _ *Env) (*Result, error) {
	s.calls++
	if s.hook != nil {
		s.hook()
	}
	if s.err != nil {
		return nil, s.err
	}
	return &Result{Rows: 1}, nil
}

func chain(names ...string) (*Registry, []*stubStep) {
	r := &Registry{steps: make(map[string]Step)}
	var stubs []*stubStep
	for i, n := range names {
		s := &stubStep{name: n}
		if i > 0 {
			s.deps = deps{names[i-1]}
		}
		r.Register(s)
		stubs = append(stubs, s)
	}
	return r, stubs
}

func newEngine(t *testing.T, reg *Registry) (*Engine, ledger.Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store := ledger.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Init(context.Background(), ledger.Target{DatabaseURL: "postgres://x", CSVDir: "/csv"}, "run", reg.Names()))
	return NewEngine(&Env{Pool: mock}, store, reg), store
}

func statuses(t *testing.T, store ledger.Store) map[string]ledger.Status {
	t.Helper()
	entries, err := store.List(context.Background())
	require.NoError(t, err)
	out := make(map[string]ledger.Status, len(entries))
	for _, e := range entries {
		out[e.Step] = e.Status
	}
	return out
}

func TestEngine_RunsAllInOrder(t *testing.T) {
	var order []string
	reg, stubs := chain("a", "b", "c")
	for _, s := range stubs {
		s.hook = func() { order = append(order, s.name) }
	}
	eng, store := newEngine(t, reg)

	sum, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Ran: 3}, sum)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, map[string]ledger.Status{"a": ledger.StatusDone, "b": ledger.StatusDone, "c": ledger.StatusDone}, statuses(t, store))
}

func TestEngine_FailureHaltsAndResumeSkipsDone(t *testing.T) {
	reg, stubs := chain("a", "b", "c")
	stubs[1].err = errors.New("copy failed")
	eng, store := newEngine(t, reg)

	_, err := eng.Run(context.Background())
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "b", stepErr.Step)
	assert.Equal(t, 0, stubs[2].calls)

	st := statuses(t, store)
	assert.Equal(t, ledger.StatusDone, st["a"])
	assert.Equal(t, ledger.StatusFailed, st["b"])
	assert.Equal(t, ledger.StatusPending, st["c"])

	e, err := store.Get(context.Background(), "b")
	require.NoError(t, err)
	assert.Contains(t, e.Error, "copy failed")

	stubs[1].err = nil
	sum, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Ran: 2, Skipped: 1}, sum)
	assert.Equal(t, 1, stubs[0].calls)
	assert.Equal(t, 2, stubs[1].calls)
	assert.Equal(t, 1, stubs[2].calls)
}

func TestEngine_SecondRunIsNoop(t *testing.T) {
	reg, stubs := chain("a", "b")
	eng, _ := newEngine(t, reg)

	_, err := eng.Run(context.Background())
	require.NoError(t, err)
	sum, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Skipped: 2}, sum)
	assert.Equal(t, 1, stubs[0].calls)
	assert.Equal(t, 1, stubs[1].calls)
}

func TestEngine_DependencyViolation(t *testing.T) {
	ctx := context.Background()
	reg, _ := chain("a", "b")
	eng, store := newEngine(t, reg)

	// only b is scheduled; its prerequisite a is still pending
	b := &stubStep{name: "b", deps: deps{"a"}}
	eng.reg = &Registry{steps: map[string]Step{"b": b}, order: []string{"b"}}

	_, err := eng.Run(ctx)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "b", stepErr.Step)
	assert.ErrorIs(t, err, ErrDependency)
	assert.Equal(t, 0, b.calls)
	assert.Equal(t, ledger.StatusPending, statuses(t, store)["b"])
}

func TestEngine_CancelledBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg, stubs := chain("a", "b")
	stubs[0].hook = cancel
	eng, store := newEngine(t, reg)

	_, err := eng.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, stubs[1].calls)

	st := statuses(t, store)
	assert.Equal(t, ledger.StatusDone, st["a"])
	assert.Equal(t, ledger.StatusPending, st["b"])
}

func TestStepError(t *testing.T) {
	cause := errors.New("disk full")
	err := &StepError{Step: "import_csv", Err: cause}
	assert.Equal(t, "etl: step import_csv: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
}
