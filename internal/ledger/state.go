// Package ledger records per-step pipeline progress outside the primary
// store so an interrupted run can resume where it stopped.
package ledger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Version is the on-disk ledger format version.
const Version = 1

// Status is the lifecycle state of one step.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusDone, StatusFailed:
		return true
	}
	return false
}

var (
	// ErrTargetMismatch is returned when a resume points at a different
	// database, CSV directory or finalize choice than the ledger was
	// created for.
	ErrTargetMismatch = eris.New("ledger: target mismatch")
	// ErrUnknownStep is returned for a step the ledger was not initialised with.
	ErrUnknownStep = eris.New("ledger: unknown step")
	// ErrDoneFinal is returned when a done step would move to another status
	// without an explicit reset.
	ErrDoneFinal = eris.New("ledger: step already done")
	// ErrNotInitialized is returned when the ledger has not been created yet.
	ErrNotInitialized = eris.New("ledger: not initialized")
	// ErrLocked is returned when another process holds the ledger lock.
	ErrLocked = eris.New("ledger: locked by another run")
	// ErrVersion is returned for a ledger written by an incompatible version.
	ErrVersion = eris.New("ledger: unsupported version")
)

// Target identifies the run a ledger belongs to. Finalize and FinalizeURL
// pin the finalize choice for the lifetime of the run.
type Target struct {
	DatabaseURL string `json:"database_url"`
	CSVDir      string `json:"csv_dir"`
	Finalize    string `json:"finalize"`
	FinalizeURL string `json:"finalize_url,omitempty"`
}

// FinalizeLabel describes the pinned finalize choice with any password in
// the target URL hidden.
func (t Target) FinalizeLabel() string {
	if t.FinalizeURL == "" {
		return t.Finalize
	}
	return t.Finalize + " " + redact(t.FinalizeURL)
}

// Meta describes a ledger as a whole.
type Meta struct {
	Version   int       `json:"version"`
	Target    Target    `json:"target"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry is the recorded state of one step.
type Entry struct {
	Step      string    `json:"step"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

// Store persists step state. Implementations are used by one run at a time.
type Store interface {
	// Exists reports whether a ledger has been written.
	Exists(ctx context.Context) (bool, error)
	// Init discards any previous state and records steps as pending.
	Init(ctx context.Context, target Target, runID string, steps []string) error
	// Resume loads an existing ledger and rejects a different target.
	Resume(ctx context.Context, target Target) error
	Meta(ctx context.Context) (Meta, error)
	Get(ctx context.Context, step string) (Entry, error)
	// Set moves step to status. detail is kept only for failed steps.
	Set(ctx context.Context, step string, status Status, detail string) error
	// List returns entries in pipeline order.
	List(ctx context.Context) ([]Entry, error)
	// Reset returns steps to pending regardless of their status.
	Reset(ctx context.Context, steps ...string) error
	Close() error
}

// transition validates a status change.
func transition(step string, from, to Status) error {
	if !to.Valid() {
		return eris.Errorf("ledger: invalid status %q for %s", to, step)
	}
	if from == StatusDone && to != StatusDone {
		return eris.Wrapf(ErrDoneFinal, "ledger: %s -> %s", step, to)
	}
	return nil
}

func checkTarget(have, want Target) error {
	if have.DatabaseURL != want.DatabaseURL {
		return eris.Wrapf(ErrTargetMismatch, "ledger: database url %q, got %q", redact(have.DatabaseURL), redact(want.DatabaseURL))
	}
	if have.CSVDir != want.CSVDir {
		return eris.Wrapf(ErrTargetMismatch, "ledger: csv dir %q, got %q", have.CSVDir, want.CSVDir)
	}
	if have.Finalize != want.Finalize {
		return eris.Wrapf(ErrTargetMismatch, "ledger: finalize %q, got %q", have.Finalize, want.Finalize)
	}
	if have.FinalizeURL != want.FinalizeURL {
		return eris.Wrapf(ErrTargetMismatch, "ledger: finalize target %q, got %q", redact(have.FinalizeURL), redact(want.FinalizeURL))
	}
	return nil
}

// Ledger drivers accepted by New.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// New returns the store for driver at path.
func New(driver, path string) (Store, error) {
	switch driver {
	case DriverFile, "":
		return NewFileStore(path), nil
	case DriverSQLite:
		return NewSQLiteStore(path), nil
	default:
		return nil, eris.Errorf("ledger: unknown driver %q", driver)
	}
}
