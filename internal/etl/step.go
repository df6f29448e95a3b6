package etl

import (
	"context"
	"io"

	"github.com/wxyc/discogs-cache/internal/config"
	"github.com/wxyc/discogs-cache/internal/db"
)

// Step names double as ledger keys.
const (
	StepConvertXML         = "convert_xml"
	StepFilterCSV          = "filter_csv"
	StepCreateSchema       = "create_schema"
	StepImportCSV          = "import_csv"
	StepCreateIndexes      = "create_indexes"
	StepDedup              = "dedup"
	StepImportTracks       = "import_tracks"
	StepCreateTrackIndexes = "create_track_indexes"
	StepClassify           = "classify"
	StepFinalize           = "finalize"
	StepVacuum             = "vacuum"
)

// Result is what a step reports back to the engine.
type Result struct {
	Rows     int64          `json:"rows"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Step is one unit of pipeline work. Run must be safe to repeat after a
// crash: re-running a step that was interrupted converges on the same
// state as an uninterrupted run.
type Step interface {
	// Name returns the ledger key.
	Name() string
	// Requires returns the steps that must be done first.
	Requires() []string
	Run(ctx context.Context, env *Env) (*Result, error)
}

// TargetConnector opens the copy-to-target database.
type TargetConnector func(ctx context.Context, url string) (db.Pool, func(), error)

// Env is what steps run against.
type Env struct {
	Pool   db.Pool
	Config *config.Config
	Plan   Plan
	// Out receives human-readable reports.
	Out io.Writer
	// ConnectTarget defaults to a pgxpool connection.
	ConnectTarget TargetConnector
}
