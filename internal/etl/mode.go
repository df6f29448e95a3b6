package etl

import (
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/wxyc/discogs-cache/internal/config"
)

// Mode is where a run starts.
type Mode int

const (
	// FromPrepared starts from an existing directory of CSV files.
	FromPrepared Mode = iota
	// FromRaw converts the XML dump to CSV first.
	FromRaw
)

func (m Mode) String() string {
	if m == FromRaw {
		return "from-raw"
	}
	return "from-prepared"
}

// FinalizeKind selects what finalize does with classified releases.
type FinalizeKind int

const (
	// ReportOnly renders the classification report and changes nothing.
	ReportOnly FinalizeKind = iota
	// DeleteInPlace removes PRUNE releases from the primary store.
	DeleteInPlace
	// CopyToTarget copies KEEP and REVIEW releases into another database.
	CopyToTarget
)

func (k FinalizeKind) String() string {
	switch k {
	case DeleteInPlace:
		return "delete-in-place"
	case CopyToTarget:
		return "copy-to-target"
	default:
		return "report-only"
	}
}

// Finalize is fixed when a run is configured. TargetURL is set only for
// CopyToTarget.
type Finalize struct {
	Kind      FinalizeKind
	TargetURL string
}

// Plan is everything that decides which steps a run has.
type Plan struct {
	Mode Mode
	// Filter is set when raw CSV output is narrowed to library artists.
	Filter bool
	// Classify is set when a library catalog is configured.
	Classify bool
	Finalize Finalize
}

// PlanFromConfig derives a Plan. Conflicting finalize settings wrap
// config.ErrInvalid.
func PlanFromConfig(cfg *config.Config) (Plan, error) {
	p := Plan{Classify: cfg.Catalog.LibraryDB != ""}
	if cfg.Pipeline.FromRaw() {
		p.Mode = FromRaw
		p.Filter = cfg.Pipeline.LibraryArtists != ""
	}

	switch cfg.Finalize.Mode {
	case config.FinalizeReport, "":
		p.Finalize = Finalize{Kind: ReportOnly}
	case config.FinalizePrune:
		if cfg.Database.TargetURL != "" {
			return Plan{}, eris.Wrap(config.ErrInvalid, "etl: prune and copy-to-target are mutually exclusive")
		}
		p.Finalize = Finalize{Kind: DeleteInPlace}
	case config.FinalizeCopy:
		if cfg.Database.TargetURL == "" {
			return Plan{}, eris.Wrap(config.ErrInvalid, "etl: copy-to-target needs a target database url")
		}
		p.Finalize = Finalize{Kind: CopyToTarget, TargetURL: cfg.Database.TargetURL}
	default:
		return Plan{}, eris.Wrapf(config.ErrInvalid, "etl: unknown finalize mode %q", cfg.Finalize.Mode)
	}
	if p.Finalize.Kind != ReportOnly && !p.Classify {
		return Plan{}, eris.Wrapf(config.ErrInvalid, "etl: %s needs a library catalog", p.Finalize.Kind)
	}
	return p, nil
}

// RawDir is where the converter writes when its output is filtered
// afterwards.
func RawDir(csvDir string) string {
	return filepath.Join(csvDir, "raw")
}
