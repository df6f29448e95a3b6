package match

import (
	"github.com/wxyc/discogs-cache/internal/catalog"
	"github.com/wxyc/discogs-cache/internal/model"
)

// CompilationDetector decides whether a release must be matched per track
// rather than by its nominal credit.
type CompilationDetector struct {
	// MinDistinctTrackArtists is how many distinct track-level credits must
	// differ from the release credits.
	MinDistinctTrackArtists int
	// MinDivergentShare is the fraction of credited tracks those divergent
	// credits must cover.
	MinDivergentShare float64
}

// DefaultCompilationDetector returns the stock thresholds.
func DefaultCompilationDetector() CompilationDetector {
	return CompilationDetector{MinDistinctTrackArtists: 3, MinDivergentShare: 0.5}
}

// IsCompilation reports whether r is a compilation: either its nominal
// credit is a collection marker ("Various", "Soundtrack", ...), or its track
// credits diverge from the release credits widely enough.
func (d CompilationDetector) IsCompilation(r *model.CandidateRecord) bool {
	if catalog.IsCompilationName(r.PrimaryArtist()) {
		return true
	}

	release := make(map[string]bool, len(r.Artists))
	for _, a := range r.Artists {
		release[catalog.NormalizeName(a)] = true
	}

	credited, divergent := 0, 0
	distinct := make(map[string]bool)
	for _, t := range r.Tracks {
		if len(t.Artists) == 0 {
			continue
		}
		credited++
		diverges := true
		for _, a := range t.Artists {
			n := catalog.NormalizeName(a)
			if release[n] {
				diverges = false
				continue
			}
			if n != "" {
				distinct[n] = true
			}
		}
		if diverges {
			divergent++
		}
	}

	if credited == 0 || len(distinct) < d.MinDistinctTrackArtists {
		return false
	}
	return float64(divergent)/float64(credited) >= d.MinDivergentShare
}
