// Package catalog builds the read-only, in-memory index of the station
// library that release classification queries against.
package catalog

import (
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/wxyc/discogs-cache/internal/model"
)

// DefaultMaxResults bounds query results when Options leaves it unset.
const DefaultMaxResults = 10

// nameFloor is the minimum name similarity a candidate needs before its
// titles are scored. sqrt(0.3) stays below any usable review threshold.
const nameFloor = 0.3

// Via records which index produced a match.
type Via string

const (
	ViaRelease Via = "release"
	ViaTrack   Via = "track"
	ViaTitle   Via = "title"
)

// Match is one scored catalog candidate.
type Match struct {
	EntryID int64
	Score   float64
	Via     Via
}

// Options configures Build.
type Options struct {
	MaxResults int
}

type titled struct {
	entryID int64
	grams   []string
}

type pairKey struct{ name, title string }

// Index is built once per run and never mutated afterwards, so any number
// of goroutines may query it concurrently.
type Index struct {
	maxResults int
	size       int

	exact map[pairKey][]int64

	// Entry names and aliases; each document lists the entries filed under it.
	names    *gramIndex
	nameRefs [][]titled

	// Titles of entries filed under a compilation marker.
	titles    *gramIndex
	titleRefs [][]int64

	// Catalog track credits.
	tracks    *gramIndex
	trackRefs [][]titled
}

// Build validates entries and constructs the index. A zero id, a duplicate
// id, a blank name or a blank title fails the whole build with ErrIndexBuild.
func Build(entries []model.CatalogEntry, opts Options) (*Index, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	idx := &Index{
		maxResults: maxResults,
		exact:      make(map[pairKey][]int64),
		names:      newGramIndex(),
		titles:     newGramIndex(),
		tracks:     newGramIndex(),
	}

	// Sorted ids keep every posting list in ascending id order.
	sorted := make([]model.CatalogEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	seen := make(map[int64]bool, len(sorted))
	for _, e := range sorted {
		if e.ID == 0 {
			return nil, eris.Wrapf(ErrIndexBuild, "catalog: entry %q/%q has no id", e.Name, e.Title)
		}
		if seen[e.ID] {
			return nil, eris.Wrapf(ErrIndexBuild, "catalog: duplicate entry id %d", e.ID)
		}
		seen[e.ID] = true

		title := NormalizeTitle(e.Title)
		if title == "" {
			return nil, eris.Wrapf(ErrIndexBuild, "catalog: entry %d has an empty title", e.ID)
		}
		if strings.TrimSpace(e.Name) == "" {
			return nil, eris.Wrapf(ErrIndexBuild, "catalog: entry %d has an empty name", e.ID)
		}

		idx.size++
		titleGrams := Trigrams(title)

		if IsCompilationName(e.Name) {
			doc := idx.titles.add(title)
			idx.titleRefs = growInt64(idx.titleRefs, doc)
			idx.titleRefs[doc] = append(idx.titleRefs[doc], e.ID)
		} else {
			for _, n := range entryNames(e) {
				key := pairKey{name: n, title: title}
				idx.exact[key] = append(idx.exact[key], e.ID)

				doc := idx.names.add(n)
				idx.nameRefs = growTitled(idx.nameRefs, doc)
				idx.nameRefs[doc] = append(idx.nameRefs[doc], titled{entryID: e.ID, grams: titleGrams})
			}
		}

		for _, tc := range e.Tracks {
			name, ttitle := NormalizeName(tc.Name), NormalizeTitle(tc.Title)
			if name == "" || ttitle == "" {
				continue
			}
			doc := idx.tracks.add(name)
			idx.trackRefs = growTitled(idx.trackRefs, doc)
			idx.trackRefs[doc] = append(idx.trackRefs[doc], titled{entryID: e.ID, grams: Trigrams(ttitle)})
		}
	}

	return idx, nil
}

// Len returns the number of indexed entries.
func (idx *Index) Len() int { return idx.size }

// Query scores (name, title) against catalog entry names, aliases and titles.
func (idx *Index) Query(name, title string) []Match {
	best := make(map[int64]float64)
	idx.scorePairs(NormalizeName(name), NormalizeTitle(title), best)
	return idx.rank(best, ViaRelease)
}

// QueryTrack scores one track credit. Catalog track credits are searched
// first, then entry pairs, since a track may exist in the library as a single.
func (idx *Index) QueryTrack(name, title string) []Match {
	n, t := NormalizeName(name), NormalizeTitle(title)
	best := make(map[int64]float64)
	if n != "" && t != "" {
		tgrams := Trigrams(t)
		for _, h := range idx.tracks.search(Trigrams(n), nameFloor) {
			for _, ref := range idx.trackRefs[h.doc] {
				keepBest(best, ref.entryID, pairScore(h.sim, gramSimilarity(tgrams, ref.grams)))
			}
		}
	}
	idx.scorePairs(n, t, best)
	return idx.rank(best, ViaTrack)
}

// QueryTitle scores a title against the titles of compilation entries.
func (idx *Index) QueryTitle(title string) []Match {
	grams := Trigrams(NormalizeTitle(title))
	best := make(map[int64]float64)
	for _, h := range idx.titles.search(grams, 0) {
		for _, id := range idx.titleRefs[h.doc] {
			keepBest(best, id, h.sim)
		}
	}
	return idx.rank(best, ViaTitle)
}

func (idx *Index) scorePairs(name, title string, best map[int64]float64) {
	if name == "" || title == "" {
		return
	}
	for _, id := range idx.exact[pairKey{name: name, title: title}] {
		best[id] = 1.0
	}
	tgrams := Trigrams(title)
	for _, h := range idx.names.search(Trigrams(name), nameFloor) {
		for _, ref := range idx.nameRefs[h.doc] {
			keepBest(best, ref.entryID, pairScore(h.sim, gramSimilarity(tgrams, ref.grams)))
		}
	}
}

// rank orders matches by score descending, then entry id ascending, and
// truncates to the configured bound.
func (idx *Index) rank(best map[int64]float64, via Via) []Match {
	out := make([]Match, 0, len(best))
	for id, s := range best {
		if s > 0 {
			out = append(out, Match{EntryID: id, Score: s, Via: via})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].EntryID < out[j].EntryID
	})
	if len(out) > idx.maxResults {
		out = out[:idx.maxResults]
	}
	return out
}

// pairScore is the geometric mean of name and title similarity.
func pairScore(nameSim, titleSim float64) float64 {
	return math.Sqrt(nameSim * titleSim)
}

func keepBest(best map[int64]float64, id int64, s float64) {
	if s > best[id] {
		best[id] = s
	}
}

func entryNames(e model.CatalogEntry) []string {
	out := make([]string, 0, 1+len(e.Aliases))
	seen := make(map[string]bool)
	for _, raw := range append([]string{e.Name}, e.Aliases...) {
		n := NormalizeName(raw)
		if n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func growTitled(s [][]titled, doc int) [][]titled {
	for len(s) <= doc {
		s = append(s, nil)
	}
	return s
}

func growInt64(s [][]int64, doc int) [][]int64 {
	for len(s) <= doc {
		s = append(s, nil)
	}
	return s
}
