package catalog

import (
	"sort"
	"strings"
	"unicode"
)

// Trigrams returns the sorted, de-duplicated trigram set of s, following
// pg_trgm: each alphanumeric word is padded with two leading spaces and one
// trailing space before 3-rune windows are taken.
func Trigrams(s string) []string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	for _, w := range words {
		padded := []rune("  " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			seen[string(padded[i:i+3])] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Similarity is the trigram Jaccard similarity of a and b in [0,1].
func Similarity(a, b string) float64 {
	return gramSimilarity(Trigrams(a), Trigrams(b))
}

// gramSimilarity compares two sorted trigram sets.
func gramSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			shared++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

// gramIndex is an inverted trigram index over distinct keys.
type gramIndex struct {
	keys     []string
	sizes    []int
	byKey    map[string]int
	postings map[string][]int
}

func newGramIndex() *gramIndex {
	return &gramIndex{
		byKey:    make(map[string]int),
		postings: make(map[string][]int),
	}
}

// add registers key and returns its document id. Keys are de-duplicated.
func (g *gramIndex) add(key string) int {
	if id, ok := g.byKey[key]; ok {
		return id
	}
	id := len(g.keys)
	grams := Trigrams(key)
	g.keys = append(g.keys, key)
	g.sizes = append(g.sizes, len(grams))
	g.byKey[key] = id
	for _, gr := range grams {
		g.postings[gr] = append(g.postings[gr], id)
	}
	return id
}

type gramHit struct {
	doc int
	sim float64
}

// search returns every document whose similarity to the query grams is at
// least floor.
func (g *gramIndex) search(grams []string, floor float64) []gramHit {
	if len(grams) == 0 {
		return nil
	}
	shared := make(map[int]int)
	for _, gr := range grams {
		for _, doc := range g.postings[gr] {
			shared[doc]++
		}
	}
	hits := make([]gramHit, 0, len(shared))
	for doc, n := range shared {
		sim := float64(n) / float64(len(grams)+g.sizes[doc]-n)
		if sim >= floor {
			hits = append(hits, gramHit{doc: doc, sim: sim})
		}
	}
	return hits
}
