package catalog

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// Discogs disambiguation: "Nirvana (2)".
	discogsSuffixRe = regexp.MustCompile(`\s*\(\d+\)\s*$`)
	// Library disambiguation: "Nirvana [UK]".
	librarySuffixRe = regexp.MustCompile(`\s*\[.*?\]\s*$`)
	ampersandRe     = regexp.MustCompile(`\s*&\s*`)
	punctRe         = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	multiSpaceRe    = regexp.MustCompile(`\s{2,}`)

	titleSuffixRe = regexp.MustCompile(`(?i)\s*(?:` +
		`\d*"` +
		`|\(\d+\)` +
		`|\(\d+\s*(?:cd|lp)\s*set\)` +
		`|\((?:reissue|deluxe\s+edition|expanded\s+edition|anniversary\s+edition` +
		`|special\s+edition|limited\s+edition|bonus\s+tracks|ep|lp)\)` +
		`|\(\d+lp\)` +
		`)\s*$`)
)

// Articles Discogs moves behind a comma: "Beatles, The".
var commaArticles = []string{"the", "los", "las", "les", "la", "le", "el", "die", "der", "das"}

// Names that mark a release or catalog entry as a multi-artist collection.
var compilationMarkers = []string{"various", "soundtrack", "compilation", "v/a", "v.a."}

// StripAccents removes combining marks after canonical decomposition, so
// "Björk" becomes "Bjork".
func StripAccents(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeName folds an artist credit for comparison:
//  1. lowercase and strip accents
//  2. drop "(2)" and "[...]" disambiguation suffixes
//  3. flip comma articles ("beatles, the" -> "the beatles")
//  4. "&" becomes "and", apostrophes vanish, other punctuation becomes space
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	name = StripAccents(name)
	name = discogsSuffixRe.ReplaceAllString(name, "")
	name = librarySuffixRe.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)

	for _, article := range commaArticles {
		if suffix := ", " + article; strings.HasSuffix(name, suffix) {
			name = article + " " + strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = ampersandRe.ReplaceAllString(name, " and ")
	return squash(name)
}

// NormalizeTitle folds a release or track title, repeatedly stripping
// trailing format markers such as `12"`, "(2 cd set)" or "(reissue)".
func NormalizeTitle(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	if title == "" {
		return ""
	}
	title = StripAccents(title)
	for {
		stripped := strings.TrimSpace(titleSuffixRe.ReplaceAllString(title, ""))
		if stripped == title {
			break
		}
		title = stripped
	}
	title = ampersandRe.ReplaceAllString(title, " and ")
	return squash(title)
}

func squash(s string) string {
	s = strings.NewReplacer("'", "", "’", "").Replace(s)
	s = punctRe.ReplaceAllString(s, " ")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// IsCompilationName reports whether a credited name is a collection marker
// such as "Various Artists" or "Original Soundtrack".
func IsCompilationName(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, m := range compilationMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
