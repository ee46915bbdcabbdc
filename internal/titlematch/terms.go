package titlematch

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var separatorPattern = regexp.MustCompile(`\s*[:：/／|｜～〜]\s*|\s+[-–—]\s+`)

// QueryTerms lists the search terms tried for a title, most literal first:
// the title itself, the title without bracketed annotations, that title
// without season markers, and each separator-delimited part. Terms that fold
// to the same key appear once.
func QueryTerms(title string) []string {
	title = collapseSpaces(title)
	if title == "" {
		return nil
	}
	stripped := StripBrackets(title)
	candidates := []string{title, stripped, StripSeasonMarkers(stripped)}
	for _, part := range separatorPattern.Split(stripped, -1) {
		candidates = append(candidates, strings.TrimSpace(part))
	}

	seen := make(map[string]struct{}, len(candidates))
	terms := make([]string, 0, len(candidates))
	for _, term := range candidates {
		key := Fold(term)
		if utf8.RuneCountInString(key) < 2 {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		terms = append(terms, term)
	}
	return terms
}
