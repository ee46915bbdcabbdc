package titlematch

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// maxPasses bounds the fixpoint loop in Normalize. After the first pass every
// change is a deletion, so real titles settle in two or three passes.
const maxPasses = 8

var bracketPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\([^()]*\)`),
	regexp.MustCompile(`\[[^\[\]]*\]`),
	regexp.MustCompile(`\{[^{}]*\}`),
	regexp.MustCompile(`【[^【】]*】`),
	regexp.MustCompile(`〔[^〔〕]*〕`),
	regexp.MustCompile(`〈[^〈〉]*〉`),
	regexp.MustCompile(`《[^《》]*》`),
}

var seasonPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(the\s+)?final\s+season\b`),
	regexp.MustCompile(`(?i)\bseason\s*\d+\b`),
	regexp.MustCompile(`(?i)\b\d+\s*(st|nd|rd|th)\s+season\b`),
	regexp.MustCompile(`(?i)\b(part|cour)\s*\d+\b`),
	regexp.MustCompile(`(?i)\bpart\s+(ii|iii|iv|v|vi)\b`),
	regexp.MustCompile(`(?i)\b(the\s+)?movie\b`),
	regexp.MustCompile(`(?i)\b(ova|oad|ona)\b`),
	regexp.MustCompile(`(?i)\bspecials?\b`),
	regexp.MustCompile(`(?i)\bs\d{1,2}\b`),
	regexp.MustCompile(`第[0-9一二三四五六七八九十]+(期|シ[-ー]ズン|ク[-ー]ル|部|章)`),
	regexp.MustCompile(`(ファイナルシ[-ー]ズン|劇場版)`),
}

var trailingRoman = regexp.MustCompile(`(?i)\s+(ii|iii|iv|v|vi|vii|viii|ix|x)$`)

var dashFolder = strings.NewReplacer(
	"‐", "-", // hyphen
	"‑", "-", // non-breaking hyphen
	"‒", "-", // figure dash
	"–", "-", // en dash
	"—", "-", // em dash
	"―", "-", // horizontal bar
	"−", "-", // minus sign
	"－", "-", // full-width hyphen-minus
	"～", "-", // full-width tilde
	"〜", "-", // wave dash
	"ー", "-", // katakana long vowel mark
)

var repeatedDash = regexp.MustCompile(`-{2,}`)

// Normalize canonicalizes a title into a grouping key. Bracketed annotations,
// season, cour, movie, OVA and special markers, and trailing Roman numerals
// are removed, so every season of a series shares one key. The result is
// idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(title string) string {
	current := title
	for range maxPasses {
		next := normalizeOnce(current)
		if next == current {
			return next
		}
		current = next
	}
	return current
}

func normalizeOnce(title string) string {
	s := foldWidth(title)
	s = StripBrackets(s)
	s = dashFolder.Replace(s)
	s = stripSeasonMarkers(s)
	s = strings.TrimSpace(s)
	s = trailingRoman.ReplaceAllString(s, "")
	return compact(cases.Fold().String(s))
}

// Fold applies only the character rules of Normalize: width folding, dash
// folding, case folding, and removal of whitespace and punctuation. Season
// markers and bracket contents are kept, so different seasons stay distinct.
func Fold(s string) string {
	s = foldWidth(s)
	s = dashFolder.Replace(s)
	return compact(cases.Fold().String(s))
}

// StripBrackets removes bracketed and parenthetical annotations, innermost
// first, and trims the result.
func StripBrackets(s string) string {
	for range maxPasses {
		next := s
		for _, pattern := range bracketPatterns {
			next = pattern.ReplaceAllString(next, " ")
		}
		if next == s {
			break
		}
		s = next
	}
	return collapseSpaces(s)
}

// StripSeasonMarkers removes season, cour, movie and special markers and a
// trailing Roman numeral, leaving display characters otherwise untouched.
func StripSeasonMarkers(s string) string {
	s = stripSeasonMarkers(foldWidth(s))
	return collapseSpaces(trailingRoman.ReplaceAllString(strings.TrimSpace(s), ""))
}

func stripSeasonMarkers(s string) string {
	for _, pattern := range seasonPatterns {
		s = pattern.ReplaceAllString(s, " ")
	}
	return s
}

func foldWidth(s string) string {
	return width.Fold.String(norm.NFKC.String(s))
}

// compact drops whitespace, punctuation and symbols except the canonical dash,
// then collapses dash runs and trims dashes from the ends.
func compact(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r), unicode.IsPunct(r), unicode.IsSymbol(r), unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
		}
	}
	out := repeatedDash.ReplaceAllString(b.String(), "-")
	return strings.Trim(out, "-")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
