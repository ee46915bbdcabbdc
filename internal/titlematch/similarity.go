package titlematch

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"
)

// Similarity returns the Dice coefficient of the rune bigram sets of the
// folded inputs, in [0, 1]. Identical non-empty folded strings score 1.
// Folded strings shorter than two runes have no bigrams and score 0 against
// anything else. The function is symmetric.
func Similarity(a, b string) float64 {
	return foldedSimilarity(Fold(a), Fold(b))
}

func foldedSimilarity(fa, fb string) float64 {
	if fa == "" || fb == "" {
		return 0
	}
	if fa == fb {
		return 1
	}
	ba, bb := bigrams(fa), bigrams(fb)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	shared := 0
	for gram := range ba {
		if _, ok := bb[gram]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(ba)+len(bb))
}

func bigrams(s string) map[string]struct{} {
	runes := []rune(s)
	if len(runes) < 2 {
		return nil
	}
	set := make(map[string]struct{}, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = struct{}{}
	}
	return set
}

// Containment reports whether one folded string contains the other, and the
// length ratio of the shorter to the longer when it does. It is a weaker
// signal than Similarity and is only used for text search.
func Containment(a, b string) (bool, float64) {
	return foldedContainment(Fold(a), Fold(b))
}

func foldedContainment(fa, fb string) (bool, float64) {
	if fa == "" || fb == "" {
		return false, 0
	}
	short, long := fa, fb
	if utf8.RuneCountInString(short) > utf8.RuneCountInString(long) {
		short, long = long, short
	}
	if !strings.Contains(long, short) {
		return false, 0
	}
	return true, float64(utf8.RuneCountInString(short)) / float64(utf8.RuneCountInString(long))
}

// TextHit is one name scored on the text-search track.
type TextHit struct {
	Index            int
	Name             string
	Dice             float64
	Contained        bool
	ContainmentRatio float64
}

// RankText scores names against a free-text query for consumer search.
// Contained hits rank first, then by Dice, then by containment ratio; the two
// signals are kept side by side and never averaged. Ties keep input order.
func RankText(query string, names []string) []TextHit {
	fq := Fold(query)
	hits := make([]TextHit, 0, len(names))
	for i, name := range names {
		fn := Fold(name)
		contained, ratio := foldedContainment(fq, fn)
		hits = append(hits, TextHit{
			Index:            i,
			Name:             name,
			Dice:             foldedSimilarity(fq, fn),
			Contained:        contained,
			ContainmentRatio: ratio,
		})
	}
	slices.SortStableFunc(hits, func(a, b TextHit) int {
		if a.Contained != b.Contained {
			if a.Contained {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.Dice, a.Dice); c != 0 {
			return c
		}
		return cmp.Compare(b.ContainmentRatio, a.ContainmentRatio)
	})
	return hits
}
