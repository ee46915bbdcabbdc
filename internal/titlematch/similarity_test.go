package titlematch

import (
	"math"
	"testing"
)

func TestSimilarityBounds(t *testing.T) {
	pairs := [][2]string{
		{"Attack on Titan", "Attack on Titan Season 2"},
		{"進撃の巨人", "進撃の巨人２"},
		{"Naruto", "Boruto"},
		{"ID", "ID:INVADED"},
		{"a", "b"},
		{"", "Naruto"},
	}
	for _, pair := range pairs {
		ab := Similarity(pair[0], pair[1])
		ba := Similarity(pair[1], pair[0])
		if ab != ba {
			t.Errorf("Similarity(%q, %q) = %v but reversed = %v", pair[0], pair[1], ab, ba)
		}
		if ab < 0 || ab > 1 {
			t.Errorf("Similarity(%q, %q) = %v outside [0, 1]", pair[0], pair[1], ab)
		}
	}
}

func TestSimilarityIdentityAndEmpty(t *testing.T) {
	for _, title := range titleCorpus {
		if Fold(title) == "" {
			if got := Similarity(title, title); got != 0 {
				t.Errorf("Similarity(%q, itself) = %v, want 0 for empty key", title, got)
			}
			continue
		}
		if got := Similarity(title, title); got != 1 {
			t.Errorf("Similarity(%q, itself) = %v, want 1", title, got)
		}
	}
	if got := Similarity("NARUTO", "naruto"); got != 1 {
		t.Errorf("case folded similarity = %v, want 1", got)
	}
	if got := Similarity("a", "b"); got != 0 {
		t.Errorf("single rune similarity = %v, want 0", got)
	}
}

func TestSimilaritySequel(t *testing.T) {
	got := Similarity("進撃の巨人", "進撃の巨人２")
	if math.Abs(got-8.0/9.0) > 1e-9 {
		t.Fatalf("Similarity = %v, want 8/9", got)
	}
}

func TestContainment(t *testing.T) {
	contained, ratio := Containment("titan", "Attack on Titan")
	if !contained {
		t.Fatal("expected containment")
	}
	if math.Abs(ratio-5.0/13.0) > 1e-9 {
		t.Fatalf("ratio = %v, want 5/13", ratio)
	}
	if contained, _ := Containment("naruto", "bleach"); contained {
		t.Fatal("unexpected containment")
	}
}

func TestRankTextPrefersContainment(t *testing.T) {
	hits := RankText("titan", []string{"Titanic Story", "Attack on Titan", "Tatan"})
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	order := []int{hits[0].Index, hits[1].Index, hits[2].Index}
	if order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("order = %v, want [0 1 2]", order)
	}
	if hits[2].Contained {
		t.Fatal("expected the uncontained name last")
	}
	if hits[2].Dice <= hits[0].Dice {
		t.Fatalf("expected uncontained hit to keep its higher dice, got %v <= %v", hits[2].Dice, hits[0].Dice)
	}
}
