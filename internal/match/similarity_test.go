package match

import (
	"math"
	"testing"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"autosave", "autosav", 1},
		{"sync", "sink", 2},
	}

	for _, tt := range tests {
		if got := Levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("Levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestLevenshtein_Unicode(t *testing.T) {
	// Rune-based, not byte-based
	if got := Levenshtein("café", "cafe"); got != 1 {
		t.Errorf("Levenshtein(café, cafe) = %d, want 1", got)
	}
}

func TestLevenshteinSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1.0},
		{"abc", "abc", 1.0},
		{"abc", "", 0.0},
		{"autosave", "autosav", 1.0 - 1.0/8.0},
	}

	for _, tt := range tests {
		got := LevenshteinSimilarity(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("LevenshteinSimilarity(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestJaroWinkler(t *testing.T) {
	// Identical strings score 1.0
	if got := JaroWinkler("cloudsync", "cloudsync"); got != 1.0 {
		t.Errorf("identical strings = %f, want 1.0", got)
	}

	// Disjoint strings score 0.0
	if got := JaroWinkler("abc", "xyz"); got != 0.0 {
		t.Errorf("disjoint strings = %f, want 0.0", got)
	}

	// A shared prefix boosts the score over plain Jaro
	plain := jaro("autosave", "autosafe")
	boosted := JaroWinkler("autosave", "autosafe")
	if boosted <= plain {
		t.Errorf("prefix boost missing: jaro=%f jaro-winkler=%f", plain, boosted)
	}

	// Scores stay in [0,1]
	pairs := [][2]string{
		{"a", "ab"}, {"autosave", "autsave"}, {"darkmode", "dark"}, {"x", ""},
	}
	for _, p := range pairs {
		got := JaroWinkler(p[0], p[1])
		if got < 0 || got > 1 {
			t.Errorf("JaroWinkler(%q, %q) = %f, out of range", p[0], p[1], got)
		}
	}
}

func TestJaroWinkler_TypoCloserThanStranger(t *testing.T) {
	typo := JaroWinkler("autosave", "autsave")
	stranger := JaroWinkler("autosave", "darkmode")
	if typo <= stranger {
		t.Errorf("typo %f should score above stranger %f", typo, stranger)
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"kitten", "sitting"},
		{"autosave", "autosaev"},
		{"cloud sync", "clodu sync"},
		{"café", "cafe"},
		{"", "autosave"},
		{"dark", "darkmode"},
	}

	for _, p := range pairs {
		a, b := p[0], p[1]
		if d1, d2 := Levenshtein(a, b), Levenshtein(b, a); d1 != d2 {
			t.Errorf("Levenshtein(%q, %q) = %d, reversed = %d", a, b, d1, d2)
		}
		if s1, s2 := LevenshteinSimilarity(a, b), LevenshteinSimilarity(b, a); s1 != s2 {
			t.Errorf("LevenshteinSimilarity(%q, %q) = %f, reversed = %f", a, b, s1, s2)
		}
		if s1, s2 := JaroWinkler(a, b), JaroWinkler(b, a); s1 != s2 {
			t.Errorf("JaroWinkler(%q, %q) = %f, reversed = %f", a, b, s1, s2)
		}
	}
}
