package similarity

import "testing"

func TestFoldStripsAccents(t *testing.T) {
	tests := map[string]string{
		"Animés Kaï":     "animes kai",
		"  Séries TV ":   "series tv",
		"Dessins Animés": "dessins animes",
		"FILMS":          "films",
		"Crème brûlée 🍮": "creme brulee 🍮",
	}
	for in, want := range tests {
		if got := Fold(in); got != want {
			t.Fatalf("Fold(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("Me, MYSELF & I"); got != "me myself and i" {
		t.Fatalf("unexpected normalization %q", got)
	}
	if got := Normalize("Amélie: Le.Fabuleux_Destin"); got != "amelie le fabuleux destin" {
		t.Fatalf("unexpected normalization %q", got)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		minScore float64
		maxScore float64
	}{
		{"identical", "The Matrix", "The Matrix", 1, 1},
		{"case and accents", "Amélie", "amelie", 1, 1},
		{"dots vs spaces", "The.Matrix", "The Matrix", 1, 1},
		{"possessive prefix", "Will Vinton's Claymation Christmas", "Claymation Christmas", 0.96, 1},
		{"missing article", "The Dark Knight", "Dark Knight", 0.7, 1},
		{"unrelated", "The Matrix", "Inception", 0, 0.5},
		{"empty", "", "Inception", 0, 0},
	}
	for _, tc := range tests {
		got := Similarity(tc.a, tc.b)
		if got < tc.minScore || got > tc.maxScore {
			t.Fatalf("%s: Similarity(%q, %q) = %v, want [%v, %v]", tc.name, tc.a, tc.b, got, tc.minScore, tc.maxScore)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	if d := levenshtein([]rune("kitten"), []rune("sitting")); d != 3 {
		t.Fatalf("expected distance 3, got %d", d)
	}
	if d := levenshtein(nil, []rune("abc")); d != 3 {
		t.Fatalf("expected distance 3, got %d", d)
	}
}
