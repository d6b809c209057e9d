package jellyfin_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jelly/models"
	"jelly/services/jellyfin"
)

func newCategorizer(t *testing.T) *jellyfin.Categorizer {
	t.Helper()
	return jellyfin.NewCategorizer(jellyfin.DefaultCategoryTable(), slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestCategorizeDefaultTable(t *testing.T) {
	c := newCategorizer(t)

	cases := []struct {
		name, collectionType, want string
	}{
		{"Animés Kaï", "tvshows", models.CategoryKai},
		{"Dragon Ball Kai (VF)", "tvshows", models.CategoryKai},
		{"Films Kaiju", "movies", models.CategoryFilms},
		{"Kaiser Collection", "movies", models.CategoryFilms},
		{"Mikaido", "tvshows", models.CategorySeries},
		{"Films", "movies", models.CategoryFilms},
		{"Bibliothèque perso", "tvshows", models.CategorySeries},
		{"Bibliothèque perso", "movies", models.CategoryFilms},
		{"Dessins Animés", "", models.CategoryAnimations},
		{"Animations", "movies", models.CategoryAnimations},
		{"ANIMÉS", "tvshows", models.CategoryAnime},
		{"Séries TV", "", models.CategorySeries},
		{"Movies 4K", "", models.CategoryFilms},
		{"Music", "music", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.Categorize(tc.name, tc.collectionType), "name=%q collectionType=%q", tc.name, tc.collectionType)
	}
}

func TestParseCategoryTableOverridesOrder(t *testing.T) {
	table, err := jellyfin.ParseCategoryTable([]byte(`
rules:
  - pattern: "Animé"
    category: anime
  - pattern: kai
    category: kai
`))
	require.NoError(t, err)

	c := jellyfin.NewCategorizer(table, nil)
	assert.Equal(t, models.CategoryAnime, c.Categorize("Animés Kaï", ""))
	// Collection type fallbacks are kept when the file omits them.
	assert.Equal(t, models.CategorySeries, c.Categorize("Misc", "tvshows"))
}

func TestParseCategoryTableWordRules(t *testing.T) {
	table, err := jellyfin.ParseCategoryTable([]byte(`
rules:
  - pattern: "4K"
    category: films
    word: true
`))
	require.NoError(t, err)

	c := jellyfin.NewCategorizer(table, nil)
	assert.Equal(t, models.CategoryFilms, c.Categorize("UHD - 4K", ""))
	assert.Equal(t, "", c.Categorize("Archive 4Kids", ""))
}

func TestParseCategoryTableRejectsUnknownCategory(t *testing.T) {
	_, err := jellyfin.ParseCategoryTable([]byte(`
rules:
  - pattern: docs
    category: documentaries
`))
	assert.True(t, errors.Is(err, jellyfin.ErrInvalidRule))
}

func TestLoadCategoryTableFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - pattern: cinema\n    category: films\ncollectionTypes:\n  homevideos: films\n"), 0o644))

	table, err := jellyfin.LoadCategoryTable(path)
	require.NoError(t, err)
	c := jellyfin.NewCategorizer(table, nil)
	assert.Equal(t, models.CategoryFilms, c.Categorize("Cinéma", ""))
	assert.Equal(t, models.CategoryFilms, c.Categorize("Vacances", "homevideos"))
	assert.Equal(t, "", c.Categorize("Vacances", "tvshows"))

	defaults, err := jellyfin.LoadCategoryTable("")
	require.NoError(t, err)
	assert.Equal(t, jellyfin.DefaultCategoryTable(), defaults)
}
