package jellyfin

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"jelly/models"
	"jelly/utils/similarity"
)

// CategoryRule maps a folded substring of a library name to a category.
// With Word set the pattern must match whole words, so "kai" does not match "Kaiju".
type CategoryRule struct {
	Pattern  string `yaml:"pattern" json:"pattern"`
	Category string `yaml:"category" json:"category"`
	Word     bool   `yaml:"word,omitempty" json:"word,omitempty"`
}

// CategoryTable is the ordered mapping; the first matching rule wins.
type CategoryTable struct {
	Rules           []CategoryRule    `yaml:"rules" json:"rules"`
	CollectionTypes map[string]string `yaml:"collectionTypes" json:"collectionTypes"`
}

var ErrInvalidRule = errors.New("invalid category rule")

// DefaultCategoryTable is used when no rules file is configured.
// "kai" precedes the animation patterns so that "Animés Kaï" is not read as anime.
func DefaultCategoryTable() CategoryTable {
	return CategoryTable{
		Rules: []CategoryRule{
			{Pattern: "kai", Category: models.CategoryKai, Word: true},
			{Pattern: "animation", Category: models.CategoryAnimations},
			{Pattern: "dessins animes", Category: models.CategoryAnimations},
			{Pattern: "dessin anime", Category: models.CategoryAnimations},
			{Pattern: "cartoon", Category: models.CategoryAnimations},
			{Pattern: "anime", Category: models.CategoryAnime},
			{Pattern: "japanim", Category: models.CategoryAnime},
			{Pattern: "serie", Category: models.CategorySeries},
			{Pattern: "tv show", Category: models.CategorySeries},
			{Pattern: "shows", Category: models.CategorySeries},
			{Pattern: "film", Category: models.CategoryFilms},
			{Pattern: "movie", Category: models.CategoryFilms},
			{Pattern: "cinema", Category: models.CategoryFilms},
		},
		CollectionTypes: map[string]string{
			"movies":  models.CategoryFilms,
			"tvshows": models.CategorySeries,
		},
	}
}

// Validate checks that every rule names a known category and a non-empty pattern.
func (t CategoryTable) Validate() error {
	known := make(map[string]bool, len(models.Categories))
	for _, c := range models.Categories {
		known[c] = true
	}
	for i, r := range t.Rules {
		if strings.TrimSpace(r.Pattern) == "" || (r.Word && similarity.Normalize(r.Pattern) == "") {
			return fmt.Errorf("%w: rule %d has an empty pattern", ErrInvalidRule, i)
		}
		if !known[r.Category] {
			return fmt.Errorf("%w: rule %d has unknown category %q", ErrInvalidRule, i, r.Category)
		}
	}
	for ct, c := range t.CollectionTypes {
		if !known[c] {
			return fmt.Errorf("%w: collection type %q maps to unknown category %q", ErrInvalidRule, ct, c)
		}
	}
	return nil
}

// LoadCategoryTable reads a YAML rules file. A missing path returns the defaults.
func LoadCategoryTable(path string) (CategoryTable, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCategoryTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return CategoryTable{}, fmt.Errorf("read category rules: %w", err)
	}
	return ParseCategoryTable(data)
}

// ParseCategoryTable decodes YAML rules. Collection type fallbacks default to the
// built-in ones when the document omits them.
func ParseCategoryTable(data []byte) (CategoryTable, error) {
	var table CategoryTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return CategoryTable{}, fmt.Errorf("parse category rules: %w", err)
	}
	if table.CollectionTypes == nil {
		table.CollectionTypes = DefaultCategoryTable().CollectionTypes
	}
	if err := table.Validate(); err != nil {
		return CategoryTable{}, err
	}
	return table, nil
}

// Categorizer resolves library folders to categories.
type Categorizer struct {
	rules           []CategoryRule
	collectionTypes map[string]string
	logger          *slog.Logger
}

func NewCategorizer(table CategoryTable, logger *slog.Logger) *Categorizer {
	if logger == nil {
		logger = slog.Default()
	}
	rules := make([]CategoryRule, 0, len(table.Rules))
	for _, r := range table.Rules {
		pattern := similarity.Fold(r.Pattern)
		if r.Word {
			pattern = " " + similarity.Normalize(r.Pattern) + " "
		}
		rules = append(rules, CategoryRule{Pattern: pattern, Category: r.Category, Word: r.Word})
	}
	types := make(map[string]string, len(table.CollectionTypes))
	for k, v := range table.CollectionTypes {
		types[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &Categorizer{rules: rules, collectionTypes: types, logger: logger.With("module", "categorizer")}
}

// Categorize matches the folded folder name against the rules, then falls back on
// the collection type. It returns "" when nothing matches.
func (c *Categorizer) Categorize(name, collectionType string) string {
	folded := similarity.Fold(name)
	words := " " + similarity.Normalize(name) + " "
	for _, r := range c.rules {
		target := folded
		if r.Word {
			target = words
		}
		if strings.Contains(target, r.Pattern) {
			return r.Category
		}
	}
	if category, ok := c.collectionTypes[strings.ToLower(strings.TrimSpace(collectionType))]; ok {
		return category
	}
	c.logger.Debug("library left uncategorized", "name", name, "collectionType", collectionType)
	return ""
}
