package hierarchy

import (
	"strings"
	"unicode"
)

// DefaultCategory is used for empty or unrecognised category names.
const DefaultCategory = "General News"

// Category is one entry of the fixed category catalog.
type Category struct {
	Name        string
	Glyph       string
	Description string
	aliases     []string
}

// DisplayTitle is the page title used for the category node.
func (c Category) DisplayTitle() string {
	return c.Glyph + " " + c.Name
}

var catalog = []Category{
	{
		Name:        "Technology & AI",
		Glyph:       "🤖",
		Description: "Software, hardware, artificial intelligence, startups and the tech industry",
		aliases:     []string{"technology", "tech", "ai"},
	},
	{
		Name:        "Sports",
		Glyph:       "⚽",
		Description: "Games, athletes, teams, tournaments and sports business",
		aliases:     []string{"sport"},
	},
	{
		Name:        "Business & Finance",
		Glyph:       "💼",
		Description: "Companies, markets, economy, investing and personal finance",
		aliases:     []string{"business", "finance"},
	},
	{
		Name:        "Health & Medicine",
		Glyph:       "🏥",
		Description: "Medicine, public health, fitness, nutrition and wellbeing",
		aliases:     []string{"health", "medicine"},
	},
	{
		Name:        "Science",
		Glyph:       "🔬",
		Description: "Research, discoveries, space, climate and the natural world",
	},
	{
		Name:        "Politics",
		Glyph:       "🏛️",
		Description: "Government, elections, policy and international relations",
	},
	{
		Name:        "Entertainment",
		Glyph:       "🎬",
		Description: "Film, television, music, games, books and celebrity news",
	},
	{
		Name:        "Education",
		Glyph:       "📚",
		Description: "Schools, universities, learning, tutorials and study material",
	},
	{
		Name:        "Travel & Lifestyle",
		Glyph:       "✈️",
		Description: "Travel, food, culture, home, fashion and everyday life",
		aliases:     []string{"travel", "lifestyle"},
	},
	{
		Name:        DefaultCategory,
		Glyph:       "📰",
		Description: "Anything that does not fit another category",
		aliases:     []string{"general", "news"},
	},
}

// Categories returns the catalog in display order.
func Categories() []Category {
	out := make([]Category, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a category by canonical name or short label, ignoring case
// and surrounding space.
func Lookup(name string) (Category, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Category{}, false
	}
	for _, c := range catalog {
		if strings.ToLower(c.Name) == key {
			return c, true
		}
		for _, a := range c.aliases {
			if a == key {
				return c, true
			}
		}
	}
	return Category{}, false
}

// Normalize is Lookup with the General News fallback.
func Normalize(name string) Category {
	if c, ok := Lookup(name); ok {
		return c
	}
	c, _ := Lookup(DefaultCategory)
	return c
}

// StripGlyph removes a leading emoji token ("📂 Sports" → "Sports").
// Titles whose first word contains a letter or digit are returned as is.
func StripGlyph(title string) string {
	title = strings.TrimSpace(title)
	first, rest, found := strings.Cut(title, " ")
	if !found {
		return title
	}
	for _, r := range first {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return title
		}
	}
	return strings.TrimSpace(rest)
}
