package pricing

import "strings"

// Older catalog rows carry boutique color names; the category filter works on
// the normalized palette.
var legacyColorMap = map[string]string{
	"blush":     "pink",
	"ivory":     "white",
	"ruby":      "burgundy",
	"sage":      "light blue",
	"lavender":  "lavender",
	"peach":     "peach",
	"champagne": "yellow",
	"champange": "yellow",
}

var colorValues = map[string]struct{}{
	"pink":       {},
	"white":      {},
	"red":        {},
	"peach":      {},
	"blue":       {},
	"lavender":   {},
	"orange":     {},
	"light blue": {},
	"burgundy":   {},
	"yellow":     {},
}

// NormalizeColorValue maps a single color token to its canonical name, or ""
// when the token is unknown.
func NormalizeColorValue(value string) string {
	token := strings.ToLower(strings.TrimSpace(value))
	if token == "" {
		return ""
	}
	if mapped, ok := legacyColorMap[token]; ok {
		token = mapped
	}
	if _, ok := colorValues[token]; ok {
		return token
	}
	return ""
}

// NormalizePaletteText lowercases free-form palette text and rewrites legacy
// color names so substring matching sees canonical names only.
func NormalizePaletteText(value string) string {
	normalized := strings.ToLower(value)
	for legacy, replacement := range legacyColorMap {
		normalized = strings.ReplaceAll(normalized, legacy, replacement)
	}
	return normalized
}
