package engine

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// PlaceholderName is sent when nothing usable is left of the original name.
const PlaceholderName = "Uploaded-Document"

var (
	disallowedNameChars = regexp.MustCompile(`[^a-zA-Z0-9 \-()\[\]]`)
	whitespaceRun       = regexp.MustCompile(`\s+`)
	// đ/Đ carry no combining mark, so decomposition alone leaves them in place.
	strokeLetters = strings.NewReplacer("đ", "d", "Đ", "D")
)

// SanitizeName prepares a display name for the engine: diacritics and the extension are
// removed, characters outside [A-Za-z0-9 -()[]] become spaces and whitespace is collapsed.
func SanitizeName(name string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		stripped = name
	}
	stripped = strokeLetters.Replace(stripped)

	if i := strings.LastIndex(stripped, "."); i >= 0 {
		stripped = stripped[:i]
	}
	stripped = disallowedNameChars.ReplaceAllString(stripped, " ")
	stripped = strings.TrimSpace(whitespaceRun.ReplaceAllString(stripped, " "))
	if stripped == "" {
		return PlaceholderName
	}
	return stripped
}
