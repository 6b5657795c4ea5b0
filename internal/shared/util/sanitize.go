package util

import (
	"strings"
	"unicode"
)

const maxObjectNameLen = 120

// ObjectName turns an uploaded file name into a single safe path segment for blob keys.
// Separators, traversal dots and control characters are replaced; the extension is kept.
func ObjectName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsControl(r):
			b.WriteRune('_')
		case r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.ReplaceAll(b.String(), "..", "_")
	out = strings.Trim(out, ". _")
	if runes := []rune(out); len(runes) > maxObjectNameLen {
		out = string(runes[len(runes)-maxObjectNameLen:])
	}
	if out == "" {
		return "document"
	}
	return out
}
