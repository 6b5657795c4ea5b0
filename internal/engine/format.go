package engine

import (
	"path/filepath"
	"strings"
)

// DetectFormat derives the format tag from the declared content type. A recognised file
// extension wins over the content type, since clients often mislabel office documents.
func DetectFormat(contentType, fileName string) Format {
	format := FormatTXT
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "pdf"):
		format = FormatPDF
	case strings.Contains(ct, "word"), strings.Contains(ct, "officedocument"), strings.Contains(ct, "msword"):
		format = FormatDOCX
	case strings.Contains(ct, "text"), strings.Contains(ct, "plain"):
		format = FormatTXT
	}

	switch strings.ToLower(filepath.Ext(strings.TrimSpace(fileName))) {
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDOCX
	case ".doc":
		return FormatDOC
	case ".txt":
		return FormatTXT
	}
	return format
}
