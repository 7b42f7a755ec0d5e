package constants

import "strings"

// AllowedExtensions holds the file extensions accepted for upload and inbox ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsAllowedExt reports whether a file extension (with or without dot) is accepted.
func IsAllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// Artifact layout under the data directory.
const (
	UploadsDir = "uploads"
	PagesDir   = "pages"
	JSONDir    = "json"
	TextDir    = "text"
)

// TextPreviewLen is the number of characters of page text mirrored into pages.extracted_text_preview.
const TextPreviewLen = 500

// EventPreviewLen is the number of characters of page text carried by page_done events.
const EventPreviewLen = 200
