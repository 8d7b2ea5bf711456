package domain

import (
	"mime"
	"strings"
)

const (
	ContentTypeText = "text/plain"
	ContentTypePDF  = "application/pdf"

	// MaxUploadBytes is the largest file accepted for extraction.
	MaxUploadBytes = 10 << 20
)

// NormalizeContentType strips parameters and case from a declared MIME type.
// Unparsable input yields "".
func NormalizeContentType(declared string) string {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return ""
	}
	return mediaType
}

// AllowedContentType reports whether the declared MIME type may be extracted.
func AllowedContentType(declared string) bool {
	switch NormalizeContentType(declared) {
	case ContentTypeText, ContentTypePDF:
		return true
	default:
		return false
	}
}
