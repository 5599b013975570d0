package constants

import "strings"

// DefaultMaxUploadBytes is the upload size ceiling when none is configured.
const DefaultMaxUploadBytes int64 = 10 * 1024 * 1024

// ContentTypePDF is the only document type the conversion pipeline accepts.
const ContentTypePDF = "application/pdf"

// AllowedContentTypes holds the default allowed declared types for uploads.
var AllowedContentTypes = map[string]struct{}{
	ContentTypePDF: {},
}

// AllowedExtensions holds the default allowed file extensions for directory auto-submit.
var AllowedExtensions = map[string]struct{}{
	"pdf": {},
}

// ContentTypeForExt returns the declared type for a known extension, or "".
func ContentTypeForExt(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return ContentTypePDF
	default:
		return ""
	}
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// NormalizeContentType drops parameters (";charset=...") and lowercases.
func NormalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
