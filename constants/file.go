package constants

import "strings"

// Format is the detected input kind of a source document.
type Format string

const (
	FormatPDF   Format = "PDF"
	FormatImage Format = "IMAGE"
)

// AllowedExtensions holds the file extensions picked up by discovery.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// FormatForExt maps an extension to its Format.
func FormatForExt(ext string) (Format, bool) {
	switch NormalizeExt(ext) {
	case "pdf":
		return FormatPDF, true
	case "jpg", "jpeg", "png":
		return FormatImage, true
	}
	return "", false
}

// MimeForExt returns the image MIME type sent to vision backends.
func MimeForExt(ext string) string {
	switch NormalizeExt(ext) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "pdf":
		return "application/pdf"
	}
	return "application/octet-stream"
}
