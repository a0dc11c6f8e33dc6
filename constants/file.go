package constants

import "strings"

// Source formats understood by the text extractor.
const (
	PDF   = "PDF"
	DOCX  = "DOCX"
	IMAGE = "IMAGE"
)

// FileTypes holds the formats a cv_analyses row can be extracted as.
var FileTypes = []string{PDF, DOCX, IMAGE}

// AllowedExtensions holds the file extensions accepted for CV uploads.
var AllowedExtensions = map[string]string{
	"pdf":  PDF,
	"docx": DOCX,
	"png":  IMAGE,
	"jpg":  IMAGE,
	"jpeg": IMAGE,
	"bmp":  IMAGE,
	"webp": IMAGE,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat returns the extraction format for ext, or "" when unsupported.
func MapExtToFormat(ext string) string {
	return AllowedExtensions[NormalizeExt(ext)]
}
