package constants

import "strings"

// SourceKind is the physical form of a document's bytes.
type SourceKind string

const (
	SourcePDF    SourceKind = "pdf"
	SourceImages SourceKind = "images" // a directory of page images
)

// AllowedExtensions holds the file extensions accepted for ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf": {},
}

// ImageExtensions are accepted as pages inside an image-set directory.
var ImageExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"tif":  {},
	"tiff": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func IsImageExt(ext string) bool {
	_, ok := ImageExtensions[NormalizeExt(ext)]
	return ok
}

// ImageMIMEType maps an image extension to its MIME type.
func ImageMIMEType(ext string) string {
	switch NormalizeExt(ext) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "tif", "tiff":
		return "image/tiff"
	}
	return "application/octet-stream"
}
