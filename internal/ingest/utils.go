package ingest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/witness-arbiter/constants"
)

// AllowedExt checks if a file extension is an accepted document type.
func AllowedExt(ext string) bool {
	ext = constants.NormalizeExt(ext)
	_, ok := constants.AllowedExtensions[ext]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}

// IsImageSet reports whether dir directly holds at least one page image.
func IsImageSet(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && !IsHidden(e.Name()) && constants.IsImageExt(filepath.Ext(e.Name())) {
			return true
		}
	}
	return false
}

// DocumentKey derives a stable key from path relative to root, slash separated.
// Paths outside root fall back to their base name.
func DocumentKey(root, path string) string {
	if root != "" {
		if rel, err := filepath.Rel(root, path); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(path)
}
