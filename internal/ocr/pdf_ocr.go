package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// renderPage rasterizes a single page and returns the PNG path.
func (e *Extractor) renderPage(ctx context.Context, path string, page int, dir string) (string, error) {
	prefix := filepath.Join(dir, fmt.Sprintf("page-%04d", page))
	p := strconv.Itoa(page)
	// pdftoppm -r 300 -f N -l N -singlefile -png <in.pdf> <dir/page-000N>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm,
		"-r", strconv.Itoa(e.cfg.DPI), "-f", p, "-l", p, "-singlefile", "-png", path, prefix)
	if err != nil {
		return "", fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(truncate(string(errb), 512)))
	}
	out := prefix + ".png"
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("pdftoppm produced no image: %w", err)
	}
	return out, nil
}
