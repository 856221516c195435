package witness

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/joseph-ayodele/witness-arbiter/constants"
)

// SpreadPages picks n pages evenly spread over 1..total, always including the
// first and last page. n <= 0 or n >= total selects every page.
func SpreadPages(total, n int) []int {
	if total <= 0 {
		return nil
	}
	if n <= 0 || n >= total {
		out := make([]int, total)
		for i := range out {
			out[i] = i + 1
		}
		return out
	}
	if n == 1 {
		return []int{1}
	}
	step := float64(total-1) / float64(n-1)
	seen := map[int]struct{}{}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		p := int(math.Round(float64(i)*step)) + 1
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// ImagePages lists the page images of an image-set directory in lexical order,
// numbered from 1. Hidden files are ignored.
func ImagePages(dir string) (map[int]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image set: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !constants.IsImageExt(filepath.Ext(e.Name())) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	out := make(map[int]string, len(names))
	for i, n := range names {
		out[i+1] = filepath.Join(dir, n)
	}
	return out, nil
}

// splitPDFPages writes one single-page PDF per page of in into dir and returns
// the paths of the requested pages.
func splitPDFPages(in, dir string, pages []int) (map[int]string, error) {
	if err := api.SplitFile(in, dir, 1, nil); err != nil {
		return nil, fmt.Errorf("split pdf: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	out := make(map[int]string, len(pages))
	for _, p := range pages {
		path := filepath.Join(dir, fmt.Sprintf("%s_%d.pdf", base, p))
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("page %d missing after split: %w", p, err)
		}
		out[p] = path
	}
	return out, nil
}
