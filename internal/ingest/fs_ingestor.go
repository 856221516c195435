package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
	"github.com/joseph-ayodele/witness-arbiter/internal/witness"
)

// FSIngestor reads from the local filesystem. Keys are relative to Root.
type FSIngestor struct {
	Root   string
	logger *slog.Logger
}

func NewFSIngestor(root string, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{Root: root, logger: logger}
}

func (i *FSIngestor) IngestPath(ctx context.Context, path string) (entity.Document, error) {
	if err := ctx.Err(); err != nil {
		return entity.Document{}, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return entity.Document{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return entity.Document{}, err
	}

	root := i.Root
	if root != "" {
		if r, err := filepath.Abs(root); err == nil {
			root = r
		}
	}
	doc := entity.Document{
		Key:        DocumentKey(root, abs),
		SourcePath: abs,
		IngestedAt: time.Now().UTC(),
	}

	if info.IsDir() {
		pages, err := witness.ImagePages(abs)
		if err != nil {
			return entity.Document{}, err
		}
		if len(pages) == 0 {
			return entity.Document{}, common.CorruptInputError(fmt.Sprintf("%s holds no page images", abs), nil)
		}
		doc.Kind = constants.SourceImages
		doc.PageCount = len(pages)
		doc.ContentHash, err = hashImageSet(pages)
		if err != nil {
			return entity.Document{}, err
		}
		i.logger.Debug("ingest.image_set", "doc_key", doc.Key, "pages", doc.PageCount)
		return doc, nil
	}

	ext := constants.NormalizeExt(filepath.Ext(abs))
	if ext == "" || !AllowedExt(ext) {
		return entity.Document{}, fmt.Errorf("%w: unsupported or missing extension %q", common.ErrInvalidInput, ext)
	}
	doc.Kind = constants.SourcePDF
	if doc.ContentHash, err = hashFiles(abs); err != nil {
		return entity.Document{}, err
	}
	doc.PageCount, err = pdfPageCount(abs)
	if err != nil {
		return entity.Document{}, err
	}
	i.logger.Debug("ingest.pdf", "doc_key", doc.Key, "pages", doc.PageCount, "content_hash", doc.ContentHash)
	return doc, nil
}

// IngestDirectory walks root, skips hidden entries if requested, and ingests
// every PDF and every image-set directory. Per-source failures are collected.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]IngestionResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, fmt.Errorf("%w: root is required", common.ErrInvalidInput)
	}

	var results []IngestionResult
	var stats DirStats
	ingest := func(path string) {
		stats.Matched++
		doc, err := i.IngestPath(ctx, path)
		if err != nil {
			i.logger.Warn("ingest.failed", "path", path, "error", err)
			results = append(results, IngestionResult{SourcePath: path, Document: entity.Document{Key: DocumentKey(root, path), SourcePath: path}, Err: err})
			stats.Failed++
			return
		}
		results = append(results, IngestionResult{SourcePath: path, Document: doc})
		stats.Succeeded++
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, IngestionResult{SourcePath: path, Document: entity.Document{Key: DocumentKey(root, path), SourcePath: path}, Err: walkErr})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && IsImageSet(path) {
				ingest(path)
				return filepath.SkipDir
			}
			return nil
		}
		if AllowedExt(filepath.Ext(path)) {
			ingest(path)
		}
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}

// pdfPageCount validates the PDF in relaxed mode and counts its pages.
func pdfPageCount(path string) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return 0, common.CorruptInputError(fmt.Sprintf("validate %s", filepath.Base(path)), err)
	}
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, common.CorruptInputError(fmt.Sprintf("count pages of %s", filepath.Base(path)), err)
	}
	if n < 1 {
		return 0, common.CorruptInputError(fmt.Sprintf("%s has no pages", filepath.Base(path)), nil)
	}
	return n, nil
}

func hashImageSet(pages map[int]string) (string, error) {
	nums := make([]int, 0, len(pages))
	for p := range pages {
		nums = append(nums, p)
	}
	sort.Ints(nums)
	paths := make([]string, 0, len(nums))
	for _, p := range nums {
		paths = append(paths, pages[p])
	}
	return hashFiles(paths...)
}

// hashFiles is the sha256 over the names and contents of paths, in order.
func hashFiles(paths ...string) (string, error) {
	h := sha256.New()
	for _, p := range paths {
		if len(paths) > 1 {
			_, _ = io.WriteString(h, filepath.Base(p)+"\x00")
		}
		if err := copyInto(h, p); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyInto(h hash.Hash, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	return nil
}
