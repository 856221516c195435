// Package ingest turns files on disk into documents: a PDF, or a directory of
// page images, with a stable key, a content hash and a page count.
package ingest

import (
	"context"

	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

// IngestionResult is the per-source ingest outcome.
type IngestionResult struct {
	SourcePath string
	Document   entity.Document
	Err        error
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Succeeded uint32
	Failed    uint32
}

// Ingestor is the behavior the batch CLI and the daemon depend on.
type Ingestor interface {
	// IngestPath ingests a single PDF or image-set directory.
	IngestPath(ctx context.Context, path string) (entity.Document, error)
	// IngestDirectory ingests every document under root.
	IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]IngestionResult, DirStats, error)
}
