package entity

import (
	"time"

	"github.com/joseph-ayodele/witness-arbiter/constants"
)

// Document is an academic source entering the pipeline. Immutable once ingested.
type Document struct {
	Key         string               `json:"key"`
	SourcePath  string               `json:"source_path"`
	Kind        constants.SourceKind `json:"kind"`
	PageCount   int                  `json:"page_count"`
	Script      constants.Script     `json:"script,omitempty"`
	ContentHash string               `json:"content_hash,omitempty"`
	IngestedAt  time.Time            `json:"ingested_at"`
}

// AllPages returns 1..PageCount.
func (d Document) AllPages() []int {
	pages := make([]int, 0, d.PageCount)
	for p := 1; p <= d.PageCount; p++ {
		pages = append(pages, p)
	}
	return pages
}
