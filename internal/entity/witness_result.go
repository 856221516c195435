package entity

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/witness-arbiter/constants"
)

// BBox is a page-relative bounding box; coordinates are in [0,1] with the origin top-left.
type BBox struct {
	L float64 `json:"l"`
	T float64 `json:"t"`
	R float64 `json:"r"`
	B float64 `json:"b"`
}

type LayoutElement struct {
	Label string `json:"label"`
	Text  string `json:"text"`
	BBox  BBox   `json:"bbox"`
}

// WitnessResult is the output of one extractor over one document. Never mutated after
// creation; a retry produces a new result with a new ID.
type WitnessResult struct {
	ID             uuid.UUID               `json:"id"`
	Witness        constants.WitnessID     `json:"witness"`
	DocKey         string                  `json:"doc_key"`
	Pages          map[int]string          `json:"pages"`
	Layout         map[int][]LayoutElement `json:"layout,omitempty"`
	Confidence     map[int]float64         `json:"confidence,omitempty"`
	RequestedPages []int                   `json:"requested_pages"`
	Language       string                  `json:"language,omitempty"`
	Duration       time.Duration           `json:"duration"`
	Succeeded      bool                    `json:"succeeded"`
	Error          string                  `json:"error,omitempty"`
	CompletedAt    time.Time               `json:"completed_at"`
}

// PageNumbers returns the pages carrying text, ascending.
func (r WitnessResult) PageNumbers() []int {
	out := make([]int, 0, len(r.Pages))
	for p := range r.Pages {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// JoinedText concatenates pages in page order.
func (r WitnessResult) JoinedText() string {
	var b strings.Builder
	for i, p := range r.PageNumbers() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(r.Pages[p])
	}
	return b.String()
}

// Failed builds the record of a failed invocation.
func Failed(w constants.WitnessID, docKey string, requested []int, dur time.Duration, err error) WitnessResult {
	return WitnessResult{
		ID:             uuid.New(),
		Witness:        w,
		DocKey:         docKey,
		Pages:          map[int]string{},
		RequestedPages: requested,
		Duration:       dur,
		Succeeded:      false,
		Error:          err.Error(),
		CompletedAt:    time.Now().UTC(),
	}
}
