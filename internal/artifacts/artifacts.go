// Package artifacts stores witness outputs and accepted page text outside the
// checkpoint store: on the local filesystem or in a GCS bucket.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

// Store persists per-document artifacts. Locations are opaque to callers and are
// recorded in checkpoints.
type Store interface {
	PutWitness(ctx context.Context, key string, r entity.WitnessResult) (string, error)
	GetWitness(ctx context.Context, location string) (entity.WitnessResult, error)
	// PutAccepted writes text.json and, when the winner produced layout, layout.json.
	// The layout location is empty when no layout was written.
	PutAccepted(ctx context.Context, key string, out entity.AcceptedOutput) (textLoc, layoutLoc string, err error)
	Close() error
}

const (
	textFile   = "text.json"
	layoutFile = "layout.json"
	witnessDir = "witnesses"
)

// acceptedText is the text.json document read by downstream consumers.
type acceptedText struct {
	DocKey string              `json:"doc_key"`
	Winner constants.WitnessID `json:"winner"`
	Label  constants.Label     `json:"label"`
	Pages  map[int]string      `json:"pages"`
}

type acceptedLayout struct {
	DocKey string                         `json:"doc_key"`
	Winner constants.WitnessID            `json:"winner"`
	Layout map[int][]entity.LayoutElement `json:"layout"`
}

// Open picks the backend from the root: gs://bucket/prefix or a directory.
func Open(ctx context.Context, root string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.HasPrefix(root, "gs://") {
		return NewGCSStore(ctx, root, logger)
	}
	return NewFSStore(strings.TrimPrefix(root, "file://"), logger)
}

// segment escapes a document key into a single path segment.
func segment(key string) string {
	s := url.PathEscape(key)
	if s == "." || s == ".." {
		s = strings.ReplaceAll(s, ".", "%2E")
	}
	return s
}

func witnessName(r entity.WitnessResult) string {
	return fmt.Sprintf("%s-%s.json", r.Witness, r.ID)
}

func encodeAccepted(out entity.AcceptedOutput) (text, layout []byte, err error) {
	text, err = json.MarshalIndent(acceptedText{DocKey: out.DocKey, Winner: out.Winner, Label: out.Label, Pages: out.Pages}, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode text: %w", err)
	}
	if len(out.Layout) == 0 {
		return text, nil, nil
	}
	layout, err = json.MarshalIndent(acceptedLayout{DocKey: out.DocKey, Winner: out.Winner, Layout: out.Layout}, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode layout: %w", err)
	}
	return text, layout, nil
}

func decodeWitness(location string, raw []byte) (entity.WitnessResult, error) {
	var r entity.WitnessResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return entity.WitnessResult{}, fmt.Errorf("decode witness result %s: %w", location, err)
	}
	return r, nil
}
