package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/witness-arbiter/constants"
)

// WitnessEntry records one witness invocation inside a checkpoint.
type WitnessEntry struct {
	ResultID    uuid.UUID `json:"result_id"`
	Location    string    `json:"location,omitempty"`
	Succeeded   bool      `json:"succeeded"`
	Coverage    float64   `json:"coverage"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	CompletedAt time.Time `json:"completed_at"`
}

// CheckpointRecord is the per-document processing state.
type CheckpointRecord struct {
	DocKey         string                               `json:"doc_key"`
	State          constants.ArbitrationState           `json:"state"`
	ContentHash    string                               `json:"content_hash,omitempty"`
	Witnesses      map[constants.WitnessID]WitnessEntry `json:"witnesses"`
	Verdict        *QualityVerdict                      `json:"verdict,omitempty"`
	TextLocation   string                               `json:"text_location,omitempty"`
	LayoutLocation string                               `json:"layout_location,omitempty"`
	Version        int64                                `json:"version"`
	UpdatedAt      time.Time                            `json:"updated_at"`
}

func NewCheckpointRecord(key string) *CheckpointRecord {
	return &CheckpointRecord{
		DocKey:    key,
		State:     constants.StatePending,
		Witnesses: map[constants.WitnessID]WitnessEntry{},
	}
}

// IsComplete holds once a verdict has been finalized.
func (r *CheckpointRecord) IsComplete() bool {
	return r != nil && r.Verdict != nil
}

// Clone deep-copies the record so callers never share maps with a store.
func (r *CheckpointRecord) Clone() *CheckpointRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Witnesses = make(map[constants.WitnessID]WitnessEntry, len(r.Witnesses))
	for k, v := range r.Witnesses {
		out.Witnesses[k] = v
	}
	if r.Verdict != nil {
		v := *r.Verdict
		v.Invoked = append([]constants.WitnessID(nil), r.Verdict.Invoked...)
		out.Verdict = &v
	}
	return &out
}

// Reset drops stored witnesses and the verdict, used when a run is forced.
func (r *CheckpointRecord) Reset() {
	r.State = constants.StatePending
	r.Witnesses = map[constants.WitnessID]WitnessEntry{}
	r.Verdict = nil
	r.TextLocation = ""
	r.LayoutLocation = ""
}
