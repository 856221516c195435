package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/witness-arbiter/constants"
)

// CorruptionReport scores one witness output for internal signs of garbage.
// Sub-scores and Cleanliness are in [0,1], higher is cleaner.
type CorruptionReport struct {
	ScriptRatio        float64 `json:"script_ratio"`
	ScriptScore        float64 `json:"script_score"`
	SymbolRatio        float64 `json:"symbol_ratio"`
	SymbolScore        float64 `json:"symbol_score"`
	RepetitionRatio    float64 `json:"repetition_ratio"`
	RepetitionScore    float64 `json:"repetition_score"`
	AvgTokenLength     float64 `json:"avg_token_length"`
	FragmentationScore float64 `json:"fragmentation_score"`
	Cleanliness        float64 `json:"cleanliness"`
	Empty              bool    `json:"empty"`
}

// QualityVerdict is the final arbitration output for a document.
type QualityVerdict struct {
	RunID           uuid.UUID                  `json:"run_id"`
	Score           float64                    `json:"score"`
	Label           constants.Label            `json:"label"`
	State           constants.ArbitrationState `json:"state"`
	Winner          constants.WitnessID        `json:"winner,omitempty"`
	Invoked         []constants.WitnessID      `json:"invoked"`
	GateScore       float64                    `json:"gate_score"`
	Escalated       bool                       `json:"escalated"`
	Agreement       float64                    `json:"agreement"`
	MeanCleanliness float64                    `json:"mean_cleanliness"`
	Coverage        float64                    `json:"coverage"`
	CoverageFlag    bool                       `json:"coverage_flag"`
	AllFailed       bool                       `json:"all_failed"`
	DecidedAt       time.Time                  `json:"decided_at"`
}

// Validate rejects verdicts that must never be persisted as complete.
func (v *QualityVerdict) Validate() error {
	if v == nil {
		return fmt.Errorf("verdict is nil")
	}
	if !v.Label.IsValid() {
		return fmt.Errorf("invalid label %q", v.Label)
	}
	if v.Score < 0 || v.Score > 1 {
		return fmt.Errorf("score %v out of range", v.Score)
	}
	if !v.State.IsTerminal() {
		return fmt.Errorf("state %q is not terminal", v.State)
	}
	if v.Winner != "" && !v.Winner.IsValid() {
		return fmt.Errorf("invalid winner %q", v.Winner)
	}
	if v.AllFailed && v.Label != constants.LabelReview {
		return fmt.Errorf("all-failed verdict must be labelled review")
	}
	return nil
}

// AcceptedOutput is what downstream consumers read, identical in shape whatever the winner.
type AcceptedOutput struct {
	DocKey string                  `json:"doc_key"`
	Winner constants.WitnessID     `json:"winner"`
	Label  constants.Label         `json:"label"`
	Pages  map[int]string          `json:"pages"`
	Layout map[int][]LayoutElement `json:"layout,omitempty"`
}
