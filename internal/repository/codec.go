package repository

import (
	"encoding/json"
	"fmt"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

var checkpointSchema = &common.LazySchema{Name: "checkpoint.json", Build: buildCheckpointSchema}

func buildCheckpointSchema() map[string]any {
	states := make([]string, 0, len(constants.States))
	for _, s := range constants.States {
		states = append(states, string(s))
	}
	witnesses := make([]string, 0, len(constants.Witnesses))
	for _, w := range constants.Witnesses {
		witnesses = append(witnesses, string(w))
	}
	labels := make([]string, 0, len(constants.Labels))
	for _, l := range constants.Labels {
		labels = append(labels, string(l))
	}
	unit := map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0}

	entry := map[string]any{
		"type":     "object",
		"required": []string{"result_id", "succeeded", "coverage"},
		"properties": map[string]any{
			"result_id": map[string]any{"type": "string"},
			"location":  map[string]any{"type": "string"},
			"succeeded": map[string]any{"type": "boolean"},
			"coverage":  unit,
			"error":     map[string]any{"type": "string"},
			"attempts":  map[string]any{"type": "integer", "minimum": 0},
		},
	}
	verdict := map[string]any{
		"type":     "object",
		"required": []string{"score", "label", "state", "invoked"},
		"properties": map[string]any{
			"score":   unit,
			"label":   map[string]any{"type": "string", "enum": labels},
			"state":   map[string]any{"type": "string", "enum": []string{string(constants.StateAccepted), string(constants.StateReview)}},
			"winner":  map[string]any{"type": "string", "enum": append([]string{""}, witnesses...)},
			"invoked": map[string]any{"type": "array", "items": map[string]any{"type": "string", "enum": witnesses}},
		},
	}
	return map[string]any{
		"type":     "object",
		"required": []string{"doc_key", "state", "witnesses", "version"},
		"properties": map[string]any{
			"doc_key": map[string]any{"type": "string", "minLength": 1},
			"state":   map[string]any{"type": "string", "enum": states},
			"witnesses": map[string]any{
				"type":                 "object",
				"propertyNames":        map[string]any{"enum": witnesses},
				"additionalProperties": entry,
			},
			"verdict": verdict,
			"version": map[string]any{"type": "integer", "minimum": 0},
		},
	}
}

// encodeRecord rejects records that would read back as corrupt.
func encodeRecord(rec *entity.CheckpointRecord) ([]byte, error) {
	if rec.DocKey == "" {
		return nil, fmt.Errorf("%w: empty document key", common.ErrValidation)
	}
	if !rec.State.IsValid() {
		return nil, fmt.Errorf("%w: invalid state %q", common.ErrValidation, rec.State)
	}
	if rec.Verdict != nil {
		if err := rec.Verdict.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
		}
	}
	if rec.Witnesses == nil {
		rec.Witnesses = map[constants.WitnessID]entity.WitnessEntry{}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return b, nil
}

// decodeRecord validates a stored payload. completed is the store's own flag and must
// agree with the payload.
func decodeRecord(key string, raw []byte, completed bool) (*entity.CheckpointRecord, error) {
	if err := checkpointSchema.Validate(raw); err != nil {
		return nil, common.CheckpointCorruptionError(key, "payload fails schema", err)
	}
	var rec entity.CheckpointRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, common.CheckpointCorruptionError(key, "undecodable payload", err)
	}
	if rec.DocKey != key {
		return nil, common.CheckpointCorruptionError(key, fmt.Sprintf("payload belongs to %q", rec.DocKey), nil)
	}
	switch {
	case completed && rec.Verdict == nil:
		return nil, common.CheckpointCorruptionError(key, "marked completed without a verdict", nil)
	case !completed && rec.Verdict != nil:
		return nil, common.CheckpointCorruptionError(key, "verdict present on an incomplete record", nil)
	}
	if rec.Verdict != nil {
		if err := rec.Verdict.Validate(); err != nil {
			return nil, common.CheckpointCorruptionError(key, "invalid verdict", err)
		}
	}
	if rec.Witnesses == nil {
		rec.Witnesses = map[constants.WitnessID]entity.WitnessEntry{}
	}
	return &rec, nil
}
