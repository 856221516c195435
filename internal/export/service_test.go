package export

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/batch"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

func open(t *testing.T, b []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestSummaryXLSX(t *testing.T) {
	sum := &batch.Summary{
		Results: []batch.Result{
			{DocKey: "a.pdf", Status: constants.OutcomeAccepted, Label: constants.LabelAutoAccept, Score: 0.91234, Winner: constants.WitnessPrimaryML},
			{DocKey: "b.pdf", Status: constants.OutcomeFailed, Reason: "corrupt input"},
		},
		Accepted: 1,
		Failed:   1,
		Labels:   map[constants.Label]int{constants.LabelAutoAccept: 1},
	}
	b, err := NewService(nil).SummaryXLSX(sum)
	if err != nil {
		t.Fatalf("SummaryXLSX: %v", err)
	}
	f := open(t, b)
	if diff := cmp.Diff([]string{"Documents", "Totals"}, f.GetSheetList()); diff != "" {
		t.Fatalf("sheets (-want +got):\n%s", diff)
	}
	rows, err := f.GetRows("Documents")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows", len(rows))
	}
	if rows[1][0] != "a.pdf" || rows[1][3] != "auto_accept" || rows[1][4] != "0.912" {
		t.Fatalf("row %v", rows[1])
	}
	if rows[2][8] != "corrupt input" {
		t.Fatalf("row %v", rows[2])
	}
	totals, _ := f.GetRows("Totals")
	if totals[0][0] != "accepted" || totals[0][1] != "1" {
		t.Fatalf("totals %v", totals)
	}
}

type listFunc func(ctx context.Context) ([]*entity.CheckpointRecord, error)

func (f listFunc) List(ctx context.Context) ([]*entity.CheckpointRecord, error) { return f(ctx) }

func TestCheckpointsXLSX(t *testing.T) {
	done := entity.NewCheckpointRecord("done.pdf")
	done.State = constants.StateAccepted
	done.Verdict = &entity.QualityVerdict{Label: constants.LabelFlag, Score: 0.7, State: constants.StateAccepted, Winner: constants.WitnessOCRLocal}
	done.Witnesses[constants.WitnessPrimaryML] = entity.WitnessEntry{Succeeded: false, Attempts: 2}
	done.Witnesses[constants.WitnessOCRLocal] = entity.WitnessEntry{Succeeded: true, Attempts: 1}
	done.UpdatedAt = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	pending := entity.NewCheckpointRecord("pending.pdf")

	b, err := NewService(nil).CheckpointsXLSX(context.Background(), listFunc(func(context.Context) ([]*entity.CheckpointRecord, error) {
		return []*entity.CheckpointRecord{done, pending}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	rows, err := open(t, b).GetRows("Checkpoints")
	if err != nil {
		t.Fatal(err)
	}
	if rows[1][2] != "TRUE" || rows[1][6] != "primary_ml=failed/2, ocr_local=ok/1" {
		t.Fatalf("row %v", rows[1])
	}
	if rows[2][1] != "PENDING" || rows[2][2] != "FALSE" {
		t.Fatalf("row %v", rows[2])
	}
}
