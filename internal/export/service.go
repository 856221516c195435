// Package export renders batch summaries and checkpoint listings as XLSX workbooks.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/batch"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

// CheckpointLister is the part of the checkpoint store a listing needs.
type CheckpointLister interface {
	List(ctx context.Context) ([]*entity.CheckpointRecord, error)
}

type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// SummaryXLSX returns a workbook with one row per document and a totals sheet.
func (s *Service) SummaryXLSX(sum *batch.Summary) ([]byte, error) {
	start := time.Now()
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Documents"
	if err := useSheet(f, sheet); err != nil {
		return nil, err
	}
	headers := []string{"Document", "Source", "Status", "Label", "Score", "Winner", "Escalated", "Coverage Flag", "Reason", "Elapsed (s)"}
	writeHeader(f, sheet, headers)
	for i, r := range sum.Results {
		row := i + 2
		write := cellWriter(f, sheet, row)
		write(1, r.DocKey)
		write(2, r.Source)
		write(3, string(r.Status))
		write(4, string(r.Label))
		if r.Label != "" {
			write(5, round3(r.Score))
		}
		write(6, string(r.Winner))
		write(7, r.Escalated)
		write(8, r.CoverageFlag)
		write(9, truncate(r.Reason, 240))
		write(10, round3(r.Elapsed.Seconds()))
	}
	_ = f.SetColWidth(sheet, "A", "B", 40)
	_ = f.SetColWidth(sheet, "C", "H", 14)
	_ = f.SetColWidth(sheet, "I", "I", 60)

	const totals = "Totals"
	if _, err := f.NewSheet(totals); err != nil {
		return nil, err
	}
	rows := [][2]any{
		{"accepted", sum.Accepted},
		{"review", sum.Review},
		{"failed", sum.Failed},
		{"skipped", sum.Skipped},
		{"cancelled", sum.Cancelled},
	}
	for _, l := range constants.Labels {
		rows = append(rows, [2]any{"label:" + string(l), sum.Labels[l]})
	}
	for i, kv := range rows {
		write := cellWriter(f, totals, i+1)
		write(1, kv[0])
		write(2, kv[1])
	}
	_ = f.SetColWidth(totals, "A", "A", 20)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.summary.ok", "rows", len(sum.Results), "elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}

// CheckpointsXLSX lists every stored checkpoint with its state and verdict.
func (s *Service) CheckpointsXLSX(ctx context.Context, repo CheckpointLister) ([]byte, error) {
	start := time.Now()
	recs, err := repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Checkpoints"
	if err := useSheet(f, sheet); err != nil {
		return nil, err
	}
	headers := []string{"Document", "State", "Complete", "Label", "Score", "Winner", "Witnesses", "Text", "Updated"}
	writeHeader(f, sheet, headers)
	for i, rec := range recs {
		write := cellWriter(f, sheet, i+2)
		write(1, rec.DocKey)
		write(2, string(rec.State))
		write(3, rec.IsComplete())
		if v := rec.Verdict; v != nil {
			write(4, string(v.Label))
			write(5, round3(v.Score))
			write(6, string(v.Winner))
		}
		write(7, witnessSummary(rec))
		write(8, rec.TextLocation)
		write(9, rec.UpdatedAt.Format(time.RFC3339))
	}
	_ = f.SetColWidth(sheet, "A", "A", 40)
	_ = f.SetColWidth(sheet, "G", "H", 50)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.checkpoints.ok", "rows", len(recs), "elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}

// useSheet renames the default sheet so the workbook has no empty Sheet1.
func useSheet(f *excelize.File, name string) error {
	if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
		return err
	}
	idx, err := f.GetSheetIndex(name)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
}

func cellWriter(f *excelize.File, sheet string, row int) func(col int, v any) {
	return func(col int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func witnessSummary(rec *entity.CheckpointRecord) string {
	out := ""
	for _, id := range constants.Witnesses {
		e, ok := rec.Witnesses[id]
		if !ok {
			continue
		}
		status := "ok"
		if !e.Succeeded {
			status = "failed"
		}
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%s=%s/%d", id, status, e.Attempts)
	}
	return out
}

func round3(x float64) float64 {
	return float64(int64(x*1000+0.5)) / 1000
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
