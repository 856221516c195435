package witness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
	"github.com/joseph-ayodele/witness-arbiter/internal/ocr"
	"github.com/joseph-ayodele/witness-arbiter/internal/quality"
)

// LocalOCR runs tesseract on this machine, with the language picked from the
// document's script.
type LocalOCR struct {
	ocr         *ocr.Extractor
	defaultLang string
	logger      *slog.Logger
}

func NewLocalOCR(x *ocr.Extractor, defaultLang string, logger *slog.Logger) *LocalOCR {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalOCR{ocr: x, defaultLang: defaultLang, logger: logger}
}

func (l *LocalOCR) ID() constants.WitnessID { return constants.WitnessOCRLocal }

func (l *LocalOCR) Extract(ctx context.Context, doc entity.Document, opts Options) (entity.WitnessResult, error) {
	start := time.Now()
	requested := requestedPages(doc, opts)
	lang := quality.TesseractForScript(opts.Script, l.defaultLang)

	var (
		out ocr.Result
		err error
	)
	switch doc.Kind {
	case constants.SourceImages:
		images, ierr := ImagePages(doc.SourcePath)
		if ierr != nil {
			return entity.WitnessResult{}, common.NewExtractionFailure(l.ID(), false, ierr)
		}
		selected := make(map[int]string, len(requested))
		for _, p := range requested {
			if path, ok := images[p]; ok {
				selected[p] = path
			}
		}
		out, err = l.ocr.ExtractImages(ctx, selected, lang)
	default:
		out, err = l.ocr.ExtractPDF(ctx, doc.SourcePath, requested, lang)
	}
	if err != nil {
		l.logger.Error("witness.ocr_local.failed", "doc_key", doc.Key, "lang", lang, "error", err)
		return entity.WitnessResult{}, common.NewExtractionFailure(l.ID(), false, fmt.Errorf("local ocr: %w", err))
	}
	for _, w := range out.Warnings {
		l.logger.Warn("witness.ocr_local.page_failed", "doc_key", doc.Key, "warning", w)
	}

	res := newResult(l.ID(), doc, requested, start)
	res.Pages = out.Pages
	res.Confidence = out.Confidence
	res.Language = out.Language
	res.Duration = time.Since(start)
	l.logger.Info("witness.ocr_local.ok", "doc_key", doc.Key, "pages", len(res.Pages), "lang", lang, "elapsed_ms", res.Duration.Milliseconds())
	return res, nil
}
