// Package witness holds the closed set of extractors that produce competing
// page text for a document: the layout ML service, local tesseract and the
// cloud vision model.
package witness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
	"github.com/joseph-ayodele/witness-arbiter/internal/ocr"
)

// Options are per-invocation inputs chosen by the engine.
type Options struct {
	Script constants.Script
	// Pages restricts the witness to these pages. Nil lets the witness pick:
	// every page, or a spread sample for the cloud witness.
	Pages []int
}

// Extractor runs one witness over one document. A failed run returns a
// *common.ExtractionFailure; the engine records it and never sees a partial result.
type Extractor interface {
	ID() constants.WitnessID
	Extract(ctx context.Context, doc entity.Document, opts Options) (entity.WitnessResult, error)
}

type ExtractFunc func(ctx context.Context, doc entity.Document, opts Options) (entity.WitnessResult, error)

type funcExtractor struct {
	id constants.WitnessID
	fn ExtractFunc
}

// Func adapts a plain function into an Extractor.
func Func(id constants.WitnessID, fn ExtractFunc) Extractor {
	return funcExtractor{id: id, fn: fn}
}

func (f funcExtractor) ID() constants.WitnessID { return f.id }

func (f funcExtractor) Extract(ctx context.Context, doc entity.Document, opts Options) (entity.WitnessResult, error) {
	return f.fn(ctx, doc, opts)
}

// Deps are the shared clients a witness may need.
type Deps struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	OCR        *ocr.Extractor
	Generator  Generator
	Limiter    *Limiter
}

// New builds one witness of the closed set, wrapped with retries.
func New(id constants.WitnessID, cfg common.WitnessesConfig, deps Deps) (Extractor, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	var e Extractor
	switch id {
	case constants.WitnessPrimaryML:
		e = NewLayoutML(cfg.ML, deps.HTTPClient, deps.Logger)
	case constants.WitnessOCRLocal:
		if deps.OCR == nil {
			return nil, fmt.Errorf("%s requires an ocr extractor", id)
		}
		e = NewLocalOCR(deps.OCR, cfg.LocalOCR.DefaultLang, deps.Logger)
	case constants.WitnessOCRCloud:
		if deps.Generator == nil {
			return nil, fmt.Errorf("%s requires a generator", id)
		}
		e = NewCloudOCR(cfg.Cloud, deps.Generator, deps.Limiter, deps.Logger)
	default:
		return nil, fmt.Errorf("%w: unknown witness %q", common.ErrInvalidInput, id)
	}
	return WithRetry(e, cfg.Retry, deps.Logger), nil
}

// Set owns the witnesses of a process and the clients behind them.
type Set struct {
	extractors map[constants.WitnessID]Extractor
	closers    []io.Closer
}

// NewSet builds every witness the arbitration roles name. Clients that need
// credentials (Vertex AI) are only created when their witness is in use.
func NewSet(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*Set, error) {
	a := cfg.Arbitration
	return NewSetOf(ctx, cfg, logger,
		constants.WitnessID(a.Primary),
		constants.WitnessID(a.Gate),
		constants.WitnessID(a.Escalation),
	)
}

// NewSetOf builds only the named witnesses.
func NewSetOf(ctx context.Context, cfg *common.Config, logger *slog.Logger, ids ...constants.WitnessID) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Set{extractors: map[constants.WitnessID]Extractor{}}
	deps := Deps{
		Logger:     logger,
		HTTPClient: &http.Client{Timeout: cfg.Witnesses.ML.Timeout},
	}

	for _, id := range ids {
		if _, ok := s.extractors[id]; ok {
			continue
		}
		switch id {
		case constants.WitnessOCRLocal:
			lc := cfg.Witnesses.LocalOCR
			x, err := ocr.NewExtractor(ocr.Config{
				Engine:      lc.Engine,
				Pdftoppm:    lc.Pdftoppm,
				Tesseract:   lc.Tesseract,
				TessdataDir: lc.TessdataDir,
				DefaultLang: lc.DefaultLang,
				DPI:         lc.DPI,
				PSM:         lc.PSM,
				OEM:         lc.OEM,
				WorkDir:     lc.WorkDir,
			}, logger)
			if err != nil {
				_ = s.Close()
				return nil, err
			}
			deps.OCR = x
		case constants.WitnessOCRCloud:
			model, closer, err := NewVertexModel(ctx, cfg.Witnesses.Cloud)
			if err != nil {
				_ = s.Close()
				return nil, err
			}
			s.closers = append(s.closers, closer)
			deps.Generator = model
			cc := cfg.Witnesses.Cloud
			deps.Limiter = NewLimiter(cc.RatePerMinute, cc.Burst, cc.MaxConcurrent)
		}
		e, err := New(id, cfg.Witnesses, deps)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.extractors[id] = e
	}
	return s, nil
}

// NewSetFrom wraps ready-made extractors, typically test doubles.
func NewSetFrom(extractors ...Extractor) *Set {
	s := &Set{extractors: map[constants.WitnessID]Extractor{}}
	for _, e := range extractors {
		s.extractors[e.ID()] = e
	}
	return s
}

func (s *Set) Get(id constants.WitnessID) (Extractor, bool) {
	e, ok := s.extractors[id]
	return e, ok
}

func (s *Set) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func newResult(id constants.WitnessID, doc entity.Document, requested []int, start time.Time) entity.WitnessResult {
	return entity.WitnessResult{
		ID:             uuid.New(),
		Witness:        id,
		DocKey:         doc.Key,
		Pages:          map[int]string{},
		RequestedPages: requested,
		Succeeded:      true,
		Duration:       time.Since(start),
		CompletedAt:    time.Now().UTC(),
	}
}

func requestedPages(doc entity.Document, opts Options) []int {
	if len(opts.Pages) > 0 {
		return opts.Pages
	}
	return doc.AllPages()
}

func contains(pages []int, p int) bool {
	for _, x := range pages {
		if x == p {
			return true
		}
	}
	return false
}
