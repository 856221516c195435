// Package ocr runs Tesseract over rasterized PDF pages or page images.
//
// The default engine shells out to pdftoppm and tesseract; building with the
// "gosseract" tag enables an in-process engine for the recognition step.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	EngineCLI       = "cli"
	EngineGosseract = "gosseract"
)

type Config struct {
	Engine    string // cli | gosseract
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TessdataDir string
	DefaultLang string // default "eng"
	DPI         int    // rasterization DPI, default 300

	PSM int // 3 = fully automatic
	OEM int // 1 = LSTM; leave 0 to use default

	WorkDir string // scratch space for rendered pages
}

// Result is the per-page output of one OCR pass. Pages that failed are absent and
// described in Warnings.
type Result struct {
	Pages      map[int]string
	Confidence map[int]float64
	Language   string
	Duration   time.Duration
	Warnings   []string
}

// Recognizer turns one page image into text and a mean word confidence in [0,1].
type Recognizer interface {
	Recognize(ctx context.Context, imagePath, lang string) (text string, confidence float64, err error)
}

type Extractor struct {
	cfg        Config
	runner     Runner
	recognizer Recognizer
	logger     *slog.Logger
}

type Option func(*Extractor)

// WithRunner replaces the exec-based runner, mostly for tests.
func WithRunner(r Runner) Option {
	return func(e *Extractor) { e.runner = r }
}

func WithRecognizer(r Recognizer) Option {
	return func(e *Extractor) { e.recognizer = r }
}

func NewExtractor(cfg Config, logger *slog.Logger, opts ...Option) (*Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Engine == "" {
		cfg.Engine = EngineCLI
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.DefaultLang == "" {
		cfg.DefaultLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "./tmp"
	}

	e := &Extractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	if e.recognizer != nil {
		return e, nil
	}
	switch cfg.Engine {
	case EngineCLI:
		e.recognizer = &cliRecognizer{cfg: cfg, runner: e.runner}
	case EngineGosseract:
		r, err := newGosseractRecognizer(cfg)
		if err != nil {
			return nil, err
		}
		e.recognizer = r
	default:
		return nil, fmt.Errorf("unknown ocr engine %q", cfg.Engine)
	}
	return e, nil
}

// ExtractPDF renders and recognizes each requested page of a PDF.
func (e *Extractor) ExtractPDF(ctx context.Context, path string, pages []int, lang string) (Result, error) {
	start := time.Now()
	lang = e.language(lang)
	e.logger.Debug("ocr.pdf.start", "path", path, "pages", len(pages), "lang", lang)

	if err := os.MkdirAll(e.cfg.WorkDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create work dir: %w", err)
	}
	tmpDir, err := os.MkdirTemp(e.cfg.WorkDir, "ocr-*")
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("ocr.cleanup_failed", "dir", tmpDir, "error", err)
		}
	}()

	res, err := e.run(ctx, pages, lang, func(ctx context.Context, page int) (string, error) {
		return e.renderPage(ctx, path, page, tmpDir)
	})
	res.Duration = time.Since(start)
	return res, err
}

// ExtractImages recognizes an image set; images maps page numbers to image paths.
func (e *Extractor) ExtractImages(ctx context.Context, images map[int]string, lang string) (Result, error) {
	start := time.Now()
	lang = e.language(lang)
	pages := make([]int, 0, len(images))
	for p := range images {
		pages = append(pages, p)
	}
	res, err := e.run(ctx, pages, lang, func(_ context.Context, page int) (string, error) {
		return images[page], nil
	})
	res.Duration = time.Since(start)
	return res, err
}

func (e *Extractor) run(ctx context.Context, pages []int, lang string, image func(context.Context, int) (string, error)) (Result, error) {
	res := Result{Pages: map[int]string{}, Confidence: map[int]float64{}, Language: lang}
	if len(pages) == 0 {
		return res, errors.New("no pages requested")
	}
	sorted := append([]int(nil), pages...)
	sort.Ints(sorted)

	for _, page := range sorted {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		img, err := image(ctx, page)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %v", page, err))
			e.logger.Warn("ocr.page_failed", "page", page, "stage", "render", "error", err)
			continue
		}
		text, conf, err := e.recognizer.Recognize(ctx, img, lang)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %v", page, err))
			e.logger.Warn("ocr.page_failed", "page", page, "stage", "recognize", "error", err)
			continue
		}
		res.Pages[page] = cleanText(text)
		res.Confidence[page] = conf
	}
	if len(res.Pages) == 0 {
		return res, fmt.Errorf("ocr produced no pages: %s", strings.Join(res.Warnings, "; "))
	}
	return res, nil
}

func (e *Extractor) language(lang string) string {
	if lang == "" {
		return e.cfg.DefaultLang
	}
	return lang
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\f", "")
	return strings.TrimSpace(s)
}
