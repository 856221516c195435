package witness

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
	"github.com/joseph-ayodele/witness-arbiter/internal/quality"
)

// LayoutML is the primary witness: a layout-analysis service that returns page
// text plus labelled regions.
type LayoutML struct {
	cfg    common.MLConfig
	client *http.Client
	logger *slog.Logger
}

func NewLayoutML(cfg common.MLConfig, client *http.Client, logger *slog.Logger) *LayoutML {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &LayoutML{cfg: cfg, client: client, logger: logger}
}

func (m *LayoutML) ID() constants.WitnessID { return constants.WitnessPrimaryML }

type layoutFile struct {
	Name          string `json:"name"`
	Page          int    `json:"page,omitempty"`
	MIMEType      string `json:"mime_type"`
	ContentBase64 string `json:"content_base64"`
}

type layoutRequest struct {
	Files []layoutFile `json:"files"`
	Pages []int        `json:"pages,omitempty"`
	Lang  string       `json:"lang,omitempty"`
}

type layoutResponse struct {
	Pages []struct {
		Page     int                    `json:"page"`
		Text     string                 `json:"text"`
		Elements []entity.LayoutElement `json:"elements"`
	} `json:"pages"`
}

var layoutResponseSchema = &common.LazySchema{Name: "layout_response.json", Build: buildLayoutResponseSchema}

func buildLayoutResponseSchema() map[string]any {
	coord := map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0}
	element := map[string]any{
		"type":     "object",
		"required": []string{"label", "text"},
		"properties": map[string]any{
			"label": map[string]any{"type": "string", "minLength": 1},
			"text":  map[string]any{"type": "string"},
			"bbox": map[string]any{
				"type":       "object",
				"required":   []string{"l", "t", "r", "b"},
				"properties": map[string]any{"l": coord, "t": coord, "r": coord, "b": coord},
			},
		},
	}
	page := map[string]any{
		"type":     "object",
		"required": []string{"page", "text"},
		"properties": map[string]any{
			"page":     map[string]any{"type": "integer", "minimum": 1},
			"text":     map[string]any{"type": "string"},
			"elements": map[string]any{"type": "array", "items": element},
		},
	}
	return map[string]any{
		"type":       "object",
		"required":   []string{"pages"},
		"properties": map[string]any{"pages": map[string]any{"type": "array", "items": page}},
	}
}

func (m *LayoutML) Extract(ctx context.Context, doc entity.Document, opts Options) (entity.WitnessResult, error) {
	start := time.Now()
	requested := requestedPages(doc, opts)
	fail := func(retryable bool, err error) (entity.WitnessResult, error) {
		m.logger.Error("witness.primary_ml.failed", "doc_key", doc.Key, "retryable", retryable, "error", err)
		return entity.WitnessResult{}, common.NewExtractionFailure(m.ID(), retryable, err)
	}
	if m.cfg.Endpoint == "" {
		return fail(false, errors.New("layout service endpoint not configured"))
	}

	files, err := layoutFiles(doc, requested)
	if err != nil {
		return fail(false, err)
	}
	req := layoutRequest{Files: files, Pages: opts.Pages}
	if opts.Script != "" {
		req.Lang = string(opts.Script)
	}
	headers := map[string]string{}
	if m.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + m.cfg.APIKey
	}

	raw, status, err := sendJSON(ctx, m.client, m.cfg.Endpoint, req, headers, m.logger)
	if err != nil {
		if ctx.Err() != nil {
			return fail(false, ctx.Err())
		}
		var se *statusError
		if errors.As(err, &se) {
			return fail(retryableStatus(status), err)
		}
		// transport errors
		return fail(true, err)
	}

	if err := layoutResponseSchema.Validate(raw); err != nil {
		return fail(false, fmt.Errorf("layout response: %w", err))
	}
	var parsed layoutResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fail(false, fmt.Errorf("decode layout response: %w", err))
	}

	res := newResult(m.ID(), doc, requested, start)
	for _, p := range parsed.Pages {
		if !contains(requested, p.Page) {
			continue
		}
		res.Pages[p.Page] = quality.FixLigatureSpacing(p.Text)
		if len(p.Elements) == 0 {
			continue
		}
		if res.Layout == nil {
			res.Layout = map[int][]entity.LayoutElement{}
		}
		elems := make([]entity.LayoutElement, 0, len(p.Elements))
		for _, el := range p.Elements {
			el.Text = quality.FixLigatureSpacing(el.Text)
			elems = append(elems, el)
		}
		res.Layout[p.Page] = elems
	}
	res.Duration = time.Since(start)
	m.logger.Info("witness.primary_ml.ok", "doc_key", doc.Key, "pages", len(res.Pages), "elapsed_ms", res.Duration.Milliseconds())
	return res, nil
}

func layoutFiles(doc entity.Document, requested []int) ([]layoutFile, error) {
	switch doc.Kind {
	case constants.SourceImages:
		images, err := ImagePages(doc.SourcePath)
		if err != nil {
			return nil, err
		}
		files := make([]layoutFile, 0, len(requested))
		for _, p := range requested {
			path, ok := images[p]
			if !ok {
				continue
			}
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read page %d: %w", p, err)
			}
			files = append(files, layoutFile{
				Name:          filepath.Base(path),
				Page:          p,
				MIMEType:      constants.ImageMIMEType(filepath.Ext(path)),
				ContentBase64: base64.StdEncoding.EncodeToString(b),
			})
		}
		if len(files) == 0 {
			return nil, errors.New("no page images for the requested pages")
		}
		return files, nil
	default:
		b, err := os.ReadFile(doc.SourcePath)
		if err != nil {
			return nil, fmt.Errorf("read source: %w", err)
		}
		name := filepath.Base(doc.SourcePath)
		if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			name += ".pdf"
		}
		return []layoutFile{{Name: name, MIMEType: "application/pdf", ContentBase64: base64.StdEncoding.EncodeToString(b)}}, nil
	}
}
