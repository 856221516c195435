package witness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

const cloudSystemPrompt = "You are an OCR engine for scanned academic documents. You transcribe exactly what is printed on the page and never translate, summarize or correct it."

const cloudUserPrompt = `Transcribe all text printed on this page in reading order.

Rules:
1. Keep the original language and script. Keep diacritics exactly as printed.
2. Ignore running headers, footers and page numbers.
3. Do not describe images. Do not add commentary.
4. Respond with a single JSON object: {"text": "<the page text>"}. Use an empty string for a blank page.`

// Generator is the slice of the Gemini model API the cloud witness uses.
type Generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// NewVertexModel configures the Gemini model used by the cloud witness. The
// returned closer releases the underlying client.
func NewVertexModel(ctx context.Context, cfg common.CloudConfig) (*genai.GenerativeModel, io.Closer, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, nil, common.NewAppError(common.CodeConfig, "vertex ai: project id and region are required", common.ErrInvalidInput)
	}
	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	model := client.GenerativeModel(cfg.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(cloudSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	return model, client, nil
}

// CloudOCR is the gate witness: a vision model that transcribes a spread sample
// of pages, one request per page.
type CloudOCR struct {
	cfg     common.CloudConfig
	model   Generator
	limiter *Limiter
	logger  *slog.Logger
}

func NewCloudOCR(cfg common.CloudConfig, model Generator, limiter *Limiter, logger *slog.Logger) *CloudOCR {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudOCR{cfg: cfg, model: model, limiter: limiter, logger: logger}
}

func (c *CloudOCR) ID() constants.WitnessID { return constants.WitnessOCRCloud }

var cloudResponseSchema = &common.LazySchema{Name: "cloud_page.json", Build: func() map[string]any {
	return map[string]any{
		"type":       "object",
		"required":   []string{"text"},
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
	}
}}

var refusalPhrases = []string{
	"i am unable to",
	"i'm unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"i can't help with",
	"as a large language model",
}

// errRefusal marks a model response that declined the task.
var errRefusal = errors.New("model refused the page")

type pagePart struct {
	page int
	part genai.Part
}

func (c *CloudOCR) Extract(ctx context.Context, doc entity.Document, opts Options) (entity.WitnessResult, error) {
	start := time.Now()
	requested := opts.Pages
	if len(requested) == 0 {
		requested = SpreadPages(doc.PageCount, c.cfg.SamplePages)
	}
	if len(requested) == 0 {
		return entity.WitnessResult{}, common.NewExtractionFailure(c.ID(), false, errors.New("document has no pages"))
	}

	tmpDir, err := os.MkdirTemp("", "arbiter-cloud-*")
	if err != nil {
		return entity.WitnessResult{}, common.NewExtractionFailure(c.ID(), true, err)
	}
	defer os.RemoveAll(tmpDir)

	parts, err := c.pageParts(doc, requested, tmpDir)
	if err != nil {
		return entity.WitnessResult{}, common.NewExtractionFailure(c.ID(), false, err)
	}

	var (
		mu        sync.Mutex
		pages     = map[int]string{}
		pageErrs  []error
		retryable bool
	)
	limit := int(c.cfg.MaxConcurrent)
	if limit <= 0 {
		limit = 4
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for _, pp := range parts {
		pp := pp
		eg.Go(func() error {
			text, err := c.transcribe(gctx, pp)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				pageErrs = append(pageErrs, fmt.Errorf("page %d: %w", pp.page, err))
				retryable = retryable || isRetryableCloudError(err)
				c.logger.Warn("witness.ocr_cloud.page_failed", "doc_key", doc.Key, "page", pp.page, "error", err)
				return nil
			}
			pages[pp.page] = text
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return entity.WitnessResult{}, common.NewExtractionFailure(c.ID(), false, err)
	}
	if len(pages) == 0 {
		return entity.WitnessResult{}, common.NewExtractionFailure(c.ID(), retryable, errors.Join(pageErrs...))
	}

	res := newResult(c.ID(), doc, requested, start)
	res.Pages = pages
	res.Duration = time.Since(start)
	c.logger.Info("witness.ocr_cloud.ok", "doc_key", doc.Key, "pages", len(pages), "requested", len(requested), "elapsed_ms", res.Duration.Milliseconds())
	return res, nil
}

func (c *CloudOCR) pageParts(doc entity.Document, requested []int, tmpDir string) ([]pagePart, error) {
	var paths map[int]string
	var err error
	if doc.Kind == constants.SourceImages {
		paths, err = ImagePages(doc.SourcePath)
	} else {
		paths, err = splitPDFPages(doc.SourcePath, tmpDir, requested)
	}
	if err != nil {
		return nil, err
	}

	out := make([]pagePart, 0, len(requested))
	for _, p := range requested {
		path, ok := paths[p]
		if !ok {
			continue
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", p, err)
		}
		mime := "application/pdf"
		if doc.Kind == constants.SourceImages {
			mime = constants.ImageMIMEType(filepath.Ext(path))
		}
		out = append(out, pagePart{page: p, part: genai.Blob{MIMEType: mime, Data: b}})
	}
	if len(out) == 0 {
		return nil, errors.New("no requested page is available")
	}
	return out, nil
}

func (c *CloudOCR) transcribe(ctx context.Context, pp pagePart) (string, error) {
	release, err := c.limiter.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	resp, err := c.model.GenerateContent(ctx, pp.part, genai.Text(cloudUserPrompt))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return parseCloudResponse(resp)
}

func parseCloudResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("empty model response")
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety || cand.FinishReason == genai.FinishReasonRecitation {
		return "", fmt.Errorf("%w: finish reason %s", errRefusal, cand.FinishReason)
	}

	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	raw := strings.TrimSpace(b.String())
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	if err := cloudResponseSchema.Validate([]byte(raw)); err != nil {
		if isRefusal(raw) {
			return "", errRefusal
		}
		return "", fmt.Errorf("cloud response: %w", err)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", fmt.Errorf("decode cloud response: %w", err)
	}
	if isRefusal(out.Text) {
		return "", errRefusal
	}
	return out.Text, nil
}

func isRefusal(s string) bool {
	lower := strings.ToLower(s)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// isRetryableCloudError treats quota, timeouts and server-side errors as transient.
func isRetryableCloudError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return retryableStatus(gerr.Code)
	}
	switch status.Code(err) {
	case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded, codes.Internal:
		return true
	}
	return false
}
