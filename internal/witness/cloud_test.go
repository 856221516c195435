package witness

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/api/googleapi"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

// fakeGenerator answers by the bytes of the page blob it receives.
type fakeGenerator struct {
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
	calls   int
}

func (f *fakeGenerator) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	blob, ok := parts[0].(genai.Blob)
	if !ok {
		return nil, errors.New("first part is not a blob")
	}
	key := string(blob.Data)
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text(f.answers[key])}},
	}}}, nil
}

func imageSet(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 1; i <= n; i++ {
		name := filepath.Join(dir, "page-"+string(rune('a'+i-1))+".png")
		if err := os.WriteFile(name, []byte{byte('0' + i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestCloudOCRSpreadSample(t *testing.T) {
	gen := &fakeGenerator{answers: map[string]string{
		"1": `{"text":"first page"}`,
		"3": "```json\n{\"text\":\"middle page\"}\n```",
		"5": `{"text":"last page"}`,
	}}
	c := NewCloudOCR(common.CloudConfig{SamplePages: 3, MaxConcurrent: 2}, gen, NewLimiter(0, 0, 2), nil)
	doc := entity.Document{Key: "k", SourcePath: imageSet(t, 5), Kind: constants.SourceImages, PageCount: 5}

	res, err := c.Extract(context.Background(), doc, Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := map[int]string{1: "first page", 3: "middle page", 5: "last page"}
	if diff := cmp.Diff(want, res.Pages); diff != "" {
		t.Fatalf("pages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 3, 5}, res.RequestedPages); diff != "" {
		t.Fatalf("requested mismatch (-want +got):\n%s", diff)
	}
	if gen.calls != 3 {
		t.Fatalf("calls = %d, want 3", gen.calls)
	}
}

func TestCloudOCRRefusalDropsPage(t *testing.T) {
	gen := &fakeGenerator{answers: map[string]string{
		"1": `{"text":"I am unable to transcribe this document."}`,
		"2": `{"text":"real text"}`,
	}}
	c := NewCloudOCR(common.CloudConfig{}, gen, nil, nil)
	doc := entity.Document{Key: "k", SourcePath: imageSet(t, 2), Kind: constants.SourceImages, PageCount: 2}

	res, err := c.Extract(context.Background(), doc, Options{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if _, ok := res.Pages[1]; ok {
		t.Fatal("refused page must be dropped")
	}
	if res.Pages[2] != "real text" {
		t.Fatalf("pages = %v", res.Pages)
	}
}

func TestCloudOCRAllPagesFail(t *testing.T) {
	gen := &fakeGenerator{errs: map[string]error{
		"1": &googleapi.Error{Code: http.StatusTooManyRequests, Message: "quota"},
	}}
	c := NewCloudOCR(common.CloudConfig{}, gen, nil, nil)
	doc := entity.Document{Key: "k", SourcePath: imageSet(t, 1), Kind: constants.SourceImages, PageCount: 1}

	_, err := c.Extract(context.Background(), doc, Options{})
	var ef *common.ExtractionFailure
	if !errors.As(err, &ef) || !ef.Retryable {
		t.Fatalf("err = %v, want retryable ExtractionFailure", err)
	}
}

func TestParseCloudResponse(t *testing.T) {
	resp := func(text string, reason genai.FinishReason) *genai.GenerateContentResponse {
		return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			FinishReason: reason,
			Content:      &genai.Content{Parts: []genai.Part{genai.Text(text)}},
		}}}
	}
	if _, err := parseCloudResponse(nil); err == nil {
		t.Fatal("nil response must fail")
	}
	if _, err := parseCloudResponse(resp(`{"text":"x"}`, genai.FinishReasonSafety)); !errors.Is(err, errRefusal) {
		t.Fatalf("safety stop: err = %v", err)
	}
	if _, err := parseCloudResponse(resp(`As a large language model I cannot`, genai.FinishReasonStop)); !errors.Is(err, errRefusal) {
		t.Fatalf("plain refusal: err = %v", err)
	}
	if _, err := parseCloudResponse(resp(`{"txt":"x"}`, genai.FinishReasonStop)); err == nil {
		t.Fatal("schema violation must fail")
	}
	got, err := parseCloudResponse(resp(`{"text":""}`, genai.FinishReasonStop))
	if err != nil || got != "" {
		t.Fatalf("blank page: %q, %v", got, err)
	}
}

// countingGenerator records how many calls are in flight at once.
type countingGenerator struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (g *countingGenerator) GenerateContent(ctx context.Context, _ ...genai.Part) (*genai.GenerateContentResponse, error) {
	g.calls.Add(1)
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-time.After(20 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"text":"page"}`)}},
	}}}, nil
}

func TestCloudOCRSharedLimiterBoundsInFlightCalls(t *testing.T) {
	gen := &countingGenerator{}
	limiter := NewLimiter(0, 0, 2)
	// each witness alone would allow four concurrent pages
	cfg := common.CloudConfig{SamplePages: 4, MaxConcurrent: 4}

	const docs = 3
	var wg sync.WaitGroup
	errs := make(chan error, docs)
	for i := 0; i < docs; i++ {
		c := NewCloudOCR(cfg, gen, limiter, nil)
		doc := entity.Document{Key: "k", SourcePath: imageSet(t, 4), Kind: constants.SourceImages, PageCount: 4}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Extract(context.Background(), doc, Options{}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Extract: %v", err)
	}

	if got := gen.calls.Load(); got != docs*4 {
		t.Fatalf("calls = %d, want %d", got, docs*4)
	}
	if peak := gen.peak.Load(); peak < 1 || peak > 2 {
		t.Fatalf("peak in-flight calls = %d, want at most 2", peak)
	}
}
