package arbiter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/artifacts"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
	"github.com/joseph-ayodele/witness-arbiter/internal/quality"
	"github.com/joseph-ayodele/witness-arbiter/internal/repository"
	"github.com/joseph-ayodele/witness-arbiter/internal/witness"
)

const (
	prose     = "The study of Islamic cartography reveals complex traditions in medieval geography."
	prose2    = "Scholars compared the surviving manuscripts and their marginal annotations carefully."
	gibberish = "#$%@ ~~~~~~~~ &*^% @@@@@@ !!!! |||| ^^^^^ ))(("
)

type harness struct {
	engine *Engine
	repo   repository.CheckpointRepository
	root   string
	calls  map[constants.WitnessID]*atomic.Int32
}

type behaviour = witness.ExtractFunc

func newHarness(t *testing.T, primary, gate, escalation behaviour) *harness {
	t.Helper()
	return newHarnessWithRepo(t, repository.NewMemoryRepository(), primary, gate, escalation)
}

func newHarnessWithRepo(t *testing.T, repo repository.CheckpointRepository, primary, gate, escalation behaviour) *harness {
	t.Helper()
	cfg := common.DefaultConfig()
	h := &harness{repo: repo, root: t.TempDir(), calls: map[constants.WitnessID]*atomic.Int32{}}
	store, err := artifacts.NewFSStore(h.root, nil)
	if err != nil {
		t.Fatal(err)
	}
	var extractors []witness.Extractor
	for id, fn := range map[constants.WitnessID]behaviour{
		constants.WitnessPrimaryML: primary,
		constants.WitnessOCRCloud:  gate,
		constants.WitnessOCRLocal:  escalation,
	} {
		counter := &atomic.Int32{}
		h.calls[id] = counter
		fn := fn
		extractors = append(extractors, witness.Func(id, func(ctx context.Context, doc entity.Document, opts witness.Options) (entity.WitnessResult, error) {
			counter.Add(1)
			return fn(ctx, doc, opts)
		}))
	}
	h.engine, err = NewEngine(cfg.Arbitration, quality.NewDetector(cfg.Corruption), witness.NewSetFrom(extractors...), repo, store, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return h
}

func (h *harness) count(id constants.WitnessID) int {
	return int(h.calls[id].Load())
}

func returns(pages map[int]string) behaviour {
	return func(context.Context, entity.Document, witness.Options) (entity.WitnessResult, error) {
		return entity.WitnessResult{Pages: pages, Succeeded: true}, nil
	}
}

func fails(id constants.WitnessID) behaviour {
	return func(context.Context, entity.Document, witness.Options) (entity.WitnessResult, error) {
		return entity.WitnessResult{}, common.NewExtractionFailure(id, false, errors.New("engine crashed"))
	}
}

func unexpected(t *testing.T) behaviour {
	return func(context.Context, entity.Document, witness.Options) (entity.WitnessResult, error) {
		t.Error("witness should not be invoked")
		return entity.WitnessResult{}, errors.New("unexpected call")
	}
}

func uniform(n int, text string) map[int]string {
	pages := make(map[int]string, n)
	for p := 1; p <= n; p++ {
		pages[p] = text
	}
	return pages
}

func testDoc(pages int) entity.Document {
	return entity.Document{Key: "shelf/doc-1", SourcePath: "doc-1.pdf", Kind: constants.SourcePDF, PageCount: pages}
}

func TestIdenticalTextAcceptedAtGate(t *testing.T) {
	h := newHarness(t, returns(uniform(3, prose)), returns(uniform(3, prose)), unexpected(t))

	out, err := h.engine.Arbitrate(context.Background(), testDoc(3), Options{})
	if err != nil {
		t.Fatalf("Arbitrate: %v", err)
	}
	v := out.Verdict
	if out.Status != constants.OutcomeAccepted || v.State != constants.StateAccepted {
		t.Fatalf("status %s state %s", out.Status, v.State)
	}
	if v.GateScore != 1 || v.Escalated || v.Label != constants.LabelAutoAccept {
		t.Fatalf("verdict %+v", v)
	}
	if diff := cmp.Diff([]constants.WitnessID{constants.WitnessPrimaryML, constants.WitnessOCRCloud}, v.Invoked); diff != "" {
		t.Fatalf("invoked (-want +got):\n%s", diff)
	}
	if v.Winner != constants.WitnessPrimaryML {
		t.Fatalf("tie should go to the primary, got %s", v.Winner)
	}
	if diff := cmp.Diff(uniform(3, prose), out.Pages); diff != "" {
		t.Fatalf("accepted pages (-want +got):\n%s", diff)
	}

	rec, err := h.repo.Load(context.Background(), "shelf/doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.IsComplete() || rec.TextLocation == "" || rec.LayoutLocation != "" {
		t.Fatalf("record %+v", rec)
	}
	if _, err := os.Stat(rec.TextLocation); err != nil {
		t.Fatalf("text.json: %v", err)
	}
	for _, id := range []constants.WitnessID{constants.WitnessPrimaryML, constants.WitnessOCRCloud} {
		if e := rec.Witnesses[id]; !e.Succeeded || e.Attempts != 1 || e.Coverage != 1 {
			t.Fatalf("%s entry %+v", id, e)
		}
	}
}

func TestGateThresholdIsInclusive(t *testing.T) {
	tests := []struct {
		name      string
		gate      string
		escalated bool
	}{
		{"at threshold", "abxy", false},
		{"below threshold", "axyz", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, returns(uniform(1, "abcd")), returns(uniform(1, tc.gate)), returns(uniform(1, "abcd")))
			out, err := h.engine.Arbitrate(context.Background(), testDoc(1), Options{})
			if err != nil {
				t.Fatal(err)
			}
			if out.Verdict.Escalated != tc.escalated {
				t.Fatalf("escalated = %v, gate score %.3f", out.Verdict.Escalated, out.Verdict.GateScore)
			}
			want := 0
			if tc.escalated {
				want = 1
			}
			if got := h.count(constants.WitnessOCRLocal); got != want {
				t.Fatalf("escalation calls = %d, want %d", got, want)
			}
		})
	}
}

func TestGateAcceptKeepsPrimaryOutput(t *testing.T) {
	noisy := prose + " ;; ,, :: ;; ,, ?? !!"
	sampled := func(context.Context, entity.Document, witness.Options) (entity.WitnessResult, error) {
		return entity.WitnessResult{Pages: map[int]string{1: prose}, RequestedPages: []int{1}, Succeeded: true}, nil
	}
	h := newHarness(t, returns(uniform(4, noisy)), sampled, unexpected(t))

	out, err := h.engine.Arbitrate(context.Background(), testDoc(4), Options{})
	if err != nil {
		t.Fatal(err)
	}
	v := out.Verdict
	if v.Escalated || v.GateScore < 0.5 {
		t.Fatalf("expected the gate to accept, verdict %+v", v)
	}
	if out.Reports[constants.WitnessOCRCloud].Cleanliness <= out.Reports[constants.WitnessPrimaryML].Cleanliness {
		t.Fatalf("gate should be the cleaner witness: %+v", out.Reports)
	}
	if v.Winner != constants.WitnessPrimaryML {
		t.Fatalf("winner = %s", v.Winner)
	}
	if len(out.Pages) != 4 || v.Coverage != 1 || v.CoverageFlag {
		t.Fatalf("accepted %d pages, coverage %.2f flag %v", len(out.Pages), v.Coverage, v.CoverageFlag)
	}
	if v.State != constants.StateAccepted {
		t.Fatalf("state = %s", v.State)
	}
}

func TestGibberishPrimaryIsOutvoted(t *testing.T) {
	clean := map[int]string{1: prose, 2: prose2}
	h := newHarness(t, returns(map[int]string{1: gibberish, 2: gibberish}), returns(clean), returns(clean))

	out, err := h.engine.Arbitrate(context.Background(), testDoc(2), Options{})
	if err != nil {
		t.Fatal(err)
	}
	v := out.Verdict
	if !v.Escalated || v.GateScore >= 0.5 {
		t.Fatalf("expected escalation, verdict %+v", v)
	}
	if v.Score < 0.85 || v.Label != constants.LabelAutoAccept {
		t.Fatalf("score %.3f label %s", v.Score, v.Label)
	}
	if v.Winner != constants.WitnessOCRLocal {
		t.Fatalf("winner = %s", v.Winner)
	}
	if out.Reports[constants.WitnessPrimaryML].Cleanliness >= 0.5 {
		t.Fatalf("gibberish primary scored clean: %+v", out.Reports[constants.WitnessPrimaryML])
	}
	if len(v.Invoked) != 3 {
		t.Fatalf("invoked %v", v.Invoked)
	}
}

func TestPartialCoverageCapsLabel(t *testing.T) {
	primary := map[int]string{1: prose, 2: prose2, 3: prose}
	gate := uniform(10, prose2)
	gate[1], gate[3] = prose, prose
	h := newHarness(t, returns(primary), returns(gate), unexpected(t))

	out, err := h.engine.Arbitrate(context.Background(), testDoc(10), Options{})
	if err != nil {
		t.Fatal(err)
	}
	v := out.Verdict
	if v.GateScore != 1 {
		t.Fatalf("agreement over the overlapping pages should be perfect, got %.3f", v.GateScore)
	}
	if !v.CoverageFlag {
		t.Fatalf("coverage flag not set: %+v", v)
	}
	if v.Label != constants.LabelFlag {
		t.Fatalf("label = %s, want flag", v.Label)
	}
}

func TestAllWitnessesFailed(t *testing.T) {
	h := newHarness(t, fails(constants.WitnessPrimaryML), fails(constants.WitnessOCRCloud), fails(constants.WitnessOCRLocal))

	out, err := h.engine.Arbitrate(context.Background(), testDoc(2), Options{})
	if err != nil {
		t.Fatal(err)
	}
	v := out.Verdict
	if !v.AllFailed || v.Label != constants.LabelReview || v.State != constants.StateReview || v.Winner != "" {
		t.Fatalf("verdict %+v", v)
	}
	if out.Status != constants.OutcomeReview || out.Pages != nil {
		t.Fatalf("outcome %+v", out)
	}
	rec, err := h.repo.Load(context.Background(), "shelf/doc-1")
	if err != nil {
		t.Fatal(err)
	}
	for id, e := range rec.Witnesses {
		if e.Succeeded || e.Coverage != 0 || e.Error == "" {
			t.Fatalf("%s entry %+v", id, e)
		}
	}
	if rec.TextLocation != "" {
		t.Fatalf("no accepted output expected, got %s", rec.TextLocation)
	}
}

func TestCompleteCheckpointShortCircuits(t *testing.T) {
	repo := repository.NewMemoryRepository()
	first := newHarnessWithRepo(t, repo, returns(uniform(2, prose)), returns(uniform(2, prose)), unexpected(t))
	done, err := first.engine.Arbitrate(context.Background(), testDoc(2), Options{})
	if err != nil {
		t.Fatal(err)
	}

	second := newHarnessWithRepo(t, repo, unexpected(t), unexpected(t), unexpected(t))
	out, err := second.engine.Arbitrate(context.Background(), testDoc(2), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Skipped || out.Status != constants.OutcomeSkipped {
		t.Fatalf("outcome %+v", out)
	}
	if diff := cmp.Diff(done.Verdict, out.Verdict); diff != "" {
		t.Fatalf("stored verdict (-want +got):\n%s", diff)
	}

	third := newHarnessWithRepo(t, repo, returns(uniform(2, prose)), returns(uniform(2, prose)), unexpected(t))
	out, err = third.engine.Arbitrate(context.Background(), testDoc(2), Options{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.Skipped || third.count(constants.WitnessPrimaryML) != 1 {
		t.Fatalf("force did not rerun: %+v", out)
	}
	if out.Verdict.RunID == done.Verdict.RunID {
		t.Fatal("forced run reused the old verdict")
	}
}

func TestResumeReusesSuccessfulWitnesses(t *testing.T) {
	repo := repository.NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := func(ctx context.Context, _ entity.Document, _ witness.Options) (entity.WitnessResult, error) {
		cancel()
		return entity.WitnessResult{}, common.NewExtractionFailure(constants.WitnessOCRLocal, false, ctx.Err())
	}
	first := newHarnessWithRepo(t, repo, returns(uniform(2, prose)), fails(constants.WitnessOCRCloud), interrupt)
	out, err := first.engine.Arbitrate(ctx, testDoc(2), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != constants.OutcomeCancelled {
		t.Fatalf("status = %s", out.Status)
	}
	rec, err := repo.Load(context.Background(), "shelf/doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.IsComplete() {
		t.Fatal("cancelled run must not complete the record")
	}
	if _, ok := rec.Witnesses[constants.WitnessOCRLocal]; ok {
		t.Fatal("cancelled escalation result was persisted")
	}

	second := newHarnessWithRepo(t, repo, unexpected(t), returns(uniform(2, prose)), unexpected(t))
	out, err = second.engine.Arbitrate(context.Background(), testDoc(2), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != constants.OutcomeAccepted || out.Verdict.Escalated {
		t.Fatalf("outcome %+v verdict %+v", out, out.Verdict)
	}
	rec, err = repo.Load(context.Background(), "shelf/doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if got := rec.Witnesses[constants.WitnessOCRCloud].Attempts; got != 2 {
		t.Fatalf("gate attempts = %d, want 2", got)
	}
	if got := rec.Witnesses[constants.WitnessPrimaryML].Attempts; got != 1 {
		t.Fatalf("primary attempts = %d, want 1", got)
	}
}

func TestCancelledBeforeStart(t *testing.T) {
	h := newHarness(t, unexpected(t), unexpected(t), unexpected(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := h.engine.Arbitrate(ctx, testDoc(1), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != constants.OutcomeCancelled {
		t.Fatalf("status = %s", out.Status)
	}
}

func TestScriptDetectedFromPrimary(t *testing.T) {
	var seen atomic.Value
	escalation := func(_ context.Context, _ entity.Document, opts witness.Options) (entity.WitnessResult, error) {
		seen.Store(opts.Script)
		return entity.WitnessResult{Pages: uniform(1, "الخرائط الإسلامية في العصور الوسطى"), Succeeded: true}, nil
	}
	h := newHarness(t, returns(uniform(1, "الخرائط الإسلامية في العصور الوسطى")), fails(constants.WitnessOCRCloud), escalation)

	if _, err := h.engine.Arbitrate(context.Background(), testDoc(1), Options{}); err != nil {
		t.Fatal(err)
	}
	if got, _ := seen.Load().(constants.Script); got != constants.ScriptArabic {
		t.Fatalf("escalation script = %q", got)
	}
}

type brokenRepo struct {
	repository.CheckpointRepository
}

func (brokenRepo) Load(context.Context, string) (*entity.CheckpointRecord, error) {
	return nil, errors.New("disk on fire")
}

func TestStoreFailureIsReturned(t *testing.T) {
	h := newHarnessWithRepo(t, brokenRepo{repository.NewMemoryRepository()}, unexpected(t), unexpected(t), unexpected(t))
	if _, err := h.engine.Arbitrate(context.Background(), testDoc(1), Options{}); err == nil {
		t.Fatal("expected store error")
	}
}

func TestArbitrateRejectsInvalidDocument(t *testing.T) {
	h := newHarness(t, unexpected(t), unexpected(t), unexpected(t))
	_, err := h.engine.Arbitrate(context.Background(), entity.Document{Key: "k"}, Options{})
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewEngineRequiresRoleWitnesses(t *testing.T) {
	cfg := common.DefaultConfig()
	store, err := artifacts.NewFSStore(filepath.Join(t.TempDir(), "a"), nil)
	if err != nil {
		t.Fatal(err)
	}
	set := witness.NewSetFrom(witness.Func(constants.WitnessPrimaryML, returns(nil)))
	_, err = NewEngine(cfg.Arbitration, quality.NewDetector(cfg.Corruption), set, repository.NewMemoryRepository(), store, nil)
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}
