// Package arbiter runs the witness state machine for one document at a time:
// primary and gate in parallel, an agreement gate, escalation to a third
// witness and a final quality verdict.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/artifacts"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
	"github.com/joseph-ayodele/witness-arbiter/internal/quality"
	"github.com/joseph-ayodele/witness-arbiter/internal/repository"
	"github.com/joseph-ayodele/witness-arbiter/internal/witness"
)

var errCancelled = errors.New("arbitration cancelled")

// Options are per-document overrides.
type Options struct {
	// Force discards a stored verdict and stored witness results.
	Force bool
	// Script overrides the document's script hint.
	Script constants.Script
}

// Outcome is the engine's answer for one document. Pages and Layout hold the
// accepted output and have the same shape whichever witness won.
type Outcome struct {
	DocKey  string
	Status  constants.OutcomeStatus
	Verdict *entity.QualityVerdict
	Pages   map[int]string
	Layout  map[int][]entity.LayoutElement
	Reports map[constants.WitnessID]entity.CorruptionReport
	Skipped bool
	Elapsed time.Duration
}

type Engine struct {
	cfg        common.ArbitrationConfig
	detector   *quality.Detector
	witnesses  *witness.Set
	repo       repository.CheckpointRepository
	store      artifacts.Store
	logger     *slog.Logger
	primary    constants.WitnessID
	gate       constants.WitnessID
	escalation constants.WitnessID
}

func NewEngine(cfg common.ArbitrationConfig, detector *quality.Detector, witnesses *witness.Set,
	repo repository.CheckpointRepository, store artifacts.Store, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if detector == nil || witnesses == nil || repo == nil || store == nil {
		return nil, fmt.Errorf("%w: engine needs a detector, witnesses, a checkpoint repository and an artifact store", common.ErrInvalidInput)
	}
	e := &Engine{
		cfg:        cfg,
		detector:   detector,
		witnesses:  witnesses,
		repo:       repo,
		store:      store,
		logger:     logger,
		primary:    constants.WitnessID(cfg.Primary),
		gate:       constants.WitnessID(cfg.Gate),
		escalation: constants.WitnessID(cfg.Escalation),
	}
	for _, id := range e.roles() {
		if _, ok := witnesses.Get(id); !ok {
			return nil, fmt.Errorf("%w: no extractor for witness %q", common.ErrInvalidInput, id)
		}
	}
	return e, nil
}

// roles lists the configured witnesses in invocation order.
func (e *Engine) roles() []constants.WitnessID {
	if e.gate == "" {
		return []constants.WitnessID{e.primary, e.escalation}
	}
	return []constants.WitnessID{e.primary, e.gate, e.escalation}
}

// Arbitrate drives one document to a verdict. Witness failures are recorded and
// scored; the returned error is reserved for invalid input and store failures.
func (e *Engine) Arbitrate(ctx context.Context, doc entity.Document, opts Options) (Outcome, error) {
	if doc.Key == "" || doc.PageCount < 1 {
		return Outcome{}, fmt.Errorf("%w: document needs a key and at least one page", common.ErrInvalidInput)
	}
	start := time.Now()
	runID := uuid.New()
	ctx = common.WithRunID(common.WithDocKey(ctx, doc.Key), runID.String())
	log := e.logger.With("doc_key", doc.Key, "run_id", runID.String())

	rec, err := e.repo.Load(ctx, doc.Key)
	switch {
	case errors.Is(err, common.ErrNotFound):
		rec = entity.NewCheckpointRecord(doc.Key)
	case err != nil:
		return Outcome{}, fmt.Errorf("load checkpoint: %w", err)
	}

	changed := rec.ContentHash != "" && doc.ContentHash != "" && rec.ContentHash != doc.ContentHash
	if changed {
		log.Warn("arbiter.content_changed", "stored_hash", rec.ContentHash, "content_hash", doc.ContentHash, "force", opts.Force)
	}
	if rec.IsComplete() && !opts.Force {
		log.Info("arbiter.skip", "label", rec.Verdict.Label, "state", rec.Verdict.State)
		return Outcome{
			DocKey:  doc.Key,
			Status:  constants.OutcomeSkipped,
			Verdict: rec.Verdict,
			Skipped: true,
			Elapsed: time.Since(start),
		}, nil
	}
	if ctx.Err() != nil {
		return e.cancelled(log, doc.Key, start), nil
	}

	rec, err = e.repo.Update(ctx, doc.Key, func(r *entity.CheckpointRecord) error {
		if opts.Force || changed {
			r.Reset()
		}
		if doc.ContentHash != "" {
			r.ContentHash = doc.ContentHash
		}
		r.State = constants.StatePrimaryRun
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("start checkpoint: %w", err)
	}
	if len(rec.Witnesses) > 0 {
		log.Info("arbiter.resume", "state", rec.State, "stored_witnesses", len(rec.Witnesses))
	}

	script := opts.Script
	if script == constants.ScriptUnknown {
		script = doc.Script
	}
	r := &run{
		engine: e,
		doc:    doc,
		script: script,
		stored: rec.Witnesses,
		runID:  runID,
		log:    log,
		start:  start,
	}
	out, err := r.execute(ctx)
	if errors.Is(err, errCancelled) {
		return e.cancelled(log, doc.Key, start), nil
	}
	return out, err
}

func (e *Engine) cancelled(log *slog.Logger, key string, start time.Time) Outcome {
	log.Warn("arbiter.cancelled", "elapsed_ms", time.Since(start).Milliseconds())
	return Outcome{DocKey: key, Status: constants.OutcomeCancelled, Elapsed: time.Since(start)}
}

// run holds the state of one arbitration of one document.
type run struct {
	engine *Engine
	doc    entity.Document
	script constants.Script
	stored map[constants.WitnessID]entity.WitnessEntry
	runID  uuid.UUID
	log    *slog.Logger
	start  time.Time
}

func (r *run) execute(ctx context.Context) (Outcome, error) {
	e := r.engine

	var primary, gate entity.WitnessResult
	g, gctx := errgroup.WithContext(ctx)
	hint := r.script
	g.Go(func() error {
		var err error
		primary, err = r.obtain(gctx, e.primary, hint)
		return err
	})
	if e.gate != "" {
		g.Go(func() error {
			var err error
			gate, err = r.obtain(gctx, e.gate, hint)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Outcome{}, err
	}
	if ctx.Err() != nil {
		return Outcome{}, errCancelled
	}

	if r.script == constants.ScriptUnknown {
		r.script = detectScript(primary, gate)
		if r.script != constants.ScriptUnknown {
			r.log.Info("arbiter.script_detected", "script", r.script)
		}
	}

	if err := r.setState(ctx, constants.StateGateCheck); err != nil {
		return Outcome{}, err
	}
	invoked := []entity.WitnessResult{primary}
	var gateScore float64
	if e.gate != "" {
		invoked = append(invoked, gate)
		gateScore = r.gateScore(primary, gate)
		if primary.Succeeded && gateScore >= e.cfg.GateThreshold {
			r.log.Info("arbiter.gate.ok", "gate_score", gateScore, "threshold", e.cfg.GateThreshold)
			return r.finalize(ctx, invoked, &gateScore, gateScore, false)
		}
	}
	r.log.Info("arbiter.gate.escalate", "gate_score", gateScore, "threshold", e.cfg.GateThreshold)

	if ctx.Err() != nil {
		return Outcome{}, errCancelled
	}
	if err := r.setState(ctx, constants.StateEscalate); err != nil {
		return Outcome{}, err
	}
	if err := r.setState(ctx, constants.StateSecondaryRun); err != nil {
		return Outcome{}, err
	}
	secondary, err := r.obtain(ctx, e.escalation, r.script)
	if err != nil {
		return Outcome{}, err
	}
	if err := r.setState(ctx, constants.StateFinalCheck); err != nil {
		return Outcome{}, err
	}
	invoked = append(invoked, secondary)
	return r.finalize(ctx, invoked, nil, gateScore, true)
}

// gateScore is the agreement of primary and gate, 0 when either failed or no
// page overlaps.
func (r *run) gateScore(primary, gate entity.WitnessResult) float64 {
	if !primary.Succeeded || !gate.Succeeded {
		return 0
	}
	m := quality.Pairwise([]entity.WitnessResult{primary, gate}, r.script)
	s, ok := m.Get(primary.Witness, gate.Witness)
	if !ok {
		return 0
	}
	return s.Score
}

// obtain returns a stored successful result for id when there is one, otherwise
// invokes the witness and persists what it returned.
func (r *run) obtain(ctx context.Context, id constants.WitnessID, script constants.Script) (entity.WitnessResult, error) {
	e := r.engine
	log := r.log.With("witness", id)

	if entry, ok := r.stored[id]; ok && entry.Succeeded && entry.Location != "" {
		res, err := e.store.GetWitness(ctx, entry.Location)
		switch {
		case err == nil:
			log.Info("arbiter.witness.reused", "result_id", res.ID)
			return res, nil
		case errors.Is(err, common.ErrNotFound):
			log.Warn("arbiter.witness.artifact_missing", "location", entry.Location)
		default:
			return entity.WitnessResult{}, fmt.Errorf("load %s result: %w", id, err)
		}
	}

	if ctx.Err() != nil {
		return entity.WitnessResult{}, errCancelled
	}
	ext, _ := e.witnesses.Get(id)
	t0 := time.Now()
	res, err := ext.Extract(ctx, r.doc, witness.Options{Script: script})
	if ctx.Err() != nil {
		// late results are discarded, never persisted
		return entity.WitnessResult{}, errCancelled
	}
	if err != nil {
		res = entity.Failed(id, r.doc.Key, r.doc.AllPages(), time.Since(t0), err)
		log.Warn("arbiter.witness.failed", "error", err, "retryable", common.IsRetryable(err), "elapsed_ms", time.Since(t0).Milliseconds())
	} else {
		res = r.complete(res, id, t0)
		log.Info("arbiter.witness.ok", "pages", len(res.Pages), "coverage", quality.PageCoverage(res), "elapsed_ms", time.Since(t0).Milliseconds())
	}
	if err := r.persist(ctx, res); err != nil {
		return entity.WitnessResult{}, err
	}
	return res, nil
}

// complete fills the bookkeeping fields an extractor may leave empty.
func (r *run) complete(res entity.WitnessResult, id constants.WitnessID, t0 time.Time) entity.WitnessResult {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	res.Witness = id
	res.DocKey = r.doc.Key
	if res.Pages == nil {
		res.Pages = map[int]string{}
	}
	if len(res.RequestedPages) == 0 {
		res.RequestedPages = r.doc.AllPages()
	}
	if res.Duration == 0 {
		res.Duration = time.Since(t0)
	}
	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now().UTC()
	}
	return res
}

func (r *run) persist(ctx context.Context, res entity.WitnessResult) error {
	e := r.engine
	loc, err := e.store.PutWitness(ctx, r.doc.Key, res)
	if err != nil {
		return fmt.Errorf("store %s result: %w", res.Witness, err)
	}
	_, err = e.repo.Update(ctx, r.doc.Key, func(rec *entity.CheckpointRecord) error {
		prev := rec.Witnesses[res.Witness]
		rec.Witnesses[res.Witness] = entity.WitnessEntry{
			ResultID:    res.ID,
			Location:    loc,
			Succeeded:   res.Succeeded,
			Coverage:    quality.PageCoverage(res),
			Error:       res.Error,
			Attempts:    prev.Attempts + 1,
			CompletedAt: res.CompletedAt,
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record %s result: %w", res.Witness, err)
	}
	return nil
}

func (r *run) setState(ctx context.Context, s constants.ArbitrationState) error {
	_, err := r.engine.repo.Update(ctx, r.doc.Key, func(rec *entity.CheckpointRecord) error {
		rec.State = s
		return nil
	})
	if err != nil {
		return fmt.Errorf("set state %s: %w", s, err)
	}
	return nil
}

func (r *run) finalize(ctx context.Context, invoked []entity.WitnessResult, agreement *float64, gateScore float64, escalated bool) (Outcome, error) {
	e := r.engine
	if ctx.Err() != nil {
		return Outcome{}, errCancelled
	}
	d := decide(e.cfg, e.detector, r.doc.PageCount, invoked, r.script, e.primary, agreement)

	state := constants.StateAccepted
	if d.Label == constants.LabelReview {
		state = constants.StateReview
	}
	ids := make([]constants.WitnessID, 0, len(invoked))
	for _, res := range invoked {
		ids = append(ids, res.Witness)
	}
	verdict := &entity.QualityVerdict{
		RunID:           r.runID,
		Score:           d.Score,
		Label:           d.Label,
		State:           state,
		Winner:          d.Winner,
		Invoked:         ids,
		GateScore:       gateScore,
		Escalated:       escalated,
		Agreement:       d.Agreement,
		MeanCleanliness: d.Cleanliness,
		Coverage:        d.Coverage,
		CoverageFlag:    d.CoverageFlag,
		AllFailed:       d.AllFailed,
		DecidedAt:       time.Now().UTC(),
	}

	out := Outcome{DocKey: r.doc.Key, Verdict: verdict, Reports: d.Reports}
	var textLoc, layoutLoc string
	if d.Winner != "" {
		for _, res := range invoked {
			if res.Witness == d.Winner {
				out.Pages, out.Layout = res.Pages, res.Layout
			}
		}
		var err error
		textLoc, layoutLoc, err = e.store.PutAccepted(ctx, r.doc.Key, entity.AcceptedOutput{
			DocKey: r.doc.Key,
			Winner: d.Winner,
			Label:  d.Label,
			Pages:  out.Pages,
			Layout: out.Layout,
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("store accepted output: %w", err)
		}
	}

	_, err := e.repo.Update(ctx, r.doc.Key, func(rec *entity.CheckpointRecord) error {
		rec.State = state
		rec.Verdict = verdict
		rec.TextLocation = textLoc
		rec.LayoutLocation = layoutLoc
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("save verdict: %w", err)
	}

	out.Status = constants.OutcomeAccepted
	if state == constants.StateReview {
		out.Status = constants.OutcomeReview
	}
	out.Elapsed = time.Since(r.start)
	attrs := []any{
		"label", d.Label, "score", d.Score, "winner", d.Winner, "escalated", escalated,
		"gate_score", gateScore, "coverage_flag", d.CoverageFlag, "elapsed_ms", out.Elapsed.Milliseconds(),
	}
	if d.AllFailed {
		r.log.Error("arbiter.all_failed", append(attrs, "error", common.ErrAllWitnessesFailed)...)
	} else {
		r.log.Info("arbiter.verdict", attrs...)
	}
	return out, nil
}

// detectScript reads the hint off the primary output, falling back to the gate.
func detectScript(results ...entity.WitnessResult) constants.Script {
	for _, res := range results {
		if !res.Succeeded {
			continue
		}
		if s := quality.DetectScript(res.JoinedText()); s != constants.ScriptUnknown {
			return s
		}
	}
	return constants.ScriptUnknown
}
