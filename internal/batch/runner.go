// Package batch arbitrates a set of documents on the worker queue and
// summarises the outcome of every one of them.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/arbiter"
	"github.com/joseph-ayodele/witness-arbiter/internal/async"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

// Arbiter is the part of the engine the runner needs.
type Arbiter interface {
	Arbitrate(ctx context.Context, doc entity.Document, opts arbiter.Options) (arbiter.Outcome, error)
}

// Item is one discovered document, or the reason it could not be ingested.
type Item struct {
	Document entity.Document
	Err      error
}

// key falls back to the source path for sources that failed before a key was assigned.
func (it Item) key() string {
	if it.Document.Key != "" {
		return it.Document.Key
	}
	return it.Document.SourcePath
}

type Runner struct {
	arb    Arbiter
	cfg    common.BatchConfig
	logger *slog.Logger
}

func NewRunner(arb Arbiter, cfg common.BatchConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{arb: arb, cfg: cfg, logger: logger}
}

// Run arbitrates every ingested item. Document-level failures are recorded in
// the summary. A store failure cancels the remaining work and is returned
// together with the partial summary.
func (r *Runner) Run(ctx context.Context, items []Item, opts arbiter.Options) (*Summary, error) {
	start := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]Result, len(items))
		fatal   error
	)
	record := func(res Result) {
		mu.Lock()
		results[res.DocKey] = res
		mu.Unlock()
	}

	proc := async.ProcessorFunc(func(ctx context.Context, job async.Job) error {
		out, err := r.arb.Arbitrate(ctx, job.Document, arbiter.Options{Force: job.Force, Script: job.Script})
		if err != nil {
			res := Result{DocKey: job.Document.Key, Source: job.Document.SourcePath, Status: constants.OutcomeFailed, Reason: err.Error()}
			if isFatal(err) {
				mu.Lock()
				if fatal == nil {
					fatal = fmt.Errorf("document %q: %w", job.Document.Key, err)
				}
				mu.Unlock()
				cancel()
			}
			record(res)
			return err
		}
		record(resultFromOutcome(job.Document, out))
		return nil
	})

	q := async.NewProcessorQueue(proc, r.logger,
		async.WithWorkers(r.cfg.Workers),
		async.WithQueueSize(r.cfg.QueueSize),
		async.WithProcessTimeout(r.cfg.DocumentTimeout),
		async.WithBaseContext(runCtx),
	)
	for _, it := range items {
		if it.Err != nil {
			r.logger.Warn("batch.ingest_failed", "doc_key", it.key(), "error", it.Err)
			record(Result{DocKey: it.key(), Source: it.Document.SourcePath, Status: constants.OutcomeFailed, Reason: it.Err.Error()})
			continue
		}
		if runCtx.Err() != nil {
			break
		}
		if err := q.Enqueue(runCtx, async.Job{Document: it.Document, Force: opts.Force, Script: opts.Script}); err != nil {
			break
		}
	}
	q.Shutdown(context.Background())

	// every document appears in the summary, including ones never started
	for _, it := range items {
		if _, ok := results[it.key()]; !ok {
			results[it.key()] = Result{DocKey: it.key(), Source: it.Document.SourcePath, Status: constants.OutcomeCancelled}
		}
	}
	sum := summarize(results, time.Since(start))
	r.logger.Info("batch.done",
		"documents", len(sum.Results), "accepted", sum.Accepted, "review", sum.Review,
		"failed", sum.Failed, "skipped", sum.Skipped, "cancelled", sum.Cancelled,
		"elapsed_ms", sum.Elapsed.Milliseconds())
	return sum, fatal
}

// isFatal separates store failures from problems with a single document.
func isFatal(err error) bool {
	switch {
	case errors.Is(err, common.ErrCheckpointCorruption):
		return true
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrCorruptInput):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func resultFromOutcome(doc entity.Document, out arbiter.Outcome) Result {
	res := Result{DocKey: doc.Key, Source: doc.SourcePath, Status: out.Status, Elapsed: out.Elapsed}
	if v := out.Verdict; v != nil {
		res.Label = v.Label
		res.Score = v.Score
		res.Winner = v.Winner
		res.Escalated = v.Escalated
		res.CoverageFlag = v.CoverageFlag
		res.AllFailed = v.AllFailed
		if v.AllFailed {
			res.Reason = common.ErrAllWitnessesFailed.Error()
		}
	}
	return res
}

func sortResults(rs []Result) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].DocKey < rs[j].DocKey })
}
