package witness

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

type retrying struct {
	next   Extractor
	cfg    common.RetryConfig
	logger *slog.Logger
}

// WithRetry retries Retryable extraction failures with exponential backoff.
// MaxAttempts <= 1 returns e unchanged.
func WithRetry(e Extractor, cfg common.RetryConfig, logger *slog.Logger) Extractor {
	if cfg.MaxAttempts <= 1 {
		return e
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &retrying{next: e, cfg: cfg, logger: logger}
}

func (r *retrying) ID() constants.WitnessID { return r.next.ID() }

func (r *retrying) Extract(ctx context.Context, doc entity.Document, opts Options) (entity.WitnessResult, error) {
	backoff := r.cfg.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		res, err := r.next.Extract(ctx, doc, opts)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !common.IsRetryable(err) || attempt == r.cfg.MaxAttempts {
			break
		}
		r.logger.Warn("witness.retry",
			"witness", r.next.ID(),
			"doc_key", doc.Key,
			"run_id", common.RunIDFromContext(ctx),
			"attempt", attempt,
			"max_attempts", r.cfg.MaxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return entity.WitnessResult{}, common.NewExtractionFailure(r.next.ID(), false, ctx.Err())
		}
	}
	return entity.WitnessResult{}, lastErr
}
