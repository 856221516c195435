package witness

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter caps cloud calls process-wide: a token bucket for request rate and a
// semaphore for in-flight requests. One Limiter is shared by every worker.
type Limiter struct {
	rate *rate.Limiter
	sem  *semaphore.Weighted
}

// NewLimiter builds a limiter; perMinute <= 0 disables the rate limit and
// maxConcurrent <= 0 disables the concurrency cap.
func NewLimiter(perMinute float64, burst int, maxConcurrent int64) *Limiter {
	l := &Limiter{}
	if perMinute > 0 {
		if burst <= 0 {
			burst = 1
		}
		l.rate = rate.NewLimiter(rate.Limit(perMinute/60.0), burst)
	}
	if maxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(maxConcurrent)
	}
	return l
}

// Acquire blocks until a call may start. The returned release must be called
// when the call finishes.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	release := func() {
		if l.sem != nil {
			l.sem.Release(1)
		}
	}
	if l.rate != nil {
		if err := l.rate.Wait(ctx); err != nil {
			release()
			return nil, err
		}
	}
	return release, nil
}
