package async

import (
	"context"
	"errors"
	"time"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

var ErrQueueClosed = errors.New("queue is shutting down")

// Job asks for one document to be arbitrated.
type Job struct {
	Document    entity.Document
	Force       bool
	Script      constants.Script
	SubmittedAt time.Time
	TraceID     string
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Processor handles one job on a worker goroutine.
type Processor interface {
	Process(ctx context.Context, job Job) error
}

type ProcessorFunc func(ctx context.Context, job Job) error

func (f ProcessorFunc) Process(ctx context.Context, job Job) error { return f(ctx, job) }
