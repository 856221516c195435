// Package server exposes the arbitration engine over gRPC.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/arbiter"
	"github.com/joseph-ayodele/witness-arbiter/internal/async"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
	"github.com/joseph-ayodele/witness-arbiter/internal/ingest"
	"github.com/joseph-ayodele/witness-arbiter/internal/repository"
)

type Arbiter interface {
	Arbitrate(ctx context.Context, doc entity.Document, opts arbiter.Options) (arbiter.Outcome, error)
}

type ArbiterService struct {
	engine   Arbiter
	repo     repository.CheckpointRepository
	ingestor ingest.Ingestor
	queue    async.Queue
	logger   *slog.Logger
}

func NewArbiterService(engine Arbiter, repo repository.CheckpointRepository, ing ingest.Ingestor, queue async.Queue, logger *slog.Logger) *ArbiterService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArbiterService{engine: engine, repo: repo, ingestor: ing, queue: queue, logger: logger}
}

// request is the decoded form of Arbitrate and Submit requests.
type request struct {
	DocKey string
	Path   string
	Script constants.Script
	Force  bool
}

func decodeRequest(in *structpb.Struct) (request, error) {
	f := in.GetFields()
	req := request{
		DocKey: strings.TrimSpace(f["doc_key"].GetStringValue()),
		Path:   strings.TrimSpace(f["path"].GetStringValue()),
		Force:  f["force"].GetBoolValue(),
	}
	if s := f["script"].GetStringValue(); s != "" {
		req.Script = constants.ParseScript(s)
		if req.Script == constants.ScriptUnknown {
			return req, common.InvalidArgumentErrorf("unknown script %q", s)
		}
	}
	if req.Path == "" {
		return req, common.InvalidArgumentError("path is required")
	}
	return req, nil
}

func (s *ArbiterService) ingest(ctx context.Context, req request) (entity.Document, error) {
	doc, err := s.ingestor.IngestPath(ctx, req.Path)
	if err != nil {
		s.logger.Warn("rpc.ingest_failed", "path", req.Path, "error", err)
		return entity.Document{}, common.StatusFromError(err)
	}
	if req.DocKey != "" {
		doc.Key = req.DocKey
	}
	return doc, nil
}

func (s *ArbiterService) Arbitrate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in)
	if err != nil {
		return nil, err
	}
	doc, err := s.ingest(ctx, req)
	if err != nil {
		return nil, err
	}
	out, err := s.engine.Arbitrate(ctx, doc, arbiter.Options{Force: req.Force, Script: req.Script})
	if err != nil {
		s.logger.Error("rpc.arbitrate_failed", "doc_key", doc.Key, "error", err)
		return nil, common.StatusFromError(err)
	}
	if out.Status == constants.OutcomeCancelled {
		return nil, status.Error(codes.Canceled, "arbitration cancelled")
	}
	return toStruct(map[string]any{
		"doc_key": doc.Key,
		"status":  out.Status,
		"skipped": out.Skipped,
		"verdict": out.Verdict,
	})
}

func (s *ArbiterService) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.queue == nil {
		return nil, status.Error(codes.Unimplemented, "no worker queue configured")
	}
	req, err := decodeRequest(in)
	if err != nil {
		return nil, err
	}
	doc, err := s.ingest(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, async.Job{Document: doc, Force: req.Force, Script: req.Script, TraceID: common.RequestIDFromContext(ctx)}); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return toStruct(map[string]any{"doc_key": doc.Key, "queued": true})
}

func (s *ArbiterService) GetCheckpoint(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key := strings.TrimSpace(in.GetFields()["doc_key"].GetStringValue())
	if key == "" {
		return nil, common.InvalidArgumentError("doc_key is required")
	}
	rec, err := s.repo.Load(ctx, key)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NotFoundError(fmt.Sprintf("no checkpoint for %q", key))
	}
	if err != nil {
		return nil, common.StatusFromError(err)
	}
	return toStruct(rec)
}

// toStruct converts v through its JSON form, so the wire shape matches what is stored.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, common.InternalErrorf("encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, common.InternalErrorf("encode response: %v", err)
	}
	return out, nil
}

// UnaryLogger tags each call with a request ID and logs its outcome.
func UnaryLogger(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		id := uuid.NewString()
		ctx = common.WithRequestID(ctx, id)
		resp, err := handler(ctx, req)
		attrs := []any{"method", info.FullMethod, "request_id", id, "code", status.Code(err).String(), "elapsed_ms", time.Since(start).Milliseconds()}
		if err != nil {
			logger.Warn("rpc.failed", append(attrs, "error", err)...)
		} else {
			logger.Info("rpc.ok", attrs...)
		}
		return resp, err
	}
}
