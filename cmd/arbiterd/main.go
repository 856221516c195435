package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/witness-arbiter/internal/arbiter"
	"github.com/joseph-ayodele/witness-arbiter/internal/async"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/ingest"
	svc "github.com/joseph-ayodele/witness-arbiter/internal/server"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional, env overrides apply)")
	flag.Parse()

	// message and attributes only, the supervisor adds time
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	cfg, err := common.LoadConfigFile(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	addr := cfg.Server.GRPCAddr
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := svc.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	processor := async.ProcessorFunc(func(ctx context.Context, job async.Job) error {
		out, err := rt.Engine.Arbitrate(ctx, job.Document, arbiter.Options{Force: job.Force, Script: job.Script})
		if err != nil {
			return err
		}
		attrs := []any{"doc_key", out.DocKey, "status", out.Status, "trace_id", job.TraceID}
		if out.Verdict != nil {
			attrs = append(attrs, "label", out.Verdict.Label, "score", out.Verdict.Score, "winner", out.Verdict.Winner)
		}
		logger.Info("job.done", attrs...)
		return nil
	})
	queue := async.NewProcessorQueue(processor, logger,
		async.WithWorkers(cfg.Batch.Workers),
		async.WithQueueSize(cfg.Batch.QueueSize),
		async.WithProcessTimeout(cfg.Batch.DocumentTimeout),
	)

	ingestor := ingest.NewFSIngestor(cfg.Server.InboxDir, logger)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", addr, "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(svc.UnaryLogger(logger)))
	svc.RegisterArbiterServer(grpcServer, svc.NewArbiterService(rt.Engine, rt.Repo, ingestor, queue, logger))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	if cfg.Server.InboxDir != "" {
		if err := watchInbox(ctx, cfg, ingestor, queue, logger); err != nil {
			logger.Error("failed to watch inbox", "dir", cfg.Server.InboxDir, "error", err)
			os.Exit(1)
		}
	}

	logger.Info("arbiterd listening", "addr", addr, "store", cfg.Store.Driver, "artifacts", cfg.Artifacts.Root)
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("gRPC serve error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	healthServer.Shutdown()
	grpcServer.GracefulStop()

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	queue.Shutdown(drainCtx)
}

// watchInbox queues every document that appears under the inbox directory.
func watchInbox(ctx context.Context, cfg *common.Config, ing ingest.Ingestor, queue async.Queue, logger *slog.Logger) error {
	root, err := filepath.Abs(cfg.Server.InboxDir)
	if err != nil {
		return err
	}
	events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       []string{root},
		InitialScan: true,
		Debounce:    cfg.Server.Debounce,
		SkipHidden:  cfg.Batch.SkipHidden,
	}, logger)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case path, ok := <-events:
				if !ok {
					return
				}
				doc, err := ing.IngestPath(ctx, path)
				if err != nil {
					logger.Warn("inbox.ingest_failed", "path", path, "error", err)
					continue
				}
				job := async.Job{Document: doc, SubmittedAt: time.Now()}
				if err := queue.Enqueue(ctx, job); err != nil {
					logger.Warn("inbox.enqueue_failed", "doc_key", doc.Key, "error", err)
					continue
				}
				logger.Info("inbox.queued", "doc_key", doc.Key, "path", path)
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				logger.Error("inbox.watch_error", "error", err)
			}
		}
	}()
	logger.Info("inbox watching", "dir", root)
	return nil
}
