package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/arbiter"
	"github.com/joseph-ayodele/witness-arbiter/internal/batch"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/export"
	"github.com/joseph-ayodele/witness-arbiter/internal/ingest"
	"github.com/joseph-ayodele/witness-arbiter/internal/server"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file (optional, env overrides apply)")
		dir        = flag.String("dir", "", "directory of PDFs and image-set folders, or a single document (required)")
		force      = flag.Bool("force", false, "re-arbitrate documents that already have a verdict")
		scriptStr  = flag.String("script", "", "script hint: latin, arabic, persian, urdu, greek")
		out        = flag.String("out", "", "write the summary workbook to this XLSX path")
		asJSON     = flag.Bool("json", false, "print the summary as JSON instead of a table")
		inmem      = flag.Bool("inmem", false, "keep checkpoints in memory (nothing is resumable)")
		workers    = flag.Int("workers", 0, "override batch.workers")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	var script constants.Script
	if *scriptStr != "" {
		script = constants.ParseScript(*scriptStr)
		if script == constants.ScriptUnknown {
			printError("Error: unknown --script %q\n", *scriptStr)
			os.Exit(1)
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := common.LoadConfigFile(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *inmem {
		cfg.Store.Driver = "memory"
	}
	if *workers > 0 {
		cfg.Batch.Workers = *workers
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := server.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	items, err := discover(ctx, *dir, cfg.Batch.SkipHidden, logger)
	if err != nil {
		logger.Error("failed to ingest", "dir", *dir, "error", err)
		os.Exit(1)
	}

	runner := batch.NewRunner(rt.Engine, cfg.Batch, logger)
	sum, runErr := runner.Run(ctx, items, arbiter.Options{Force: *force, Script: script})

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			logger.Error("failed to write summary", "error", err)
		}
	} else if err := sum.Write(os.Stdout); err != nil {
		logger.Error("failed to write summary", "error", err)
	}

	if *out != "" {
		data, err := export.NewService(logger).SummaryXLSX(sum)
		if err != nil {
			logger.Error("failed to build workbook", "error", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			logger.Error("failed to write workbook", "path", *out, "error", err)
			os.Exit(1)
		}
		logger.Info("workbook written", "path", *out, "bytes", len(data))
	}

	if runErr != nil {
		logger.Error("batch aborted", "error", runErr)
		os.Exit(1)
	}
}

// discover ingests dir, which may itself be a single PDF or image set.
func discover(ctx context.Context, dir string, skipHidden bool, logger *slog.Logger) ([]batch.Item, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() || ingest.IsImageSet(abs) {
		ing := ingest.NewFSIngestor(filepath.Dir(abs), logger)
		doc, err := ing.IngestPath(ctx, abs)
		if err != nil {
			doc.Key = ingest.DocumentKey(filepath.Dir(abs), abs)
			doc.SourcePath = abs
		}
		return []batch.Item{{Document: doc, Err: err}}, nil
	}

	ing := ingest.NewFSIngestor(abs, logger)
	results, stats, err := ing.IngestDirectory(ctx, abs, skipHidden)
	if err != nil {
		return nil, err
	}
	logger.Info("ingest.done",
		"dir", abs, "scanned", stats.Scanned, "matched", stats.Matched,
		"succeeded", stats.Succeeded, "failed", stats.Failed)

	items := make([]batch.Item, 0, len(results))
	for _, r := range results {
		doc := r.Document
		if doc.Key == "" {
			doc.Key = r.SourcePath
			doc.SourcePath = r.SourcePath
		}
		items = append(items, batch.Item{Document: doc, Err: r.Err})
	}
	return items, nil
}
