package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/ingest"
	"github.com/joseph-ayodele/witness-arbiter/internal/quality"
	"github.com/joseph-ayodele/witness-arbiter/internal/witness"
)

type pageReport struct {
	Page        int     `json:"page"`
	Chars       int     `json:"chars"`
	Cleanliness float64 `json:"cleanliness"`
	Text        string  `json:"text,omitempty"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		configPath = flag.String("config", "", "YAML config file")
		witnessID  = flag.String("witness", string(constants.WitnessOCRLocal), "witness to run: primary_ml, ocr_local, ocr_cloud")
		file       = flag.String("file", "", "PDF or image-set directory (required)")
		scriptStr  = flag.String("script", "", "script hint")
		pagesStr   = flag.String("pages", "", "comma separated page numbers, default all")
		showText   = flag.Bool("text", false, "include page text in the output")
		timeout    = flag.Duration("timeout", 5*time.Minute, "overall timeout")
	)
	flag.Parse()

	if *file == "" {
		logger.Error("usage", "cmd", "runwitness -witness <id> -file <path>")
		os.Exit(2)
	}
	id := constants.WitnessID(*witnessID)
	if !id.IsValid() {
		logger.Error("unknown witness", "witness", *witnessID)
		os.Exit(2)
	}
	pages, err := parsePages(*pagesStr)
	if err != nil {
		logger.Error("invalid --pages", "pages", *pagesStr, "error", err)
		os.Exit(2)
	}

	cfg, err := common.LoadConfigFile(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	abs, err := filepath.Abs(*file)
	if err != nil {
		logger.Error("invalid path", "file", *file, "error", err)
		os.Exit(1)
	}
	doc, err := ingest.NewFSIngestor(filepath.Dir(abs), logger).IngestPath(ctx, abs)
	if err != nil {
		logger.Error("ingest failed", "file", abs, "error", err)
		os.Exit(1)
	}

	set, err := witness.NewSetOf(ctx, cfg, logger, id)
	if err != nil {
		logger.Error("failed to build witness", "witness", id, "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := set.Close(); cerr != nil {
			logger.Error("close witness", "error", cerr)
		}
	}()
	w, _ := set.Get(id)

	script := constants.ParseScript(*scriptStr)
	start := time.Now()
	res, err := w.Extract(ctx, doc, witness.Options{Script: script, Pages: pages})
	dur := time.Since(start)
	if err != nil {
		logger.Error("witness failed",
			"witness", id, "doc_key", doc.Key, "retryable", common.IsRetryable(err),
			"error", err, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}

	if script == constants.ScriptUnknown {
		script = quality.DetectScript(strings.Join(pageTexts(res.Pages), "\n"))
	}
	det := quality.NewDetector(cfg.Corruption)
	var reports []pageReport
	for _, p := range res.PageNumbers() {
		text := res.Pages[p]
		r := pageReport{Page: p, Chars: len([]rune(text)), Cleanliness: det.Assess(quality.AssessmentForm(text, script), script).Cleanliness}
		if *showText {
			r.Text = text
		}
		reports = append(reports, r)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"witness":       id,
		"doc_key":       doc.Key,
		"page_count":    doc.PageCount,
		"script":        script,
		"cleanliness":   det.AssessResult(res, script).Cleanliness,
		"page_coverage": quality.PageCoverage(res),
		"doc_coverage":  quality.DocumentCoverage(res, doc.PageCount),
		"duration_ms":   dur.Milliseconds(),
		"pages":         reports,
	}); err != nil {
		logger.Error("write output", "error", err)
		os.Exit(1)
	}
}

func parsePages(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		if n < 1 {
			return nil, fmt.Errorf("page %d out of range", n)
		}
		out = append(out, n)
	}
	return out, nil
}

func pageTexts(pages map[int]string) []string {
	out := make([]string, 0, len(pages))
	for _, t := range pages {
		out = append(out, t)
	}
	return out
}
