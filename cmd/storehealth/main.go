package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/export"
	repo "github.com/joseph-ayodele/witness-arbiter/internal/repository"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	xlsxOut := flag.String("xlsx", "", "write every checkpoint to this XLSX path")
	verbose := flag.Bool("v", false, "list every incomplete document")
	flag.Parse()

	cfg, err := common.LoadConfigFile(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r, err := repo.Open(ctx, cfg.Store, nil)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Printf("ERROR: closing store: %v", err)
		}
	}()

	if hc, ok := r.(repo.HealthChecker); ok {
		if err := hc.HealthCheck(ctx, 2*time.Second); err != nil {
			log.Fatalf("store health: FAIL (%v)", err)
		}
	}
	log.Printf("store health: OK (driver=%s)", cfg.Store.Driver)

	recs, err := r.List(ctx)
	if err != nil {
		log.Fatalf("listing checkpoints: %v", err)
	}

	states := map[constants.ArbitrationState]int{}
	labels := map[constants.Label]int{}
	var incomplete []string
	for _, rec := range recs {
		states[rec.State]++
		if rec.Verdict != nil {
			labels[rec.Verdict.Label]++
		}
		if !rec.IsComplete() {
			incomplete = append(incomplete, rec.DocKey)
		}
	}

	log.Printf("checkpoints: %d (complete=%d, in progress=%d)", len(recs), len(recs)-len(incomplete), len(incomplete))
	for _, s := range constants.States {
		if n := states[s]; n > 0 {
			log.Printf("- %-13s %d", s, n)
		}
	}
	for _, l := range constants.Labels {
		if n := labels[l]; n > 0 {
			log.Printf("- label %-11s %d", l, n)
		}
	}
	if *verbose {
		sort.Strings(incomplete)
		for _, k := range incomplete {
			log.Printf("  incomplete: %s", k)
		}
	}

	if *xlsxOut != "" {
		data, err := export.NewService(nil).CheckpointsXLSX(ctx, r)
		if err != nil {
			log.Fatalf("building workbook: %v", err)
		}
		if err := os.WriteFile(*xlsxOut, data, 0o644); err != nil {
			log.Fatalf("writing %s: %v", *xlsxOut, err)
		}
		log.Printf("wrote %s", *xlsxOut)
	}
}
