package arbiter

import (
	"math"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
	"github.com/joseph-ayodele/witness-arbiter/internal/quality"
)

const tieEpsilon = 1e-9

// decision is everything the final check derives from the invoked witnesses.
type decision struct {
	Agreement    float64
	Cleanliness  float64
	Score        float64
	Label        constants.Label
	Winner       constants.WitnessID
	Coverage     float64
	CoverageFlag bool
	AllFailed    bool
	Scoring      []constants.WitnessID
	Reports      map[constants.WitnessID]entity.CorruptionReport
}

// decide scores the invoked results. When gateScore is set it stands in for the
// pairwise agreement, which is how the gate-accepted path is labelled.
func decide(cfg common.ArbitrationConfig, det *quality.Detector, pageCount int, results []entity.WitnessResult,
	script constants.Script, primary constants.WitnessID, gateScore *float64) decision {

	d := decision{Reports: make(map[constants.WitnessID]entity.CorruptionReport, len(results))}
	byID := make(map[constants.WitnessID]entity.WitnessResult, len(results))
	var succeeded []constants.WitnessID
	for _, r := range results {
		d.Reports[r.Witness] = det.AssessResult(r, script)
		byID[r.Witness] = r
		if r.Succeeded {
			succeeded = append(succeeded, r.Witness)
		}
	}
	if len(succeeded) == 0 {
		d.AllFailed = true
		d.Label = constants.LabelReview
		return d
	}

	d.Scoring = scoringSet(cfg, succeeded, d.Reports)
	switch {
	case gateScore != nil:
		d.Agreement = *gateScore
	case len(d.Scoring) >= 2:
		set := make([]entity.WitnessResult, 0, len(d.Scoring))
		for _, id := range d.Scoring {
			set = append(set, byID[id])
		}
		d.Agreement = quality.Pairwise(set, script).MeanAgreement(d.Scoring)
	}
	for _, id := range d.Scoring {
		d.Cleanliness += d.Reports[id].Cleanliness
	}
	if len(d.Scoring) > 0 {
		d.Cleanliness /= float64(len(d.Scoring))
	}
	d.Score = combine(cfg, d.Agreement, d.Cleanliness)
	d.Label = labelFor(cfg, d.Score)

	if gateScore != nil && byID[primary].Succeeded {
		// the gate confirmed the primary: its output is accepted and the
		// document never lands in review from here
		d.Winner = primary
		d.Label = d.Label.AtLeast(constants.LabelArbitrate)
	} else {
		d.Winner = pickWinner(succeeded, d.Reports, primary)
	}
	for _, id := range succeeded {
		if quality.PageCoverage(byID[id]) < cfg.MinCoverage {
			d.CoverageFlag = true
		}
	}
	d.Coverage = quality.DocumentCoverage(byID[d.Winner], pageCount)
	if d.Coverage < cfg.MinCoverage {
		d.CoverageFlag = true
	}
	if d.CoverageFlag {
		d.Label = d.Label.AtMost(constants.LabelFlag)
	}
	return d
}

// scoringSet keeps witnesses with text. Corrupted ones are left out as long as
// two clean witnesses remain to out-vote them.
func scoringSet(cfg common.ArbitrationConfig, succeeded []constants.WitnessID, reports map[constants.WitnessID]entity.CorruptionReport) []constants.WitnessID {
	var usable, clean []constants.WitnessID
	for _, id := range succeeded {
		rep := reports[id]
		if rep.Empty {
			continue
		}
		usable = append(usable, id)
		if rep.Cleanliness >= cfg.CorruptCleanliness {
			clean = append(clean, id)
		}
	}
	if len(clean) >= 2 {
		return clean
	}
	return usable
}

func combine(cfg common.ArbitrationConfig, agreement, cleanliness float64) float64 {
	total := cfg.AgreementWeight + cfg.CleanlinessWeight
	if total <= 0 {
		return 0
	}
	s := (cfg.AgreementWeight*agreement + cfg.CleanlinessWeight*cleanliness) / total
	return math.Max(0, math.Min(1, s))
}

func labelFor(cfg common.ArbitrationConfig, score float64) constants.Label {
	switch {
	case score >= cfg.AutoAcceptThreshold:
		return constants.LabelAutoAccept
	case score >= cfg.FlagThreshold:
		return constants.LabelFlag
	case score >= cfg.ArbitrateThreshold:
		return constants.LabelArbitrate
	default:
		return constants.LabelReview
	}
}

// pickWinner takes the cleanest witness. Ties go to the primary, then to
// declaration order.
func pickWinner(candidates []constants.WitnessID, reports map[constants.WitnessID]entity.CorruptionReport, primary constants.WitnessID) constants.WitnessID {
	var best constants.WitnessID
	bestScore := -1.0
	for _, id := range candidates {
		c := reports[id].Cleanliness
		switch {
		case best == "" || c > bestScore+tieEpsilon:
			best, bestScore = id, c
		case math.Abs(c-bestScore) <= tieEpsilon && preferred(id, best, primary):
			best = id
		}
	}
	return best
}

func preferred(a, b, primary constants.WitnessID) bool {
	if a == primary {
		return true
	}
	if b == primary {
		return false
	}
	return a.Order() < b.Order()
}
