package arbiter

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
	"github.com/joseph-ayodele/witness-arbiter/internal/quality"
)

const (
	ml    = constants.WitnessPrimaryML
	local = constants.WitnessOCRLocal
	cloud = constants.WitnessOCRCloud
)

func reports(scores map[constants.WitnessID]float64) map[constants.WitnessID]entity.CorruptionReport {
	out := make(map[constants.WitnessID]entity.CorruptionReport, len(scores))
	for id, c := range scores {
		out[id] = entity.CorruptionReport{Cleanliness: c}
	}
	return out
}

func TestLabelFor(t *testing.T) {
	cfg := common.DefaultConfig().Arbitration
	tests := []struct {
		score float64
		want  constants.Label
	}{
		{1, constants.LabelAutoAccept},
		{0.85, constants.LabelAutoAccept},
		{0.849, constants.LabelFlag},
		{0.65, constants.LabelFlag},
		{0.5, constants.LabelArbitrate},
		{0.40, constants.LabelArbitrate},
		{0.39, constants.LabelReview},
		{0, constants.LabelReview},
	}
	for _, tc := range tests {
		if got := labelFor(cfg, tc.score); got != tc.want {
			t.Errorf("labelFor(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestPickWinner(t *testing.T) {
	tests := []struct {
		name    string
		scores  map[constants.WitnessID]float64
		primary constants.WitnessID
		want    constants.WitnessID
	}{
		{"cleanest wins", map[constants.WitnessID]float64{ml: 0.6, local: 0.9, cloud: 0.8}, ml, local},
		{"tie goes to primary", map[constants.WitnessID]float64{ml: 0.9, local: 0.9, cloud: 0.9}, cloud, cloud},
		{"then declaration order", map[constants.WitnessID]float64{ml: 0.1, local: 0.9, cloud: 0.9}, ml, local},
		{"single candidate", map[constants.WitnessID]float64{cloud: 0}, ml, cloud},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// candidates in reverse declaration order to make the tie-break visible
			candidates := []constants.WitnessID{cloud, local, ml}
			var present []constants.WitnessID
			for _, id := range candidates {
				if _, ok := tc.scores[id]; ok {
					present = append(present, id)
				}
			}
			if got := pickWinner(present, reports(tc.scores), tc.primary); got != tc.want {
				t.Fatalf("winner = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestScoringSet(t *testing.T) {
	cfg := common.DefaultConfig().Arbitration
	all := []constants.WitnessID{ml, local, cloud}

	got := scoringSet(cfg, all, reports(map[constants.WitnessID]float64{ml: 0.1, local: 0.9, cloud: 0.8}))
	if diff := cmp.Diff([]constants.WitnessID{local, cloud}, got); diff != "" {
		t.Fatalf("corrupt witness kept (-want +got):\n%s", diff)
	}

	// with only one clean witness the corrupt one still votes
	got = scoringSet(cfg, all[:2], reports(map[constants.WitnessID]float64{ml: 0.1, local: 0.9}))
	if diff := cmp.Diff([]constants.WitnessID{ml, local}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	reps := reports(map[constants.WitnessID]float64{ml: 0, local: 0.9})
	reps[ml] = entity.CorruptionReport{Empty: true}
	got = scoringSet(cfg, all[:2], reps)
	if diff := cmp.Diff([]constants.WitnessID{local}, got); diff != "" {
		t.Fatalf("empty witness kept (-want +got):\n%s", diff)
	}
}

func TestDecideSingleWitnessHasNoAgreement(t *testing.T) {
	cfg := common.DefaultConfig()
	results := []entity.WitnessResult{
		{Witness: ml, Pages: map[int]string{1: prose}, RequestedPages: []int{1}, Succeeded: true},
		{Witness: cloud, Pages: map[int]string{}, RequestedPages: []int{1}, Error: "boom"},
	}
	d := decide(cfg.Arbitration, quality.NewDetector(cfg.Corruption), 1, results, constants.ScriptLatin, ml, nil)
	if d.Agreement != 0 || d.Winner != ml || d.AllFailed {
		t.Fatalf("decision %+v", d)
	}
	// cleanliness alone caps the score at the cleanliness weight
	if d.Score > cfg.Arbitration.CleanlinessWeight+1e-9 || d.Label != constants.LabelReview {
		t.Fatalf("score %.3f label %s", d.Score, d.Label)
	}
}

func TestCombineNormalizesWeights(t *testing.T) {
	cfg := common.ArbitrationConfig{AgreementWeight: 2, CleanlinessWeight: 2}
	if got := combine(cfg, 1, 0.5); got != 0.75 {
		t.Fatalf("combine = %v", got)
	}
	if got := combine(common.ArbitrationConfig{}, 1, 1); got != 0 {
		t.Fatalf("zero weights = %v", got)
	}
}

func TestDecideGatePathNeverReview(t *testing.T) {
	cfg := common.DefaultConfig()
	arb := cfg.Arbitration
	arb.FlagThreshold, arb.ArbitrateThreshold = 0.995, 0.99
	arb.AutoAcceptThreshold = 0.999
	results := []entity.WitnessResult{
		{Witness: ml, Pages: map[int]string{1: prose}, RequestedPages: []int{1}, Succeeded: true},
		{Witness: cloud, Pages: map[int]string{1: prose2}, RequestedPages: []int{1}, Succeeded: true},
	}
	det := quality.NewDetector(cfg.Corruption)

	gate := 0.5
	d := decide(arb, det, 1, results, constants.ScriptLatin, ml, &gate)
	if d.Label != constants.LabelArbitrate || d.Winner != ml {
		t.Fatalf("gate path: label %s winner %s score %.3f", d.Label, d.Winner, d.Score)
	}

	d = decide(arb, det, 1, results, constants.ScriptLatin, ml, nil)
	if d.Label != constants.LabelReview {
		t.Fatalf("final check: label %s score %.3f", d.Label, d.Score)
	}
}
