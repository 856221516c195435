package quality

import (
	"strings"
	"unicode"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

// Detector scores a single witness output for internal signs of garbage, independent of
// any other witness. It is deterministic and safe for concurrent use.
type Detector struct {
	cfg common.CorruptionConfig
}

// NewDetector fills zero-valued fields from the defaults.
func NewDetector(cfg common.CorruptionConfig) *Detector {
	def := common.DefaultConfig().Corruption
	if cfg.ScriptThreshold <= 0 {
		cfg.ScriptThreshold = def.ScriptThreshold
	}
	if cfg.SymbolCeiling <= 0 {
		cfg.SymbolTolerance, cfg.SymbolCeiling = def.SymbolTolerance, def.SymbolCeiling
	}
	if cfg.SymbolTolerance >= cfg.SymbolCeiling {
		cfg.SymbolTolerance = 0
	}
	if cfg.RunLength < 2 {
		cfg.RunLength = def.RunLength
	}
	if cfg.RepetitionCeiling <= 0 {
		cfg.RepetitionCeiling = def.RepetitionCeiling
	}
	if cfg.MinAvgTokenLength <= 1 {
		cfg.MinAvgTokenLength = def.MinAvgTokenLength
	}
	if cfg.ScriptWeight+cfg.SymbolWeight+cfg.RepetitionWeight+cfg.FragmentationWeight <= 0 {
		cfg.ScriptWeight = def.ScriptWeight
		cfg.SymbolWeight = def.SymbolWeight
		cfg.RepetitionWeight = def.RepetitionWeight
		cfg.FragmentationWeight = def.FragmentationWeight
	}
	return &Detector{cfg: cfg}
}

// Assess scores text. Empty or whitespace-only text yields cleanliness 0 with Empty set.
func (d *Detector) Assess(text string, script constants.Script) entity.CorruptionReport {
	if strings.TrimSpace(text) == "" {
		return entity.CorruptionReport{Empty: true}
	}

	var letters, expected, nonSpace, symbols int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		nonSpace++
		switch {
		case unicode.IsLetter(r):
			letters++
			if matchesScript(r, script) {
				expected++
			}
		case unicode.IsPunct(r), unicode.IsSymbol(r), r == unicode.ReplacementChar:
			symbols++
		}
	}

	var rep entity.CorruptionReport

	if letters > 0 {
		rep.ScriptRatio = float64(expected) / float64(letters)
		switch {
		case script.IsLatin():
			rep.ScriptScore = 1
		case rep.ScriptRatio >= d.cfg.ScriptThreshold:
			rep.ScriptScore = 1
		default:
			rep.ScriptScore = rep.ScriptRatio / d.cfg.ScriptThreshold
		}
	}

	rep.SymbolRatio = float64(symbols) / float64(nonSpace)
	rep.SymbolScore = 1 - ramp(rep.SymbolRatio, d.cfg.SymbolTolerance, d.cfg.SymbolCeiling)

	rep.RepetitionRatio = float64(repeatedRunes(text, d.cfg.RunLength)) / float64(nonSpace)
	rep.RepetitionScore = 1 - ramp(rep.RepetitionRatio, 0, d.cfg.RepetitionCeiling)

	rep.AvgTokenLength = averageTokenLength(text)
	rep.FragmentationScore = ramp(rep.AvgTokenLength, 1, d.cfg.MinAvgTokenLength)

	c := d.cfg
	total := c.ScriptWeight + c.SymbolWeight + c.RepetitionWeight + c.FragmentationWeight
	rep.Cleanliness = clamp01((c.ScriptWeight*rep.ScriptScore +
		c.SymbolWeight*rep.SymbolScore +
		c.RepetitionWeight*rep.RepetitionScore +
		c.FragmentationWeight*rep.FragmentationScore) / total)
	return rep
}

// AssessResult scores a witness result on the AssessmentForm of its page text, not the
// normalized text: normalization strips the underscore and symbol streaks being scored.
// Failed results are empty.
func (d *Detector) AssessResult(r entity.WitnessResult, script constants.Script) entity.CorruptionReport {
	if !r.Succeeded {
		return entity.CorruptionReport{Empty: true}
	}
	return d.Assess(AssessmentForm(r.JoinedText(), script), script)
}

// repeatedRunes counts non-space runes inside runs where a unit of one to three runes
// repeats at least minRun times in a row.
func repeatedRunes(text string, minRun int) int {
	rs := []rune(text)
	covered := 0
	for i := 0; i < len(rs); {
		if unicode.IsSpace(rs[i]) {
			i++
			continue
		}
		bestSpan := 0
		for unit := 1; unit <= 3 && i+unit <= len(rs); unit++ {
			if unit > 1 && uniform(rs[i:i+unit]) {
				continue
			}
			reps := 1
			for j := i + unit; j+unit <= len(rs) && equalRunes(rs[j:j+unit], rs[i:i+unit]); j += unit {
				reps++
			}
			if reps >= minRun && reps*unit > bestSpan {
				bestSpan = reps * unit
			}
		}
		if bestSpan == 0 {
			i++
			continue
		}
		for _, r := range rs[i : i+bestSpan] {
			if !unicode.IsSpace(r) {
				covered++
			}
		}
		i += bestSpan
	}
	return covered
}

func averageTokenLength(text string) float64 {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return 0
	}
	total := 0
	for _, t := range tokens {
		total += len([]rune(t))
	}
	return float64(total) / float64(len(tokens))
}

// ramp maps x onto [0,1]: 0 at or below lo, 1 at or above hi.
func ramp(x, lo, hi float64) float64 {
	if x <= lo {
		return 0
	}
	if x >= hi {
		return 1
	}
	return (x - lo) / (hi - lo)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func uniform(rs []rune) bool {
	for _, r := range rs[1:] {
		if r != rs[0] {
			return false
		}
	}
	return true
}

func equalRunes(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
