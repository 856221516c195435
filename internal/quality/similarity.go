package quality

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

// Ratio is 1 - levenshtein(a,b)/max(len(a),len(b)) over runes; two empty strings score 1.
func Ratio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	if a == b {
		return 1
	}
	dist := levenshtein.Distance(a, b, nil)
	return clamp01(1 - float64(dist)/float64(longest))
}

// Similarity normalizes both texts before comparing them.
func Similarity(a, b string, script constants.Script) float64 {
	return Ratio(Normalize(a, script), Normalize(b, script))
}

// PairKey is an unordered witness pair; A sorts before B in declaration order.
type PairKey struct {
	A, B constants.WitnessID
}

func NewPairKey(a, b constants.WitnessID) PairKey {
	if b.Order() < a.Order() || (b.Order() == a.Order() && b < a) {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

func (k PairKey) String() string {
	return string(k.A) + "~" + string(k.B)
}

// PairScore is the agreement of one witness pair.
type PairScore struct {
	PageScores map[int]float64 `json:"page_scores"`
	Score      float64         `json:"score"` // mean over PageScores, 0 when no page overlaps
	Pages      int             `json:"pages"`
}

// SimilarityMatrix holds the agreement of every unordered pair of witnesses.
type SimilarityMatrix struct {
	Pairs map[PairKey]PairScore
}

// Get is symmetric. A witness is never compared with itself.
func (m SimilarityMatrix) Get(a, b constants.WitnessID) (PairScore, bool) {
	if a == b {
		return PairScore{}, false
	}
	s, ok := m.Pairs[NewPairKey(a, b)]
	return s, ok
}

// MeanAgreement averages the pair scores among the given witnesses; 0 when fewer than
// two of them are present.
func (m SimilarityMatrix) MeanAgreement(among []constants.WitnessID) float64 {
	var sum float64
	var n int
	for i := 0; i < len(among); i++ {
		for j := i + 1; j < len(among); j++ {
			if s, ok := m.Get(among[i], among[j]); ok {
				sum += s.Score
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Pairwise compares every pair of successful results. Each page is scored only when both
// witnesses have non-empty normalized text for it.
func Pairwise(results []entity.WitnessResult, script constants.Script) SimilarityMatrix {
	normalized := make([]map[int]string, len(results))
	for i, r := range results {
		if !r.Succeeded {
			continue
		}
		pages := make(map[int]string, len(r.Pages))
		for p, t := range r.Pages {
			if n := Normalize(t, script); n != "" {
				pages[p] = n
			}
		}
		normalized[i] = pages
	}

	m := SimilarityMatrix{Pairs: map[PairKey]PairScore{}}
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			if normalized[i] == nil || normalized[j] == nil || results[i].Witness == results[j].Witness {
				continue
			}
			m.Pairs[NewPairKey(results[i].Witness, results[j].Witness)] = comparePages(normalized[i], normalized[j])
		}
	}
	return m
}

func comparePages(a, b map[int]string) PairScore {
	common := make([]int, 0, len(a))
	for p := range a {
		if _, ok := b[p]; ok {
			common = append(common, p)
		}
	}
	sort.Ints(common)

	out := PairScore{PageScores: make(map[int]float64, len(common))}
	var sum float64
	for _, p := range common {
		r := Ratio(a[p], b[p])
		out.PageScores[p] = r
		sum += r
	}
	out.Pages = len(common)
	if out.Pages > 0 {
		out.Score = sum / float64(out.Pages)
	}
	return out
}

// PageCoverage is the fraction of requested pages carrying non-blank text.
// Failed results cover nothing.
func PageCoverage(r entity.WitnessResult) float64 {
	if !r.Succeeded || len(r.RequestedPages) == 0 {
		return 0
	}
	return float64(pagesWithText(r, r.RequestedPages)) / float64(len(r.RequestedPages))
}

// DocumentCoverage is the fraction of the document's pages carrying non-blank text in r.
func DocumentCoverage(r entity.WitnessResult, pageCount int) float64 {
	if !r.Succeeded || pageCount <= 0 {
		return 0
	}
	pages := make([]int, 0, pageCount)
	for p := 1; p <= pageCount; p++ {
		pages = append(pages, p)
	}
	return float64(pagesWithText(r, pages)) / float64(pageCount)
}

func pagesWithText(r entity.WitnessResult, pages []int) int {
	n := 0
	for _, p := range pages {
		if strings.TrimSpace(r.Pages[p]) != "" {
			n++
		}
	}
	return n
}
