// Package quality holds the pure, deterministic scoring used to compare witnesses:
// text normalization, script detection, corruption assessment and similarity.
package quality

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/joseph-ayodele/witness-arbiter/constants"
)

// maxNormalizePasses only guards against a pass sequence that never settles;
// real inputs reach a fixed point in two or three passes.
const maxNormalizePasses = 64

var (
	reRule       = regexp.MustCompile(`(?m)^[ \t:]*(?:[-*_=][ \t:]*){3,}$`)
	reLineMarker = regexp.MustCompile(`(?m)^[ \t]*(?:(?:#{1,6}|>|[-*+•]|\d{1,3}[.)])(?:[ \t]+|$))+`)
	reEmphasis   = regexp.MustCompile(`[*_]+`)
	reLigature   = regexp.MustCompile(`(ff?[il]?)\s{2,}([a-z])`)
	reTableRule  = regexp.MustCompile(`(?m)^[ \t:|-]*\|[ \t:|-]*$`)

	invisible = strings.NewReplacer(
		"\u200b", "", // zero width space
		"\ufeff", "", // byte order mark
		"\u00ad", "", // soft hyphen
	)
)

// Normalize canonicalizes witness text so heterogeneous outputs become comparable.
// It is idempotent: Normalize(Normalize(x, s), s) == Normalize(x, s).
func Normalize(text string, script constants.Script) string {
	s := text
	for i := 0; i < maxNormalizePasses; i++ {
		next := normalizePass(s, script)
		if next == s {
			return s
		}
		s = next
	}
	return s
}

func normalizePass(s string, script constants.Script) string {
	s = norm.NFC.String(s)
	if script.IsArabicFamily() {
		s = foldArabic(s)
	}
	s = invisible.Replace(s)
	s = stripMarkup(s)
	return strings.Join(strings.Fields(s), " ")
}

// AssessmentForm prepares text for corruption scoring. Code points are canonicalized
// and structural markup (tags, table pipes and delimiter rows, line markers) is dropped
// as in Normalize, but inline symbols, emphasis characters and repeated runs are kept:
// they are what the detector measures.
func AssessmentForm(text string, script constants.Script) string {
	s := norm.NFC.String(text)
	if script.IsArabicFamily() {
		s = foldArabic(s)
	}
	s = invisible.Replace(s)
	s = stripTags(s)
	s = reTableRule.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "|", " ")
	return reLineMarker.ReplaceAllString(s, "")
}

// foldArabic maps presentation forms to canonical letters and drops harakat and tatweel.
func foldArabic(s string) string {
	t := transform.Chain(
		norm.NFKC,
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Remove(runes.Predicate(func(r rune) bool { return r == '\u0640' })),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func stripMarkup(s string) string {
	s = stripTags(s)
	s = strings.ReplaceAll(s, "|", " ")
	s = reRule.ReplaceAllString(s, "")
	s = reLineMarker.ReplaceAllString(s, "")
	s = reEmphasis.ReplaceAllString(s, "")
	return s
}

// stripTags keeps only the text of embedded HTML (tables, <br>, image comments),
// with entities decoded. Decoding can expose further markup ("&amp;lt;b&amp;gt;"),
// so it repeats until nothing changes; every productive round shortens s.
func stripTags(s string) string {
	for strings.ContainsAny(s, "<&") {
		next := stripTagsOnce(s)
		if next == s || len(next) >= len(s) {
			return next
		}
		s = next
	}
	return s
}

func stripTagsOnce(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	b.Grow(len(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		default:
			b.WriteByte(' ')
		}
	}
}

// FixLigatureSpacing rejoins ligatures that layout extractors split with runs of spaces
// ("ff  ect" -> "ffect").
func FixLigatureSpacing(text string) string {
	return reLigature.ReplaceAllString(text, "$1$2")
}
