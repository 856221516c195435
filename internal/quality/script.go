package quality

import (
	"sort"
	"strings"
	"unicode"

	"github.com/joseph-ayodele/witness-arbiter/constants"
)

var (
	persianLetters     = []rune{'پ', 'چ', 'ژ', 'گ'}
	modernGreekMarkers = []rune("άέήίύόώΆΈΉΊΎΌΏ")
	frenchMarkers      = []rune("éèêàçùûôîœëï")

	tesseractPriority = []string{"eng", "fra", "lat", "ara", "fas", "grc", "ell"}
)

// ScriptProfile counts letters per script family.
type ScriptProfile struct {
	Latin   int
	Arabic  int
	Persian int // Persian-only letters, also counted in Arabic
	Greek   int
	Other   int
}

func (p ScriptProfile) Letters() int {
	return p.Latin + p.Arabic + p.Greek + p.Other
}

func ProfileScripts(text string) ScriptProfile {
	var p ScriptProfile
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		switch {
		case unicode.Is(unicode.Arabic, r):
			p.Arabic++
			if containsRune(persianLetters, r) {
				p.Persian++
			}
		case unicode.Is(unicode.Greek, r):
			p.Greek++
		case unicode.Is(unicode.Latin, r):
			p.Latin++
		default:
			p.Other++
		}
	}
	return p
}

// DetectScript returns the dominant script of text, or unknown when it has no letters.
func DetectScript(text string) constants.Script {
	p := ProfileScripts(text)
	switch {
	case p.Letters() == 0:
		return constants.ScriptUnknown
	case p.Arabic >= p.Latin && p.Arabic >= p.Greek && p.Arabic > 0:
		if p.Persian > 0 {
			return constants.ScriptPersian
		}
		return constants.ScriptArabic
	case p.Greek > p.Latin:
		return constants.ScriptGreek
	case p.Latin > 0:
		return constants.ScriptLatin
	}
	return constants.ScriptUnknown
}

// TesseractLanguages picks the tesseract language string for text, e.g. "eng+ara".
// Text with no recognisable script falls back to eng.
func TesseractLanguages(text string) string {
	p := ProfileScripts(text)
	langs := map[string]struct{}{}
	if p.Arabic > 0 {
		langs["ara"] = struct{}{}
		if p.Persian > 0 {
			langs["fas"] = struct{}{}
		}
	}
	if p.Greek > 0 {
		if strings.ContainsAny(text, string(modernGreekMarkers)) {
			langs["ell"] = struct{}{}
		} else {
			langs["grc"] = struct{}{}
		}
	}
	if p.Latin > 0 {
		langs["eng"] = struct{}{}
		if strings.ContainsAny(strings.ToLower(text), string(frenchMarkers)) {
			langs["fra"] = struct{}{}
		}
	}
	if len(langs) == 0 {
		return "eng"
	}
	return joinTesseract(langs)
}

// TesseractForScript maps a script hint to a tesseract language string.
func TesseractForScript(s constants.Script, fallback string) string {
	switch s {
	case constants.ScriptArabic:
		return "eng+ara"
	case constants.ScriptPersian:
		return "eng+ara+fas"
	case constants.ScriptUrdu:
		return "eng+ara+urd"
	case constants.ScriptGreek:
		return "eng+grc"
	}
	if fallback == "" {
		return "eng"
	}
	return fallback
}

func joinTesseract(langs map[string]struct{}) string {
	ordered := make([]string, 0, len(langs))
	for _, l := range tesseractPriority {
		if _, ok := langs[l]; ok {
			ordered = append(ordered, l)
			delete(langs, l)
		}
	}
	rest := make([]string, 0, len(langs))
	for l := range langs {
		rest = append(rest, l)
	}
	sort.Strings(rest)
	return strings.Join(append(ordered, rest...), "+")
}

func containsRune(set []rune, r rune) bool {
	for _, x := range set {
		if x == r {
			return true
		}
	}
	return false
}

// matchesScript reports whether a letter belongs to the expected script family.
func matchesScript(r rune, s constants.Script) bool {
	switch {
	case s.IsArabicFamily():
		return unicode.Is(unicode.Arabic, r)
	case s == constants.ScriptGreek:
		return unicode.Is(unicode.Greek, r)
	}
	return unicode.Is(unicode.Latin, r)
}
