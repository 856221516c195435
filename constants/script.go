package constants

import "strings"

// Script is the primary writing system of a document, used as a hint by the normalizer,
// the corruption detector and the local OCR language selection.
type Script string

const (
	ScriptUnknown Script = ""
	ScriptLatin   Script = "latin"
	ScriptArabic  Script = "arabic"
	ScriptPersian Script = "persian"
	ScriptUrdu    Script = "urdu"
	ScriptGreek   Script = "greek"
)

// ParseScript accepts script names as well as ISO 639 and tesseract language codes.
func ParseScript(s string) Script {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "latin", "latn", "en", "eng", "fr", "fra", "de", "deu", "la", "lat", "tr", "tur":
		return ScriptLatin
	case "arabic", "arab", "ar", "ara":
		return ScriptArabic
	case "persian", "farsi", "fa", "fas", "per":
		return ScriptPersian
	case "urdu", "ur", "urd":
		return ScriptUrdu
	case "greek", "grek", "el", "ell", "grc":
		return ScriptGreek
	}
	return ScriptUnknown
}

// IsArabicFamily reports whether s is written in an Arabic-derived alphabet.
func (s Script) IsArabicFamily() bool {
	return s == ScriptArabic || s == ScriptPersian || s == ScriptUrdu
}

// IsLatin treats unknown as latin.
func (s Script) IsLatin() bool {
	return s == ScriptLatin || s == ScriptUnknown
}
