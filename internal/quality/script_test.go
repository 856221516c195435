package quality

import (
	"testing"

	"github.com/joseph-ayodele/witness-arbiter/constants"
)

func TestDetectScript(t *testing.T) {
	tests := []struct {
		in   string
		want constants.Script
	}{
		{"The study of Islamic cartography reveals complex traditions.", constants.ScriptLatin},
		{"الخرائط الإسلامية في العصور الوسطى", constants.ScriptArabic},
		{"نقشه‌های جغرافیایی پارسی", constants.ScriptPersian},
		{"Πτολεμαίου Γεωγραφική ὑφήγησις", constants.ScriptGreek},
		{"1234 !!! ...", constants.ScriptUnknown},
	}
	for _, tc := range tests {
		if got := DetectScript(tc.in); got != tc.want {
			t.Errorf("DetectScript(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTesseractLanguages(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "eng"},
		{"plain english text", "eng"},
		{"la géographie arabe et le monde médiéval", "eng+fra"},
		{"Maps الخرائط", "eng+ara"},
		{"Persian گ and Arabic ع", "eng+ara+fas"},
		{"λογος και κοσμος", "grc"},
		{"σήμερα", "ell"},
	}
	for _, tc := range tests {
		if got := TesseractLanguages(tc.in); got != tc.want {
			t.Errorf("TesseractLanguages(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseScriptCodes(t *testing.T) {
	for in, want := range map[string]constants.Script{
		"ar": constants.ScriptArabic, "FAS": constants.ScriptPersian, "urdu": constants.ScriptUrdu,
		"eng": constants.ScriptLatin, "grc": constants.ScriptGreek, "xx": constants.ScriptUnknown,
	} {
		if got := constants.ParseScript(in); got != want {
			t.Errorf("ParseScript(%q) = %q, want %q", in, got, want)
		}
	}
}
