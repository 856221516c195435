//go:build !gosseract

package ocr

import "errors"

// ErrGosseractNotEnabled is returned when the gosseract engine is selected in a binary
// built without the "gosseract" tag.
var ErrGosseractNotEnabled = errors.New("gosseract engine not enabled; rebuild with -tags gosseract")

func newGosseractRecognizer(Config) (Recognizer, error) {
	return nil, ErrGosseractNotEnabled
}
