//go:build gosseract

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// gosseractRecognizer links libtesseract in-process. A client per call keeps it safe
// for concurrent workers.
type gosseractRecognizer struct {
	cfg Config
}

func newGosseractRecognizer(cfg Config) (Recognizer, error) {
	return &gosseractRecognizer{cfg: cfg}, nil
}

func (r *gosseractRecognizer) Recognize(ctx context.Context, imagePath, lang string) (string, float64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	c := gosseract.NewClient()
	defer c.Close()

	if r.cfg.TessdataDir != "" {
		if err := c.SetTessdataPrefix(r.cfg.TessdataDir); err != nil {
			return "", 0, fmt.Errorf("set tessdata: %w", err)
		}
	}
	if err := c.SetLanguage(strings.Split(lang, "+")...); err != nil {
		return "", 0, fmt.Errorf("set languages: %w", err)
	}
	if r.cfg.PSM > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(r.cfg.PSM)); err != nil {
			return "", 0, fmt.Errorf("set psm: %w", err)
		}
	}
	if err := c.SetImage(imagePath); err != nil {
		return "", 0, fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", 0, fmt.Errorf("recognize text: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return text, 0, nil
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return text, sum / float64(len(boxes)) / 100.0, nil
}
