package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// cliRecognizer shells out to the tesseract binary: once for text, once for TSV confidence.
type cliRecognizer struct {
	cfg    Config
	runner Runner
}

func (r *cliRecognizer) Recognize(ctx context.Context, imagePath, lang string) (string, float64, error) {
	// tesseract <file> stdout -l <lang>
	out, errb, err := r.runner.Run(ctx, r.cfg.Tesseract, r.args(imagePath, lang)...)
	if err != nil {
		return "", 0, fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(truncate(string(errb), 512)))
	}

	tsv, _, err := r.runner.Run(ctx, r.cfg.Tesseract, append(r.args(imagePath, lang), "tsv")...)
	if err != nil {
		// text without a confidence is still usable
		return string(out), 0, nil
	}
	return string(out), meanTSVConfidence(string(tsv)), nil
}

func (r *cliRecognizer) args(imagePath, lang string) []string {
	args := []string{imagePath, "stdout", "-l", lang}
	if r.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(r.cfg.PSM))
	}
	if r.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(r.cfg.OEM))
	}
	if r.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", r.cfg.TessdataDir)
	}
	return args
}

// meanTSVConfidence returns the mean word confidence of tesseract TSV output in [0,1].
func meanTSVConfidence(tsv string) float64 {
	var sum, n float64
	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || len(ln) == 0 {
			continue
		} // header
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		confStr := cols[10]
		if confStr == "" || confStr == "-1" || strings.TrimSpace(cols[11]) == "" {
			continue
		}
		if v, err := strconv.ParseFloat(confStr, 64); err == nil && v >= 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / n / 100.0
}
