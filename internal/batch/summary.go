package batch

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/joseph-ayodele/witness-arbiter/constants"
)

// Result is the per-document line of a batch summary.
type Result struct {
	DocKey       string                  `json:"doc_key"`
	Source       string                  `json:"source,omitempty"`
	Status       constants.OutcomeStatus `json:"status"`
	Label        constants.Label         `json:"label,omitempty"`
	Score        float64                 `json:"score"`
	Winner       constants.WitnessID     `json:"winner,omitempty"`
	Escalated    bool                    `json:"escalated"`
	CoverageFlag bool                    `json:"coverage_flag"`
	AllFailed    bool                    `json:"all_failed"`
	Reason       string                  `json:"reason,omitempty"`
	Elapsed      time.Duration           `json:"elapsed"`
}

type Summary struct {
	Results   []Result                `json:"results"`
	Accepted  int                     `json:"accepted"`
	Review    int                     `json:"review"`
	Failed    int                     `json:"failed"`
	Skipped   int                     `json:"skipped"`
	Cancelled int                     `json:"cancelled"`
	Labels    map[constants.Label]int `json:"labels"`
	Elapsed   time.Duration           `json:"elapsed"`
}

func summarize(results map[string]Result, elapsed time.Duration) *Summary {
	s := &Summary{Labels: map[constants.Label]int{}, Elapsed: elapsed}
	for _, r := range results {
		s.Results = append(s.Results, r)
		switch r.Status {
		case constants.OutcomeAccepted:
			s.Accepted++
		case constants.OutcomeReview:
			s.Review++
		case constants.OutcomeFailed:
			s.Failed++
		case constants.OutcomeSkipped:
			s.Skipped++
		case constants.OutcomeCancelled:
			s.Cancelled++
		}
		if r.Label != "" {
			s.Labels[r.Label]++
		}
	}
	sortResults(s.Results)
	return s
}

// Write prints one line per document followed by the aggregate counts.
func (s *Summary) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOCUMENT\tSTATUS\tLABEL\tSCORE\tWINNER\tNOTE")
	for _, r := range s.Results {
		note := r.Reason
		if note == "" && r.CoverageFlag {
			note = "partial coverage"
		}
		score := "-"
		if r.Label != "" {
			score = fmt.Sprintf("%.3f", r.Score)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.DocKey, r.Status, dash(string(r.Label)), score, dash(string(r.Winner)), note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\naccepted=%d review=%d failed=%d skipped=%d cancelled=%d", s.Accepted, s.Review, s.Failed, s.Skipped, s.Cancelled)
	if err != nil {
		return err
	}
	for _, l := range constants.Labels {
		if _, err := fmt.Fprintf(w, " %s=%d", l, s.Labels[l]); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, " elapsed=%s\n", s.Elapsed.Round(time.Millisecond))
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
