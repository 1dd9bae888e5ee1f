package reminder

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// LabelNow is the label of the zero-lead threshold.
const LabelNow = "now"

// Threshold is a named lead time before an event's start.
type Threshold struct {
	Label string
	Lead  time.Duration
}

// Thresholds is sorted longest lead first and has unique labels. Build one
// with NewThresholds or ParseThresholds.
type Thresholds []Threshold

func DefaultThresholds() Thresholds {
	return Thresholds{
		{Label: "8h", Lead: 8 * time.Hour},
		{Label: "3h", Lead: 3 * time.Hour},
		{Label: "1h", Lead: time.Hour},
		{Label: LabelNow, Lead: 0},
	}
}

// NewThresholds sorts ts by descending lead and rejects negative leads,
// blank labels and duplicates.
func NewThresholds(ts ...Threshold) (Thresholds, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("at least one threshold is required")
	}
	out := make(Thresholds, 0, len(ts))
	seenLabel := map[string]bool{}
	seenLead := map[time.Duration]bool{}
	for _, t := range ts {
		t.Label = strings.TrimSpace(t.Label)
		switch {
		case t.Label == "":
			return nil, fmt.Errorf("threshold with lead %s has no label", t.Lead)
		case t.Lead < 0:
			return nil, fmt.Errorf("threshold %q: negative lead %s", t.Label, t.Lead)
		case seenLabel[t.Label]:
			return nil, fmt.Errorf("duplicate threshold label %q", t.Label)
		case seenLead[t.Lead]:
			return nil, fmt.Errorf("threshold %q: duplicate lead %s", t.Label, t.Lead)
		}
		seenLabel[t.Label] = true
		seenLead[t.Lead] = true
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Lead > out[j].Lead })
	return out, nil
}

// ParseThresholds reads Go duration strings ("24h", "90m") and "now". The
// trimmed input is used as the label.
func ParseThresholds(specs []string) (Thresholds, error) {
	ts := make([]Threshold, 0, len(specs))
	for _, s := range specs {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == LabelNow || s == "0" {
			ts = append(ts, Threshold{Label: LabelNow})
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("threshold %q: %w", s, err)
		}
		if d == 0 {
			ts = append(ts, Threshold{Label: LabelNow})
			continue
		}
		ts = append(ts, Threshold{Label: s, Lead: d})
	}
	return NewThresholds(ts...)
}

func (ts Thresholds) Labels() []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Label
	}
	return out
}

// Crossed returns every threshold t in set with start-t.Lead <= now, in
// the set's order (longest lead first). Comparison is on absolute instants.
func Crossed(start, now time.Time, set Thresholds) []Threshold {
	var out []Threshold
	for _, t := range set {
		if !start.Add(-t.Lead).After(now) {
			out = append(out, t)
		}
	}
	return out
}
