package prediction

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Entry is one row of a ranked view.
type Entry struct {
	Code string
	Record
}

// Rank orders the result by descending probability. Ties keep catalog
// order.
func (r *Result) Rank() []Entry {
	entries := make([]Entry, 0, len(r.codes))
	for _, code := range r.codes {
		entries = append(entries, Entry{Code: code, Record: r.records[code]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Probability > entries[j].Probability
	})
	return entries
}

// Detected returns the detected entries, most confident first.
func (r *Result) Detected() []Entry {
	var out []Entry
	for _, e := range r.Rank() {
		if e.Detected {
			out = append(out, e)
		}
	}
	return out
}

var rule = strings.Repeat("-", 50)

// WriteReport prints the detected diseases followed by every code, both
// most confident first.
func WriteReport(w io.Writer, r *Result) error {
	var b strings.Builder

	fmt.Fprintln(&b, "Detected Diseases:")
	fmt.Fprintln(&b, rule)
	detected := r.Detected()
	if len(detected) == 0 {
		fmt.Fprintln(&b, "No diseases were detected in the image.")
	}
	for _, e := range detected {
		fmt.Fprintf(&b, "* %s (Confidence: %.2f%%)\n", e.FullName, e.Probability*100)
	}

	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Detailed Analysis:")
	fmt.Fprintln(&b, rule)
	for _, e := range r.Rank() {
		fmt.Fprintf(&b, "%s:\n", e.FullName)
		fmt.Fprintf(&b, "  Confidence: %.2f%%\n", e.Probability*100)
		fmt.Fprintln(&b, rule)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
