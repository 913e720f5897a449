// Package runid parses and orders sequencer run identifiers of the form
// {YYMMDD}_{instrument}_{count}_{flowcell}, e.g. 151119_NB500892_0045_AHGFJTBGXX.
package runid

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RunID is the parsed form of a run identifier. Raw is canonical; the other
// fields are views into it.
type RunID struct {
	Raw        string
	Date       string
	Instrument string
	Count      int
	FlowCell   string
}

// ParseError describes why a string is not a run identifier.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid run id %q: %s", e.Raw, e.Reason)
}

// Parse validates raw and splits it into its fields. No normalization is
// applied: surrounding whitespace makes the id invalid.
func Parse(raw string) (RunID, error) {
	fields := strings.Split(raw, "_")
	if len(fields) != 4 {
		return RunID{}, &ParseError{Raw: raw, Reason: fmt.Sprintf("expected 4 fields, got %d", len(fields))}
	}

	date, instrument, count, flowCell := fields[0], fields[1], fields[2], fields[3]

	if len(date) != 6 || !isDigits(date) {
		return RunID{}, &ParseError{Raw: raw, Reason: "date must be 6 digits"}
	}
	if len(count) != 4 || !isDigits(count) {
		return RunID{}, &ParseError{Raw: raw, Reason: "run count must be 4 digits"}
	}
	if len(flowCell) != 10 || !isAlnum(flowCell) {
		return RunID{}, &ParseError{Raw: raw, Reason: "flow cell id must be 10 alphanumeric characters"}
	}

	n, _ := strconv.Atoi(count)
	return RunID{
		Raw:        raw,
		Date:       date,
		Instrument: instrument,
		Count:      n,
		FlowCell:   flowCell,
	}, nil
}

// IsValid reports whether raw is a run identifier.
func IsValid(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

// String returns the canonical identifier.
func (r RunID) String() string {
	return r.Raw
}

// FlowCellID returns the flow cell id without its position prefix
// (the leading A/B character on dual flow cell instruments).
func (r RunID) FlowCellID() string {
	if len(r.FlowCell) == 0 {
		return ""
	}
	return r.FlowCell[1:]
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isAlnum(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}

// SortByPriority returns the members of candidates with the members of
// priority first. Within each group ids are sorted lexically so that runs
// are processed in date order and logs are stable between invocations.
func SortByPriority(candidates, priority map[string]struct{}) []string {
	var first, rest []string
	for id := range candidates {
		if _, ok := priority[id]; ok {
			first = append(first, id)
		} else {
			rest = append(rest, id)
		}
	}
	sort.Strings(first)
	sort.Strings(rest)
	return append(first, rest...)
}
