package provider

import (
	"regexp"
	"strconv"
	"strings"
)

// ParsedChoice is the best-effort extraction of a structured selection from
// free-text model output.
//
// Free-text parsing is inherently fragile, so it is explicitly modeled as
// "may return low confidence or nothing": callers must prefer structured
// provider output where available and treat a miss as "defer", never as
// "pick the first option".
type ParsedChoice struct {
	// Index is 1-based, matching how options are presented in prompts.
	Index      int
	Confidence float64
}

var (
	// "variation 2", "option 3", "choice 1" with optional "#".
	labeledChoice = regexp.MustCompile(`(?i)\b(?:variation|option|choice|candidate)\s*#?\s*(\d+)\b`)
	// A bare leading number like "2." or "2)".
	leadingNumber = regexp.MustCompile(`^\s*#?(\d+)[.)\s]`)
)

// ParseChoice scans free text for a selection among n options.
func ParseChoice(text string, n int) (ParsedChoice, bool) {
	if n <= 0 || strings.TrimSpace(text) == "" {
		return ParsedChoice{}, false
	}

	if m := labeledChoice.FindStringSubmatch(text); m != nil {
		if idx, err := strconv.Atoi(m[1]); err == nil && idx >= 1 && idx <= n {
			return ParsedChoice{Index: idx, Confidence: 0.9}, true
		}
	}
	if m := leadingNumber.FindStringSubmatch(text); m != nil {
		if idx, err := strconv.Atoi(m[1]); err == nil && idx >= 1 && idx <= n {
			return ParsedChoice{Index: idx, Confidence: 0.6}, true
		}
	}
	return ParsedChoice{}, false
}
