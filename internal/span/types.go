// Package span turns raw recognizer candidates into the final, validated list of
// entity mentions: offsets normalized to characters, low-confidence and
// disallowed labels filtered, duplicates collapsed and overlaps resolved.
package span

import (
	"fmt"
	"strings"
)

// Unit says how a RawSpan's offsets are expressed.
type Unit int

const (
	// UnitChar offsets are character offsets into the document.
	UnitChar Unit = iota
	// UnitToken offsets are indexes into the segmenter's token table, end exclusive.
	UnitToken
)

func (u Unit) String() string {
	if u == UnitToken {
		return "token"
	}
	return "char"
}

// RawSpan is an unresolved candidate produced by a recognizer.
type RawSpan struct {
	Start  int
	End    int
	Unit   Unit
	Label  string
	Score  float64
	Source string
}

// ResolvedSpan is a final entity mention with character offsets.
type ResolvedSpan struct {
	Start int     `json:"start"`
	End   int     `json:"end"`
	Text  string  `json:"text"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Overlaps reports whether two spans share a character position.
func (s ResolvedSpan) Overlaps(o ResolvedSpan) bool {
	return s.Start < o.End && o.Start < s.End
}

// LabelDisease is the label every built-in recognizer emits.
const LabelDisease = "DISEASE"

// NormalizeLabel is the canonical form used for comparison and output.
func NormalizeLabel(label string) string {
	return strings.ToUpper(strings.TrimSpace(label))
}

// LabelSet restricts accepted labels. The zero value accepts every label.
type LabelSet struct {
	labels map[string]struct{}
}

// NewLabelSet builds a restricted set. An empty list, or a list containing
// "all", accepts every label.
func NewLabelSet(labels []string) LabelSet {
	set := map[string]struct{}{}
	for _, l := range labels {
		n := NormalizeLabel(l)
		if n == "" {
			continue
		}
		if n == "ALL" {
			return LabelSet{}
		}
		set[n] = struct{}{}
	}
	if len(set) == 0 {
		return LabelSet{}
	}
	return LabelSet{labels: set}
}

// ParseLabelSet parses "all" or a comma separated label list.
func ParseLabelSet(s string) LabelSet {
	return NewLabelSet(strings.Split(s, ","))
}

// Allows reports whether label passes the set.
func (s LabelSet) Allows(label string) bool {
	if s.labels == nil {
		return true
	}
	_, ok := s.labels[NormalizeLabel(label)]
	return ok
}

// Strategy selects the overlap resolution algorithm.
type Strategy string

const (
	// StrategyGreedy accepts candidates by (score, length, start) priority.
	StrategyGreedy Strategy = "greedy"
	// StrategyOptimal picks the non-overlapping subset with maximum total score.
	StrategyOptimal Strategy = "optimal"
)

// ParseStrategy accepts "greedy", "optimal" or an empty string (greedy).
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyGreedy:
		return StrategyGreedy, nil
	case StrategyOptimal:
		return StrategyOptimal, nil
	default:
		return "", fmt.Errorf("unknown overlap strategy %q", s)
	}
}
