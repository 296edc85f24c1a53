package span

import (
	"math"
	"sort"

	"der/internal/segment"
)

// Resolver turns raw candidates into ResolvedSpans. The zero value keeps every
// label, every score and resolves overlaps greedily.
type Resolver struct {
	MinScore      float64
	AllowedLabels LabelSet
	Strategy      Strategy
}

type candidate struct {
	start, end int
	label      string
	score      float64
}

func (c candidate) length() int { return c.end - c.start }

// Resolve validates and reconciles raws against doc. table is consulted for
// token-unit spans only. The returned slice is never nil.
func (r Resolver) Resolve(doc *segment.Document, table segment.TokenTable, raws []RawSpan) ([]ResolvedSpan, error) {
	cands, err := normalize(doc, table, raws)
	if err != nil {
		return nil, err
	}
	cands = r.filter(cands)
	cands = dedupe(cands)

	var chosen []candidate
	if r.Strategy == StrategyOptimal {
		chosen = selectOptimal(cands)
	} else {
		chosen = selectGreedy(cands)
	}
	sortByPosition(chosen)

	out := make([]ResolvedSpan, 0, len(chosen))
	for _, c := range chosen {
		out = append(out, ResolvedSpan{
			Start: c.start,
			End:   c.end,
			Text:  doc.Slice(c.start, c.end),
			Label: c.label,
			Score: c.score,
		})
	}
	return out, nil
}

func normalize(doc *segment.Document, table segment.TokenTable, raws []RawSpan) ([]candidate, error) {
	out := make([]candidate, 0, len(raws))
	for i, raw := range raws {
		start, end := raw.Start, raw.End
		switch raw.Unit {
		case UnitToken:
			var ok bool
			start, end, ok = table.CharSpan(raw.Start, raw.End)
			if !ok {
				return nil, &OffsetMappingError{Index: i, Unit: UnitToken, Start: raw.Start, End: raw.End, Limit: table.Len()}
			}
		default:
			if !doc.InRange(start, end) {
				return nil, &OffsetMappingError{Index: i, Unit: UnitChar, Start: raw.Start, End: raw.End, Limit: doc.Len()}
			}
		}
		out = append(out, candidate{start: start, end: end, label: NormalizeLabel(raw.Label), score: clampScore(raw.Score)})
	}
	return out, nil
}

func clampScore(s float64) float64 {
	switch {
	case math.IsNaN(s), s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}

func (r Resolver) filter(cands []candidate) []candidate {
	out := cands[:0]
	for _, c := range cands {
		if c.score < r.MinScore || !r.AllowedLabels.Allows(c.label) {
			continue
		}
		out = append(out, c)
	}
	return out
}

type spanKey struct {
	start, end int
	label      string
}

func dedupe(cands []candidate) []candidate {
	seen := make(map[spanKey]int, len(cands))
	out := make([]candidate, 0, len(cands))
	for _, c := range cands {
		k := spanKey{c.start, c.end, c.label}
		if i, ok := seen[k]; ok {
			if c.score > out[i].score {
				out[i].score = c.score
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, c)
	}
	return out
}

func selectGreedy(cands []candidate) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.length() != b.length() {
			return a.length() > b.length()
		}
		if a.start != b.start {
			return a.start < b.start
		}
		return a.label < b.label
	})
	// accepted stays sorted by start so each check only looks at neighbours.
	accepted := make([]candidate, 0, len(cands))
	for _, c := range cands {
		idx := sort.Search(len(accepted), func(i int) bool { return accepted[i].start >= c.start })
		if idx > 0 && accepted[idx-1].end > c.start {
			continue
		}
		if idx < len(accepted) && accepted[idx].start < c.end {
			continue
		}
		accepted = append(accepted, candidate{})
		copy(accepted[idx+1:], accepted[idx:])
		accepted[idx] = c
	}
	return accepted
}

func sortByPosition(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.start != b.start {
			return a.start < b.start
		}
		if a.end != b.end {
			return a.end > b.end
		}
		return a.label < b.label
	})
}
