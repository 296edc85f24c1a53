package eval

import (
	"fmt"

	"der/internal/segment"
	"der/internal/span"
)

// Counts holds one schema's tallies. Precision, Recall and F1 are filled by
// Evaluator.Report.
type Counts struct {
	Correct   int     `json:"correct"`
	Incorrect int     `json:"incorrect"`
	Partial   int     `json:"partial"`
	Missed    int     `json:"missed"`
	Spurious  int     `json:"spurious"`
	Possible  int     `json:"possible"`
	Actual    int     `json:"actual"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

func (c Counts) String() string {
	return fmt.Sprintf("correct=%d incorrect=%d partial=%d missed=%d spurious=%d possible=%d actual=%d precision=%.4f recall=%.4f f1=%.4f",
		c.Correct, c.Incorrect, c.Partial, c.Missed, c.Spurious, c.Possible, c.Actual, c.Precision, c.Recall, c.F1)
}

func (c *Counts) add(o Counts) {
	c.Correct += o.Correct
	c.Incorrect += o.Incorrect
	c.Partial += o.Partial
	c.Missed += o.Missed
	c.Spurious += o.Spurious
}

// finish derives possible/actual and the ratios. Half credit for partial
// matches applies when halfPartial is set.
func (c *Counts) finish(halfPartial bool) {
	c.Possible = c.Correct + c.Incorrect + c.Partial + c.Missed
	c.Actual = c.Correct + c.Incorrect + c.Partial + c.Spurious
	hits := float64(c.Correct)
	if halfPartial {
		hits += 0.5 * float64(c.Partial)
	}
	c.Precision, c.Recall, c.F1 = 0, 0, 0
	if c.Actual > 0 {
		c.Precision = hits / float64(c.Actual)
	}
	if c.Possible > 0 {
		c.Recall = hits / float64(c.Possible)
	}
	if c.Precision+c.Recall > 0 {
		c.F1 = 2 * c.Precision * c.Recall / (c.Precision + c.Recall)
	}
}

// Report holds the four evaluation schemas. Strict needs exact boundaries and
// type, EntType the type with any overlap, Exact the boundaries only, Partial
// gives half credit for overlapping boundaries.
type Report struct {
	Documents int    `json:"documents"`
	Strict    Counts `json:"strict"`
	EntType   Counts `json:"ent_type"`
	Partial   Counts `json:"partial"`
	Exact     Counts `json:"exact"`
}

// Evaluator accumulates counts over documents. Entities whose label is not in
// Labels are ignored on both sides.
type Evaluator struct {
	Labels span.LabelSet
	seg    segment.Segmenter
	report Report
}

// NewEvaluator scores DISEASE mentions.
func NewEvaluator() *Evaluator {
	return &Evaluator{Labels: span.NewLabelSet([]string{span.LabelDisease})}
}

// AddDocument tags gold and predicted mentions over doc's tokens and scores them.
func (e *Evaluator) AddDocument(doc *segment.Document, gold, pred []span.ResolvedSpan) {
	tokens := e.seg.Table(doc).Tokens()
	e.Add(Entities(Tags(tokens, gold)), Entities(Tags(tokens, pred)))
}

// Add scores one document's entities.
func (e *Evaluator) Add(gold, pred []Entity) {
	gold, pred = e.keep(gold), e.keep(pred)
	var strict, entType, partial, exact Counts
	matched := make([]bool, len(gold))

	for _, p := range pred {
		if i := indexOf(gold, p); i >= 0 {
			matched[i] = true
			strict.Correct++
			entType.Correct++
			exact.Correct++
			partial.Correct++
			continue
		}
		found := false
		for i, g := range gold {
			switch {
			case g.Start == p.Start && g.End == p.End:
				// same boundaries, different type
				strict.Incorrect++
				entType.Incorrect++
				partial.Correct++
				exact.Correct++
			case g.Start < p.End && p.Start < g.End:
				strict.Incorrect++
				exact.Incorrect++
				partial.Partial++
				if g.Label == p.Label {
					entType.Correct++
				} else {
					entType.Incorrect++
				}
			default:
				continue
			}
			matched[i] = true
			found = true
			break
		}
		if !found {
			strict.Spurious++
			entType.Spurious++
			partial.Spurious++
			exact.Spurious++
		}
	}
	for _, m := range matched {
		if !m {
			strict.Missed++
			entType.Missed++
			partial.Missed++
			exact.Missed++
		}
	}

	e.report.Documents++
	e.report.Strict.add(strict)
	e.report.EntType.add(entType)
	e.report.Partial.add(partial)
	e.report.Exact.add(exact)
}

func (e *Evaluator) keep(ents []Entity) []Entity {
	out := make([]Entity, 0, len(ents))
	for _, ent := range ents {
		if e.Labels.Allows(ent.Label) {
			out = append(out, ent)
		}
	}
	return out
}

func indexOf(ents []Entity, want Entity) int {
	for i, e := range ents {
		if e == want {
			return i
		}
	}
	return -1
}

// Report returns the totals so far with ratios computed.
func (e *Evaluator) Report() Report {
	r := e.report
	r.Strict.finish(false)
	r.Exact.finish(false)
	r.EntType.finish(true)
	r.Partial.finish(true)
	return r
}
