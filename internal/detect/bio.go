package detect

import (
	"math"
	"strings"

	"der/internal/span"
)

func softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxLogit := float64(logits[0])
	for _, l := range logits[1:] {
		maxLogit = math.Max(maxLogit, float64(l))
	}
	sum := 0.0
	for i, l := range logits {
		out[i] = math.Exp(float64(l) - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func argmax(probs []float64) (int, float64) {
	best, bestP := 0, math.Inf(-1)
	for i, p := range probs {
		if p > bestP {
			best, bestP = i, p
		}
	}
	return best, bestP
}

// mapNERType folds model label spellings onto output labels.
func mapNERType(t string) string {
	switch strings.ToUpper(t) {
	case "DISEASE", "DIS", "DISEASES", "DISO":
		return span.LabelDisease
	default:
		return span.NormalizeLabel(t)
	}
}

type bioSpan struct {
	Type       string
	Start, End int
	Score      float64
}

// mergeBIO groups per-word BIO tags into spans over word indexes [Start, End).
// A span's score is the mean of its words' scores. A stray I- tag opens a span.
func mergeBIO(labels []string, scores []float64) []bioSpan {
	out := make([]bioSpan, 0)
	var cur *bioSpan
	curCount := 0.0
	flush := func() {
		if cur != nil {
			cur.Score = cur.Score / math.Max(1, curCount)
			out = append(out, *cur)
			cur = nil
			curCount = 0
		}
	}
	for i, label := range labels {
		if label == "O" || label == "" {
			flush()
			continue
		}
		prefix, typ, ok := strings.Cut(label, "-")
		if !ok || (prefix != "I" && prefix != "B") {
			flush()
			continue
		}
		if prefix == "B" || cur == nil || cur.Type != typ {
			flush()
			cur = &bioSpan{Type: typ, Start: i, End: i + 1, Score: scores[i]}
			curCount = 1
			continue
		}
		cur.End = i + 1
		cur.Score += scores[i]
		curCount++
	}
	flush()
	return out
}
