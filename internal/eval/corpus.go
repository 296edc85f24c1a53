package eval

import (
	"encoding/json"
	"fmt"
	"os"

	"der/internal/output"
	"der/internal/pubtator"
	"der/internal/segment"
)

// LoadPredictions reads a batch output file written by der.
func LoadPredictions(path string) (output.BatchRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return output.BatchRecord{}, err
	}
	var rec output.BatchRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return output.BatchRecord{}, fmt.Errorf("parse predictions %s: %w", path, err)
	}
	if rec.Documents == nil {
		return output.BatchRecord{}, fmt.Errorf("predictions %s: no documents array, expected batch output", path)
	}
	return rec, nil
}

// EvaluateCorpus matches predicted documents to gold documents by id. A gold
// document without predictions counts every gold mention as missed; predicted
// documents without gold are skipped.
func EvaluateCorpus(gold []pubtator.Document, pred output.BatchRecord) (Report, error) {
	byID := make(map[string]output.DocumentRecord, len(pred.Documents))
	for _, d := range pred.Documents {
		byID[d.ID] = d
	}
	ev := NewEvaluator()
	for _, g := range gold {
		doc, err := segment.NewDocument(g.ID, g.Text())
		if err != nil {
			return Report{}, err
		}
		ev.AddDocument(doc, g.Gold(), byID[g.ID].Entities)
	}
	return ev.Report(), nil
}
