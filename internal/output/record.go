// Package output renders resolved entities as JSON and writes result files.
package output

import "der/internal/span"

// Record is the root object written for a single plain-text document.
type Record struct {
	InputPath string              `json:"input_path"`
	Entities  []span.ResolvedSpan `json:"entities"`
}

// DocumentRecord is one document of a PubTator batch.
type DocumentRecord struct {
	ID       string              `json:"id"`
	Text     string              `json:"text"`
	Entities []span.ResolvedSpan `json:"entities"`
}

// BatchRecord is the root object written for PubTator input.
type BatchRecord struct {
	InputPath string           `json:"input_path"`
	Documents []DocumentRecord `json:"documents"`
}
