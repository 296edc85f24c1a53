// Package detect holds the recognition backends that propose candidate disease
// mentions for a document.
package detect

import (
	"context"

	"der/internal/span"
)

// Source names reported in RawSpan.Source.
const (
	SourceLexicon = "lexicon"
	SourcePattern = "pattern"
	SourceONNX    = "onnx"
)

// Recognizer proposes candidate mentions for a whole document text.
//
// Spans may overlap, repeat or carry a zero score. Token-unit spans index the
// tokens of segment.Segmenter{} over the same text. For a fixed model and input
// the result is the same on every call, though its order is not specified.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]span.RawSpan, error)
	Name() string
}

// Loader is implemented by recognizers that hold a model between calls.
type Loader interface {
	Load(ctx context.Context) error
	Close() error
}
