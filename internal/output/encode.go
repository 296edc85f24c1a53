package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"der/internal/segment"
	"der/internal/span"
)

// ErrSerialization marks a record that breaks the entity invariants.
var ErrSerialization = errors.New("serialization failed")

// SerializationError names the offending entity.
type SerializationError struct {
	Document string
	Index    int
	Reason   string
}

func (e *SerializationError) Error() string {
	if e.Document != "" {
		return fmt.Sprintf("serialization: document %s entity %d: %s", e.Document, e.Index, e.Reason)
	}
	return fmt.Sprintf("serialization: entity %d: %s", e.Index, e.Reason)
}

func (e *SerializationError) Unwrap() error { return ErrSerialization }

// Encoder writes records as JSON.
type Encoder struct {
	Indent bool
}

// Encode validates rec and writes it to w.
func (e Encoder) Encode(w io.Writer, rec Record) error {
	if err := Validate(rec.Entities, nil); err != nil {
		return err
	}
	if rec.Entities == nil {
		rec.Entities = []span.ResolvedSpan{}
	}
	return e.write(w, rec)
}

// EncodeBatch validates every document of rec and writes it to w.
func (e Encoder) EncodeBatch(w io.Writer, rec BatchRecord) error {
	if rec.Documents == nil {
		rec.Documents = []DocumentRecord{}
	}
	for i := range rec.Documents {
		if err := Validate(rec.Documents[i].Entities, nil); err != nil {
			var serr *SerializationError
			if errors.As(err, &serr) {
				serr.Document = rec.Documents[i].ID
			}
			return err
		}
		if rec.Documents[i].Entities == nil {
			rec.Documents[i].Entities = []span.ResolvedSpan{}
		}
	}
	return e.write(w, rec)
}

// Marshal is Encode into a byte slice.
func (e Encoder) Marshal(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Encode(&buf, rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalBatch is EncodeBatch into a byte slice.
func (e Encoder) MarshalBatch(rec BatchRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.EncodeBatch(&buf, rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e Encoder) write(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if e.Indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// Validate checks the entity invariants. When doc is non-nil every Text must
// equal the document slice it claims to cover.
func Validate(entities []span.ResolvedSpan, doc *segment.Document) error {
	for i, e := range entities {
		switch {
		case e.Start < 0 || e.Start >= e.End:
			return &SerializationError{Index: i, Reason: fmt.Sprintf("invalid range [%d, %d)", e.Start, e.End)}
		case e.Label == "":
			return &SerializationError{Index: i, Reason: "empty label"}
		case math.IsNaN(e.Score) || e.Score < 0 || e.Score > 1:
			return &SerializationError{Index: i, Reason: fmt.Sprintf("score %v outside [0, 1]", e.Score)}
		case utf8.RuneCountInString(e.Text) != e.End-e.Start:
			return &SerializationError{Index: i, Reason: fmt.Sprintf("text %q does not span [%d, %d)", e.Text, e.Start, e.End)}
		}
		if doc != nil {
			if e.End > doc.Len() {
				return &SerializationError{Index: i, Reason: fmt.Sprintf("end %d beyond document length %d", e.End, doc.Len())}
			}
			if doc.Slice(e.Start, e.End) != e.Text {
				return &SerializationError{Index: i, Reason: fmt.Sprintf("text %q differs from document", e.Text)}
			}
		}
		if i == 0 {
			continue
		}
		prev := entities[i-1]
		if prev.Start > e.Start {
			return &SerializationError{Index: i, Reason: "entities not ordered by start"}
		}
		if prev.Overlaps(e) {
			return &SerializationError{Index: i, Reason: fmt.Sprintf("overlaps entity %d", i-1)}
		}
	}
	return nil
}
