package span

import (
	"errors"
	"fmt"
)

// ErrOffsetMapping marks a raw span that points outside the document.
var ErrOffsetMapping = errors.New("offset mapping failed")

// OffsetMappingError describes the offending raw span. Index is its position in
// the recognizer output and Limit the token count or document length it was
// checked against.
type OffsetMappingError struct {
	Index      int
	Unit       Unit
	Start, End int
	Limit      int
}

func (e *OffsetMappingError) Error() string {
	return fmt.Sprintf("offset mapping: span %d has %s range [%d, %d) outside [0, %d]",
		e.Index, e.Unit, e.Start, e.End, e.Limit)
}

func (e *OffsetMappingError) Unwrap() error { return ErrOffsetMapping }
