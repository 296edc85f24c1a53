// Package segment loads input documents and splits them into character-addressed
// tokens. All offsets in this package are 0-based Unicode code point offsets with
// an exclusive end, never byte offsets.
package segment

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Document is the immutable text of one input, identified by its source path.
type Document struct {
	Path string

	text string
	// index[i] is the byte offset of character i; index[len] == len(text).
	index []int
}

// NewDocument validates text and builds its character index.
func NewDocument(path, text string) (*Document, error) {
	if off, ok := validUTF8(text); !ok {
		return nil, &SegmentationError{Path: path, Offset: off, Reason: "invalid UTF-8 sequence"}
	}
	index := make([]int, 0, len(text)+1)
	for i := range text {
		index = append(index, i)
	}
	index = append(index, len(text))
	return &Document{Path: path, text: text, index: index}, nil
}

// LoadDocument reads path and decodes it. UTF-16 input must carry a byte order
// mark; a UTF-8 byte order mark is stripped. Read failures are returned as-is so
// callers can tell them apart from segmentation failures.
func LoadDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text, err := decode(raw)
	if err != nil {
		return nil, &SegmentationError{Path: path, Offset: 0, Reason: err.Error()}
	}
	return NewDocument(path, text)
}

func decode(raw []byte) (string, error) {
	switch {
	case bytes.HasPrefix(raw, utf8BOM):
		return string(raw[len(utf8BOM):]), nil
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}), bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		out, _, err := transform.Bytes(dec, raw)
		if err != nil {
			return "", fmt.Errorf("decode utf-16: %w", err)
		}
		return string(out), nil
	default:
		return string(raw), nil
	}
}

// validUTF8 reports the byte offset of the first invalid sequence.
func validUTF8(s string) (int, bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			return i, false
		}
		i += size
	}
	return 0, true
}

// Text returns the full document text.
func (d *Document) Text() string { return d.text }

// Len returns the number of characters in the document.
func (d *Document) Len() int { return len(d.index) - 1 }

// Slice returns the characters in [start, end). The caller guarantees
// 0 <= start <= end <= Len().
func (d *Document) Slice(start, end int) string {
	return d.text[d.index[start]:d.index[end]]
}

// InRange reports whether [start, end) is a non-empty range inside the document.
func (d *Document) InRange(start, end int) bool {
	return start >= 0 && start < end && end <= d.Len()
}

// CharOffset converts a byte offset that falls on a character boundary (or at
// the end of the text) to a character offset.
func (d *Document) CharOffset(byteOffset int) (int, bool) {
	i := sort.SearchInts(d.index, byteOffset)
	if i >= len(d.index) || d.index[i] != byteOffset {
		return 0, false
	}
	return i, true
}

