package output

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"der/internal/segment"
	"der/internal/span"
)

func TestEncodeEmptyEntitiesAsArray(t *testing.T) {
	data, err := Encoder{}.Marshal(Record{InputPath: "in.txt"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"input_path":"in.txt","entities":[]}`, string(data))
}

func TestEncodeSchema(t *testing.T) {
	rec := Record{InputPath: "notes/a.txt", Entities: []span.ResolvedSpan{
		{Start: 0, End: 7, Text: "Malaria", Label: "DISEASE", Score: 0.9},
		{Start: 12, End: 31, Text: "acute renal failure", Label: "DISEASE", Score: 0.75},
	}}
	data, err := Encoder{Indent: true}.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"input_path": "notes/a.txt",
		"entities": [
			{"start": 0, "end": 7, "text": "Malaria", "label": "DISEASE", "score": 0.9},
			{"start": 12, "end": 31, "text": "acute renal failure", "label": "DISEASE", "score": 0.75}
		]
	}`, string(data))
}

func TestEncodeDoesNotEscapeHTML(t *testing.T) {
	rec := Record{Entities: []span.ResolvedSpan{{Start: 0, End: 3, Text: "<a>", Label: "DISEASE", Score: 1}}}
	data, err := Encoder{}.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"text":"<a>"`)
}

func TestEncodeRejectsInvariantViolations(t *testing.T) {
	cases := map[string][]span.ResolvedSpan{
		"inverted":  {{Start: 5, End: 2, Text: "abc", Label: "DISEASE", Score: 0.5}},
		"label":     {{Start: 0, End: 3, Text: "abc", Score: 0.5}},
		"score":     {{Start: 0, End: 3, Text: "abc", Label: "DISEASE", Score: 1.5}},
		"text":      {{Start: 0, End: 4, Text: "abc", Label: "DISEASE", Score: 0.5}},
		"unordered": {{Start: 4, End: 7, Text: "abc", Label: "DISEASE", Score: 0.5}, {Start: 0, End: 3, Text: "abc", Label: "DISEASE", Score: 0.5}},
		"overlap":   {{Start: 0, End: 3, Text: "abc", Label: "DISEASE", Score: 0.5}, {Start: 2, End: 5, Text: "cde", Label: "DISEASE", Score: 0.5}},
	}
	for name, entities := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Encoder{}.Marshal(Record{Entities: entities})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSerialization))
		})
	}
}

func TestEncodeBatchNamesDocument(t *testing.T) {
	rec := BatchRecord{InputPath: "corpus.txt", Documents: []DocumentRecord{
		{ID: "1", Text: "gout", Entities: []span.ResolvedSpan{{Start: 0, End: 4, Text: "gout", Label: "DISEASE", Score: 0.9}}},
		{ID: "2", Text: "x", Entities: []span.ResolvedSpan{{Start: 0, End: 2, Text: "x", Label: "DISEASE", Score: 0.9}}},
	}}
	_, err := Encoder{}.MarshalBatch(rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document 2")
}

func TestEncodeBatchEmptyDocumentEntities(t *testing.T) {
	data, err := Encoder{}.MarshalBatch(BatchRecord{InputPath: "c.txt", Documents: []DocumentRecord{{ID: "9", Text: "none"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"input_path":"c.txt","documents":[{"id":"9","text":"none","entities":[]}]}`, string(data))
}

func TestValidateAgainstDocument(t *testing.T) {
	doc, err := segment.NewDocument("", "gout and lupus")
	require.NoError(t, err)

	ok := []span.ResolvedSpan{{Start: 9, End: 14, Text: "lupus", Label: "DISEASE", Score: 0.8}}
	assert.NoError(t, Validate(ok, doc))

	wrong := []span.ResolvedSpan{{Start: 9, End: 14, Text: "lupis", Label: "DISEASE", Score: 0.8}}
	assert.ErrorIs(t, Validate(wrong, doc), ErrSerialization)

	beyond := []span.ResolvedSpan{{Start: 10, End: 15, Text: "upus.", Label: "DISEASE", Score: 0.8}}
	assert.ErrorIs(t, Validate(beyond, doc), ErrSerialization)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "output.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}
