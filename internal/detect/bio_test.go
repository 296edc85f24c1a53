package detect

import (
	"testing"

	"der/internal/segment"
)

func TestSoftmax_SumsToOne(t *testing.T) {
	probs := softmax([]float32{0.2, 0.4, 0.8})
	s := 0.0
	for _, p := range probs {
		s += p
	}
	if s < 0.9999 || s > 1.0001 {
		t.Fatalf("sum=%f", s)
	}
}

func TestSoftmax_NumericalStability(t *testing.T) {
	probs := softmax([]float32{1000, 1000, -1000})
	idx, p := argmax(probs)
	if idx != 0 || p < 0.49 || p > 0.51 {
		t.Fatalf("argmax=%d p=%f", idx, p)
	}
}

func TestMergeBIO(t *testing.T) {
	labels := []string{"B-Disease", "I-Disease", "O", "I-Disease", "B-Chemical", "I-Disease"}
	scores := []float64{0.75, 0.25, 0.1, 0.6, 0.8, 0.5}
	spans := mergeBIO(labels, scores)
	if len(spans) != 4 {
		t.Fatalf("expected 4 spans, got %+v", spans)
	}
	if spans[0].Start != 0 || spans[0].End != 2 || spans[0].Type != "Disease" || spans[0].Score != 0.5 {
		t.Fatalf("unexpected span %+v", spans[0])
	}
	if spans[1].Start != 3 || spans[1].End != 4 {
		t.Fatalf("stray I- should open a span: %+v", spans[1])
	}
	if spans[2].Type != "Chemical" || spans[3].Type != "Disease" {
		t.Fatalf("type change should split spans: %+v", spans[2:])
	}
}

func TestMapNERType(t *testing.T) {
	for in, want := range map[string]string{"Disease": "DISEASE", "DIS": "DISEASE", "Chemical": "CHEMICAL"} {
		if got := mapNERType(in); got != want {
			t.Fatalf("mapNERType(%q)=%q want %q", in, got, want)
		}
	}
}

func TestWordPiece_Pieces(t *testing.T) {
	path := t.TempDir() + "/tokenizer.json"
	mustWrite(t, path, testVocab)
	tok, err := NewWordPieceTokenizer(path, 512)
	if err != nil {
		t.Fatal(err)
	}
	if got := tok.wordToPieces("Fibrosis"); len(got) != 2 || got[0] != 7 || got[1] != 8 {
		t.Fatalf("pieces=%v", got)
	}
	if got := tok.wordToPieces("xyz"); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected [UNK], got %v", got)
	}
}

func TestWordPiece_MissingSpecialToken(t *testing.T) {
	path := t.TempDir() + "/tokenizer.json"
	mustWrite(t, path, `{"model":{"vocab":{"[UNK]":0,"[CLS]":1}}}`)
	if _, err := NewWordPieceTokenizer(path, 512); err == nil {
		t.Fatal("expected missing [SEP] error")
	}
}

func TestWordPiece_WindowsFitSequenceLength(t *testing.T) {
	path := t.TempDir() + "/tokenizer.json"
	mustWrite(t, path, testVocab)
	tok, err := NewWordPieceTokenizer(path, 5)
	if err != nil {
		t.Fatal(err)
	}
	words, err := segment.Segmenter{}.Split("malaria and cystic fibrosis and malaria")
	if err != nil {
		t.Fatal(err)
	}
	windows := tok.Encode(words)
	covered := 0
	for _, w := range windows {
		if len(w.InputIDs) > 5 {
			t.Fatalf("window too long: %v", w.InputIDs)
		}
		if w.InputIDs[0] != 2 || w.InputIDs[len(w.InputIDs)-1] != 3 {
			t.Fatalf("window not framed by [CLS]/[SEP]: %v", w.InputIDs)
		}
		if w.FirstWord != covered {
			t.Fatalf("window starts at word %d, want %d", w.FirstWord, covered)
		}
		covered += len(w.WordStart)
	}
	if covered != len(words) {
		t.Fatalf("windows cover %d of %d words", covered, len(words))
	}
}
