package detect

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"der/internal/segment"
)

const maxWordRunes = 100

// WordPieceTokenizer encodes segmenter words with a BERT vocabulary.
type WordPieceTokenizer struct {
	vocab     map[string]int
	unkID     int
	clsID     int
	sepID     int
	maxSeqLen int
	lowercase bool
}

// Window is one model input covering the words [FirstWord, FirstWord+len(words)).
type Window struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	// WordStart[k] is the position of word k's first piece in InputIDs.
	WordStart []int
	FirstWord int
}

type tokenizerJSON struct {
	Model struct {
		Vocab map[string]int `json:"vocab"`
	} `json:"model"`
	Normalizer struct {
		Lowercase *bool `json:"lowercase"`
	} `json:"normalizer"`
}

func NewWordPieceTokenizer(tokenizerPath string, maxSeqLen int) (*WordPieceTokenizer, error) {
	vocab, lowercase, err := loadTokenizerConfig(tokenizerPath)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 3)
	for i, special := range []string{"[UNK]", "[CLS]", "[SEP]"} {
		id, ok := vocab[special]
		if !ok {
			return nil, fmt.Errorf("tokenizer vocab is missing %s", special)
		}
		ids[i] = id
	}
	if maxSeqLen < 3 {
		maxSeqLen = 512
	}
	return &WordPieceTokenizer{
		vocab:     vocab,
		unkID:     ids[0],
		clsID:     ids[1],
		sepID:     ids[2],
		maxSeqLen: maxSeqLen,
		lowercase: lowercase,
	}, nil
}

func loadTokenizerConfig(path string) (map[string]int, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	var cfg tokenizerJSON
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, false, err
	}
	if len(cfg.Model.Vocab) == 0 {
		return nil, false, fmt.Errorf("tokenizer.json model.vocab is empty")
	}
	lowercase := true
	if cfg.Normalizer.Lowercase != nil {
		lowercase = *cfg.Normalizer.Lowercase
	}
	return cfg.Model.Vocab, lowercase, nil
}

// Encode splits words into windows of at most maxSeqLen pieces including
// [CLS] and [SEP]. A word longer than a window is truncated to fit.
func (t *WordPieceTokenizer) Encode(words []segment.Token) []Window {
	budget := t.maxSeqLen - 2
	windows := make([]Window, 0, 1)
	cur := t.newWindow(0)
	for wi, word := range words {
		pieces := t.wordToPieces(word.Text)
		if len(pieces) > budget {
			pieces = pieces[:budget]
		}
		if len(cur.WordStart) > 0 && len(cur.InputIDs)-1+len(pieces) > budget {
			windows = append(windows, t.closeWindow(cur))
			cur = t.newWindow(wi)
		}
		cur.WordStart = append(cur.WordStart, len(cur.InputIDs))
		for _, id := range pieces {
			cur.InputIDs = append(cur.InputIDs, int64(id))
			cur.AttentionMask = append(cur.AttentionMask, 1)
			cur.TokenTypeIDs = append(cur.TokenTypeIDs, 0)
		}
	}
	if len(cur.WordStart) > 0 {
		windows = append(windows, t.closeWindow(cur))
	}
	return windows
}

func (t *WordPieceTokenizer) newWindow(first int) Window {
	return Window{
		InputIDs:      []int64{int64(t.clsID)},
		AttentionMask: []int64{1},
		TokenTypeIDs:  []int64{0},
		FirstWord:     first,
	}
}

func (t *WordPieceTokenizer) closeWindow(w Window) Window {
	w.InputIDs = append(w.InputIDs, int64(t.sepID))
	w.AttentionMask = append(w.AttentionMask, 1)
	w.TokenTypeIDs = append(w.TokenTypeIDs, 0)
	return w
}

func (t *WordPieceTokenizer) wordToPieces(word string) []int {
	if word == "" {
		return []int{t.unkID}
	}
	normalized := word
	if t.lowercase {
		normalized = strings.ToLower(word)
	}
	if id, ok := t.vocab[normalized]; ok {
		return []int{id}
	}
	runes := []rune(normalized)
	if len(runes) > maxWordRunes {
		return []int{t.unkID}
	}
	ids := make([]int, 0)
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := -1
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				found = id
				break
			}
			end--
		}
		if found == -1 {
			return []int{t.unkID}
		}
		ids = append(ids, found)
		start = end
	}
	return ids
}
