package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"der/internal/segment"
	"der/internal/span"
)

// ErrModelUnavailable reports a model directory that cannot be loaded.
var ErrModelUnavailable = errors.New("onnx model unavailable")

type ONNXConfig struct {
	ModelDir  string
	Backend   string
	MaxSeqLen int
}

// ONNXRecognizer tags words with a BIO token classification model. The model
// is loaded once, on Load or on first use, and reused until Close.
type ONNXRecognizer struct {
	cfg ONNXConfig
	seg segment.Segmenter

	once      sync.Once
	loadErr   error
	labels    []string
	tokenizer *WordPieceTokenizer
	session   nerSession

	newSession func(modelPath, backend string) (nerSession, error)
}

func NewONNXRecognizer(cfg ONNXConfig) *ONNXRecognizer {
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = 512
	}
	return &ONNXRecognizer{cfg: cfg, newSession: createONNXSession}
}

func (r *ONNXRecognizer) Name() string { return "onnx" }

func (r *ONNXRecognizer) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.once.Do(func() {
		r.loadErr = r.load()
		if r.loadErr != nil {
			log.Printf("[der] onnx: model load failed from %s: %v", r.cfg.ModelDir, r.loadErr)
		}
	})
	return r.loadErr
}

func (r *ONNXRecognizer) load() error {
	if r.cfg.ModelDir == "" {
		return fmt.Errorf("%w: no model directory configured", ErrModelUnavailable)
	}
	modelPath := filepath.Join(r.cfg.ModelDir, "model.onnx")
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	labels, err := loadLabels(filepath.Join(r.cfg.ModelDir, "labels.json"))
	if err != nil {
		return fmt.Errorf("%w: load labels: %v", ErrModelUnavailable, err)
	}
	tok, err := NewWordPieceTokenizer(filepath.Join(r.cfg.ModelDir, "tokenizer.json"), r.cfg.MaxSeqLen)
	if err != nil {
		return fmt.Errorf("%w: load tokenizer: %v", ErrModelUnavailable, err)
	}
	sess, err := r.newSession(modelPath, r.cfg.Backend)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	r.labels, r.tokenizer, r.session = labels, tok, sess
	return nil
}

// loadLabels reads an id→label object such as {"0": "O", "1": "B-Disease"}.
func loadLabels(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var byID map[string]string
	if err := json.Unmarshal(raw, &byID); err != nil {
		return nil, err
	}
	labels := make([]string, len(byID))
	for k, v := range byID {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 || idx >= len(byID) {
			return nil, fmt.Errorf("label ids must be 0..%d, got %q", len(byID)-1, k)
		}
		labels[idx] = v
	}
	return labels, nil
}

func (r *ONNXRecognizer) Close() error {
	if r.session == nil {
		return nil
	}
	err := r.session.Close()
	r.session = nil
	return err
}

func (r *ONNXRecognizer) Recognize(ctx context.Context, text string) ([]span.RawSpan, error) {
	if err := r.Load(ctx); err != nil {
		return nil, err
	}
	if r.session == nil {
		return nil, fmt.Errorf("%w: recognizer closed", ErrModelUnavailable)
	}
	doc, err := segment.NewDocument("", text)
	if err != nil {
		return nil, err
	}
	words := r.seg.Table(doc).Tokens()
	if len(words) == 0 {
		return []span.RawSpan{}, nil
	}

	tags := make([]string, len(words))
	scores := make([]float64, len(words))
	for _, w := range r.tokenizer.Encode(words) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logits, err := r.session.Run(ctx, w.InputIDs, w.AttentionMask, w.TokenTypeIDs)
		if err != nil {
			return nil, err
		}
		for k, pos := range w.WordStart {
			if pos >= len(logits) {
				return nil, fmt.Errorf("onnx output has %d rows, need position %d", len(logits), pos)
			}
			idx, p := argmax(softmax(logits[pos]))
			if idx >= len(r.labels) {
				return nil, fmt.Errorf("onnx output label %d outside %d known labels", idx, len(r.labels))
			}
			tags[w.FirstWord+k] = r.labels[idx]
			scores[w.FirstWord+k] = p
		}
	}

	merged := mergeBIO(tags, scores)
	out := make([]span.RawSpan, 0, len(merged))
	for _, s := range merged {
		out = append(out, span.RawSpan{
			Start:  s.Start,
			End:    s.End,
			Unit:   span.UnitToken,
			Label:  mapNERType(s.Type),
			Score:  s.Score,
			Source: SourceONNX,
		})
	}
	return out, nil
}
