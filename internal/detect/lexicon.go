package detect

import (
	"bufio"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"der/internal/segment"
	"der/internal/span"
)

//go:embed lexicon.txt
var builtinLexicon string

const (
	lexiconScore = 0.9
	suffixScore  = 0.6
	headScore    = 0.75
)

// LexiconRecognizer matches dictionary phrases and disease-like word shapes
// over the segmenter's tokens. It needs no model and is always available.
type LexiconRecognizer struct {
	entries  map[string]string
	maxWords int
	seg      segment.Segmenter
	rules    []patternRule
}

// NewLexiconRecognizer loads the built-in lexicon plus the optional user
// lexicon at path (term<TAB>label per line).
func NewLexiconRecognizer(path string) (*LexiconRecognizer, error) {
	r := &LexiconRecognizer{entries: map[string]string{}, rules: defaultPatternRules()}
	if err := r.load(strings.NewReader(builtinLexicon), "builtin"); err != nil {
		return nil, err
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open lexicon: %w", err)
		}
		defer f.Close()
		if err := r.load(f, path); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *LexiconRecognizer) Name() string { return "lexicon" }

// Len returns the number of distinct lexicon phrases.
func (r *LexiconRecognizer) Len() int { return len(r.entries) }

func (r *LexiconRecognizer) load(src io.Reader, name string) error {
	sc := bufio.NewScanner(src)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		term, label, _ := strings.Cut(raw, "\t")
		label = span.NormalizeLabel(label)
		if label == "" {
			label = span.LabelDisease
		}
		key, n, err := r.phraseKey(term)
		if err != nil {
			return fmt.Errorf("lexicon %s:%d: %w", name, line, err)
		}
		if n == 0 {
			continue
		}
		r.entries[key] = label
		if n > r.maxWords {
			r.maxWords = n
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read lexicon %s: %w", name, err)
	}
	return nil
}

func (r *LexiconRecognizer) phraseKey(term string) (string, int, error) {
	toks, err := r.seg.Split(strings.TrimSpace(term))
	if err != nil {
		return "", 0, err
	}
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = foldToken(t.Text)
	}
	return strings.Join(parts, "\x00"), len(parts), nil
}

func (r *LexiconRecognizer) Recognize(ctx context.Context, text string) ([]span.RawSpan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := segment.NewDocument("", text)
	if err != nil {
		return nil, err
	}
	tokens := r.seg.Table(doc).Tokens()
	lower := make([]string, len(tokens))
	for i, t := range tokens {
		lower[i] = foldToken(t.Text)
	}

	out := make([]span.RawSpan, 0)
	for i := range tokens {
		limit := min(r.maxWords, len(tokens)-i)
		for n := limit; n >= 1; n-- {
			label, ok := r.entries[strings.Join(lower[i:i+n], "\x00")]
			if !ok {
				continue
			}
			out = append(out, span.RawSpan{
				Start:  tokens[i].Start,
				End:    tokens[i+n-1].End,
				Unit:   span.UnitChar,
				Label:  label,
				Score:  lexiconScore,
				Source: SourceLexicon,
			})
		}
	}
	out = append(out, findSuffixMatches(tokens, lower)...)
	for _, rule := range r.rules {
		out = append(out, rule.find(doc)...)
	}
	return out, nil
}
