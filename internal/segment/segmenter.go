package segment

import (
	"iter"
	"unicode"
	"unicode/utf8"
)

// Token is a maximal unit of document text with character offsets [Start, End).
type Token struct {
	Text       string
	Start, End int
}

// Segmenter splits documents into tokens. Letters, digits and combining marks
// form word tokens; every other non-space character is a token of its own.
// Whitespace never appears in a token.
type Segmenter struct{}

// Tokens returns a lazy token sequence. Every range over it starts again from
// the beginning of the document.
func (s Segmenter) Tokens(doc *Document) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		text := doc.text
		wordStart, wordByte := -1, 0
		ci := 0
		for bi := 0; bi < len(text); {
			r, size := utf8.DecodeRuneInString(text[bi:])
			if isWordRune(r) {
				if wordStart < 0 {
					wordStart, wordByte = ci, bi
				}
				bi += size
				ci++
				continue
			}
			if wordStart >= 0 {
				if !yield(Token{Text: text[wordByte:bi], Start: wordStart, End: ci}) {
					return
				}
				wordStart = -1
			}
			if !unicode.IsSpace(r) {
				if !yield(Token{Text: text[bi : bi+size], Start: ci, End: ci + 1}) {
					return
				}
			}
			bi += size
			ci++
		}
		if wordStart >= 0 {
			yield(Token{Text: text[wordByte:], Start: wordStart, End: ci})
		}
	}
}

// Table materializes the token sequence of doc.
func (s Segmenter) Table(doc *Document) TokenTable {
	tokens := make([]Token, 0, doc.Len()/4)
	for tok := range s.Tokens(doc) {
		tokens = append(tokens, tok)
	}
	return TokenTable{tokens: tokens}
}

// Split tokenizes a standalone string such as a lexicon entry.
func (s Segmenter) Split(text string) ([]Token, error) {
	doc, err := NewDocument("", text)
	if err != nil {
		return nil, err
	}
	return s.Table(doc).Tokens(), nil
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// TokenTable is an indexed token list used to map token positions to characters.
type TokenTable struct {
	tokens []Token
}

func (t TokenTable) Len() int { return len(t.tokens) }

func (t TokenTable) At(i int) Token { return t.tokens[i] }

func (t TokenTable) Tokens() []Token { return t.tokens }

// CharSpan maps the token range [startTok, endTok) to character offsets.
func (t TokenTable) CharSpan(startTok, endTok int) (start, end int, ok bool) {
	if startTok < 0 || endTok > len(t.tokens) || startTok >= endTok {
		return 0, 0, false
	}
	return t.tokens[startTok].Start, t.tokens[endTok-1].End, true
}
