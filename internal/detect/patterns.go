package detect

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"der/internal/segment"
	"der/internal/span"
)

var diseaseSuffixes = []string{
	"itis", "osis", "emia", "aemia", "oma", "pathy", "algia", "plasia", "trophy", "penia", "uria",
}

// Words with a disease suffix that do not name a disease.
var suffixStopwords = map[string]struct{}{
	"diagnosis": {}, "prognosis": {}, "osmosis": {}, "hypnosis": {}, "aroma": {},
	"diploma": {}, "stoma": {}, "soma": {}, "chroma": {}, "genoma": {}, "homeopathy": {},
	"sympathy": {}, "empathy": {}, "apathy": {}, "antipathy": {}, "telepathy": {},
}

const minSuffixWordLen = 6

func findSuffixMatches(tokens []segment.Token, lower []string) []span.RawSpan {
	out := make([]span.RawSpan, 0)
	for i, w := range lower {
		if utf8.RuneCountInString(w) < minSuffixWordLen {
			continue
		}
		if _, stop := suffixStopwords[w]; stop {
			continue
		}
		for _, suf := range diseaseSuffixes {
			if strings.HasSuffix(w, suf) || strings.HasSuffix(w, suf+"s") {
				out = append(out, span.RawSpan{
					Start:  tokens[i].Start,
					End:    tokens[i].End,
					Unit:   span.UnitChar,
					Label:  span.LabelDisease,
					Score:  suffixScore,
					Source: SourcePattern,
				})
				break
			}
		}
	}
	return out
}

// patternRule matches a regular expression over the raw text. The mention runs
// from the start of submatch startGrp to the end of submatch endGrp.
type patternRule struct {
	re       *regexp.Regexp
	startGrp int
	endGrp   int
	label    string
	score    float64
	skip     func(modifier string) bool
}

// The word after the head noun is checked in find, so the separator that
// follows one mention is still there to start the next.
var headNounRegexp = regexp.MustCompile(
	`(?i)(?:^|[^\p{L}\p{N}'’\-])(\p{L}[\p{L}\p{N}\-]*(?:['’]s)?)\s+((?:disease|syndrome|cancer|disorder|deficiency|infection|failure|tumou?r)s?)`,
)

var modifierStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"of": {}, "for": {}, "with": {}, "without": {}, "and": {}, "or": {}, "in": {},
	"no": {}, "any": {}, "such": {}, "their": {}, "his": {}, "her": {}, "its": {},
	"our": {}, "your": {}, "other": {}, "same": {}, "by": {}, "from": {}, "to": {},
	"is": {}, "was": {}, "were": {}, "are": {}, "be": {}, "as": {}, "on": {},
}

func defaultPatternRules() []patternRule {
	return []patternRule{{
		re:       headNounRegexp,
		startGrp: 1,
		endGrp:   2,
		label:    span.LabelDisease,
		score:    headScore,
		skip: func(modifier string) bool {
			_, stop := modifierStopwords[strings.ToLower(modifier)]
			return stop
		},
	}}
}

func (p patternRule) find(doc *segment.Document) []span.RawSpan {
	text := doc.Text()
	matches := p.re.FindAllStringSubmatchIndex(text, -1)
	out := make([]span.RawSpan, 0, len(matches))
	for _, m := range matches {
		bs, be := m[2*p.startGrp], m[2*p.endGrp+1]
		if bs < 0 || be < 0 {
			continue
		}
		if r, _ := utf8.DecodeRuneInString(text[be:]); be < len(text) && isWordChar(r) {
			continue
		}
		if p.skip != nil && p.startGrp > 0 && p.skip(text[m[2*p.startGrp]:m[2*p.startGrp+1]]) {
			continue
		}
		start, ok1 := doc.CharOffset(bs)
		end, ok2 := doc.CharOffset(be)
		if !ok1 || !ok2 || start >= end {
			continue
		}
		out = append(out, span.RawSpan{
			Start:  start,
			End:    end,
			Unit:   span.UnitChar,
			Label:  p.label,
			Score:  p.score,
			Source: SourcePattern,
		})
	}
	return out
}

func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// foldToken lowercases a token and maps typographic apostrophes to ASCII so
// "Crohn’s" and "Crohn's" share a lexicon key.
func foldToken(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "’", "'")
}
