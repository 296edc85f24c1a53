// Package eval scores predicted mentions against gold annotations at the
// entity level, after projecting both onto IOB tags over the same tokens.
package eval

import (
	"sort"
	"strings"

	"der/internal/segment"
	"der/internal/span"
)

const outside = "O"

// Entity is a mention re-read from IOB tags, over token indexes [Start, End).
type Entity struct {
	Label string
	Start int
	End   int
}

// Tags assigns one IOB tag per token. A token starting at a mention start is
// tagged B-, a later token still inside the mention I-, everything else O.
// A token that only partly covers a mention's tail is tagged I-.
func Tags(tokens []segment.Token, mentions []span.ResolvedSpan) []string {
	ents := make([]span.ResolvedSpan, len(mentions))
	copy(ents, mentions)
	sort.SliceStable(ents, func(i, j int) bool { return ents[i].Start < ents[j].Start })

	tags := make([]string, 0, len(tokens))
	next := 0
	for _, tok := range tokens {
		for next < len(ents) && tok.Start >= ents[next].End {
			next++
		}
		if next >= len(ents) {
			tags = append(tags, outside)
			continue
		}
		cur := ents[next]
		label := span.NormalizeLabel(cur.Label)
		switch {
		case tok.Start < cur.Start:
			tags = append(tags, outside)
		case tok.Start == cur.Start:
			tags = append(tags, "B-"+label)
			if tok.End >= cur.End {
				next++
			}
		default:
			tags = append(tags, "I-"+label)
			if tok.End >= cur.End {
				next++
			}
		}
	}
	return tags
}

// Entities collects entities from an IOB tag sequence. An I- tag with no open
// entity, or with a different type, opens a new one.
func Entities(tags []string) []Entity {
	out := make([]Entity, 0)
	var cur *Entity
	for i, tag := range tags {
		if tag == outside || tag == "" {
			if cur != nil {
				cur.End = i
				out = append(out, *cur)
				cur = nil
			}
			continue
		}
		prefix, label, ok := strings.Cut(tag, "-")
		if !ok {
			prefix, label = "B", tag
		}
		if cur == nil {
			cur = &Entity{Label: label, Start: i}
			continue
		}
		if cur.Label != label || prefix == "B" {
			cur.End = i
			out = append(out, *cur)
			cur = &Entity{Label: label, Start: i}
		}
	}
	if cur != nil {
		cur.End = len(tags)
		out = append(out, *cur)
	}
	return out
}
