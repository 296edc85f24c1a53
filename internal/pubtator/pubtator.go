// Package pubtator reads PubTator formatted corpora: blocks of title, abstract
// and tab separated mention annotations, one block per article.
package pubtator

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"der/internal/span"
)

// Annotation is one gold mention line. Offsets are character offsets into
// Document.Text.
type Annotation struct {
	Start   int
	End     int
	Mention string
	Type    string
	Concept string
}

type Document struct {
	ID          string
	Title       string
	Abstract    string
	Annotations []Annotation
}

// Text joins the trimmed title and abstract with one space. Annotation offsets
// refer to this string.
func (d Document) Text() string {
	return strings.TrimSpace(d.Title) + " " + strings.TrimSpace(d.Abstract)
}

// Gold returns the annotations as DISEASE mentions sorted by start offset.
func (d Document) Gold() []span.ResolvedSpan {
	out := make([]span.ResolvedSpan, 0, len(d.Annotations))
	for _, a := range d.Annotations {
		out = append(out, span.ResolvedSpan{
			Start: a.Start,
			End:   a.End,
			Text:  a.Mention,
			Label: span.LabelDisease,
			Score: 1,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

var headerRegexp = regexp.MustCompile(`^[^|\t\s]+\|[ta]\|`)

// Sniff reports whether data starts like a PubTator file.
func Sniff(data []byte) bool {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		return headerRegexp.MatchString(line)
	}
	return false
}

// ParseError points at the offending input line.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("pubtator line %d: %s", e.Line, e.Reason)
}

func ParseFile(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads every block of r. Blocks are separated by blank lines; within a
// block "ID|t|" and "ID|a|" lines carry title and abstract and lines with at
// least six tab separated fields carry annotations. Other lines are ignored.
func Parse(r io.Reader) ([]Document, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	docs := make([]Document, 0)
	var cur *Document
	lineNo := 0
	flush := func() {
		if cur != nil {
			docs = append(docs, *cur)
			cur = nil
		}
	}
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if parts := strings.SplitN(line, "|", 3); len(parts) == 3 && !strings.Contains(parts[0], "\t") {
			if cur == nil {
				cur = &Document{ID: parts[0]}
			} else if parts[0] != cur.ID {
				return nil, &ParseError{Line: lineNo, Reason: fmt.Sprintf("id %q inside block of %q", parts[0], cur.ID)}
			}
			switch parts[1] {
			case "t":
				cur.Title = parts[2]
			case "a":
				cur.Abstract = parts[2]
			}
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 6 {
			continue
		}
		if cur == nil {
			cur = &Document{ID: fields[0]}
		}
		ann, err := parseAnnotation(fields)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Reason: err.Error()}
		}
		cur.Annotations = append(cur.Annotations, ann)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return docs, nil
}

func parseAnnotation(fields []string) (Annotation, error) {
	start, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return Annotation{}, fmt.Errorf("bad start offset %q", fields[1])
	}
	end, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return Annotation{}, fmt.Errorf("bad end offset %q", fields[2])
	}
	if start < 0 || end <= start {
		return Annotation{}, fmt.Errorf("bad offsets [%d, %d)", start, end)
	}
	return Annotation{
		Start:   start,
		End:     end,
		Mention: fields[3],
		Type:    fields[4],
		Concept: strings.TrimSpace(fields[5]),
	}, nil
}
