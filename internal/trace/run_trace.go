package trace

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type runTraceContextKey string

const traceContextKey runTraceContextKey = "trace"

// Stage names used by the extraction pipeline.
const (
	StageRead      = "read"
	StageSegment   = "segment"
	StageRecognize = "recognize"
	StageResolve   = "resolve"
	StageSerialize = "serialize"
	StageWrite     = "write"
)

type Span struct {
	Name  string
	Start time.Time
	End   time.Time
}

func (s Span) Duration() time.Duration { return durationBetween(s.Start, s.End) }

// RunTrace records stage timings for one invocation.
type RunTrace struct {
	ID    string
	Start time.Time

	mu    sync.Mutex
	spans []Span
	now   func() time.Time
}

func NewRunTrace() *RunTrace {
	return &RunTrace{ID: uuid.NewString(), Start: time.Now(), now: time.Now}
}

func WithContext(ctx context.Context, tr *RunTrace) context.Context {
	if tr == nil {
		return ctx
	}
	return context.WithValue(ctx, traceContextKey, tr)
}

func FromContext(ctx context.Context) (*RunTrace, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(traceContextKey).(*RunTrace)
	return tr, ok
}

// Begin opens a stage and returns the function that closes it. A nil trace
// records nothing.
func (t *RunTrace) Begin(name string) func() {
	if t == nil {
		return func() {}
	}
	t.mu.Lock()
	t.spans = append(t.spans, Span{Name: name, Start: t.now()})
	idx := len(t.spans) - 1
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			t.spans[idx].End = t.now()
			t.mu.Unlock()
		})
	}
}

// Stage starts a stage on the trace carried by ctx, if any.
func Stage(ctx context.Context, name string) func() {
	tr, _ := FromContext(ctx)
	return tr.Begin(name)
}

func (t *RunTrace) Spans() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Span, len(t.spans))
	copy(out, t.spans)
	return out
}

// StageMillis sums closed stage durations by name, in milliseconds.
func (t *RunTrace) StageMillis() map[string]float64 {
	out := map[string]float64{}
	for _, s := range t.Spans() {
		if s.End.IsZero() {
			continue
		}
		out[s.Name] += float64(s.Duration().Microseconds()) / 1000
	}
	return out
}

func (t *RunTrace) TotalAt(end time.Time) time.Duration {
	return durationBetween(t.Start, end)
}

// Summary renders "trace=<id> total=... read=... ..." in stage order.
func (t *RunTrace) Summary(end time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "trace=%s total=%v", t.ID, t.TotalAt(end))
	for _, s := range t.Spans() {
		fmt.Fprintf(&b, " %s=%v", s.Name, s.Duration())
	}
	return b.String()
}

func durationBetween(start, end time.Time) time.Duration {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start)
}
