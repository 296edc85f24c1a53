package detect

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"der/internal/span"
	"der/internal/trace"
)

// HybridRecognizer runs several recognizers in order and concatenates their
// candidates. Overlaps are left for the resolver.
type HybridRecognizer struct {
	Recognizers []Recognizer
	// Timeout bounds each member call when positive.
	Timeout time.Duration
	// FallbackOnError skips a failing member instead of failing the call.
	// The call still fails when every member fails.
	FallbackOnError bool
}

func (h *HybridRecognizer) Name() string {
	names := make([]string, len(h.Recognizers))
	for i, r := range h.Recognizers {
		names[i] = r.Name()
	}
	return "hybrid(" + strings.Join(names, "+") + ")"
}

func (h *HybridRecognizer) Recognize(ctx context.Context, text string) ([]span.RawSpan, error) {
	all := make([]span.RawSpan, 0)
	var errs []error
	for _, r := range h.Recognizers {
		spans, err := h.run(ctx, r, text)
		if err == nil {
			all = append(all, spans...)
			continue
		}
		if !h.FallbackOnError || ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", r.Name(), err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			log.Printf("[der] %s: timeout after %s, continuing without it", r.Name(), h.Timeout)
		} else if !errors.Is(err, ErrModelUnavailable) {
			// load failures were already logged once
			log.Printf("[der] %s: %v, continuing without it", r.Name(), err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
	}
	if len(errs) > 0 && len(errs) == len(h.Recognizers) {
		return nil, errors.Join(errs...)
	}
	return all, nil
}

// run times each member under "recognize.<name>" on the trace carried by ctx.
func (h *HybridRecognizer) run(ctx context.Context, r Recognizer, text string) ([]span.RawSpan, error) {
	defer trace.Stage(ctx, trace.StageRecognize+"."+r.Name())()
	if h.Timeout <= 0 {
		return r.Recognize(ctx, text)
	}
	rctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()
	return r.Recognize(rctx, text)
}

func (h *HybridRecognizer) Load(ctx context.Context) error {
	for _, r := range h.Recognizers {
		l, ok := r.(Loader)
		if !ok {
			continue
		}
		if err := l.Load(ctx); err != nil && !h.FallbackOnError {
			return fmt.Errorf("%s: %w", r.Name(), err)
		}
	}
	return nil
}

func (h *HybridRecognizer) Close() error {
	var errs []error
	for _, r := range h.Recognizers {
		if l, ok := r.(Loader); ok {
			if err := l.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
