// Package pipeline drives one extraction run: read the input, segment it, ask
// the recognizer for candidates once per document, resolve them and write the
// result file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"der/internal/detect"
	"der/internal/eval"
	"der/internal/history"
	"der/internal/logger"
	"der/internal/output"
	"der/internal/pubtator"
	"der/internal/segment"
	"der/internal/span"
	"der/internal/trace"
)

type Format string

const (
	FormatAuto     Format = "auto"
	FormatText     Format = "text"
	FormatPubTator Format = "pubtator"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatText:
		return FormatText, nil
	case FormatPubTator:
		return FormatPubTator, nil
	default:
		return "", fmt.Errorf("unknown input format %q", s)
	}
}

type Options struct {
	InputPath  string
	OutputPath string
	Format     Format
	Resolver   span.Resolver
	Indent     bool
	// Command is recorded in the run history.
	Command string
}

// Result describes a successful run. Exactly one of Record and Batch is set.
type Result struct {
	RunID      string
	InputPath  string
	OutputPath string
	Format     Format
	Record     *output.Record
	Batch      *output.BatchRecord
	// Gold holds the parsed PubTator documents for evaluation.
	Gold     []pubtator.Document
	Entities int
	ByLabel  map[string]int
	Trace    *trace.RunTrace
}

// ErrNoGold is returned by Evaluate for plain text input.
var ErrNoGold = errors.New("evaluation needs PubTator input with gold annotations")

// Evaluate scores the run's predictions against the PubTator gold mentions.
func (r *Result) Evaluate() (eval.Report, error) {
	if r.Batch == nil || len(r.Gold) == 0 {
		return eval.Report{}, ErrNoGold
	}
	return eval.EvaluateCorpus(r.Gold, *r.Batch)
}

// Runner owns a recognizer for the lifetime of one or more runs.
type Runner struct {
	Recognizer detect.Recognizer
	History    history.Recorder

	now func() time.Time
}

func NewRunner(rec detect.Recognizer, hist history.Recorder) *Runner {
	if hist == nil {
		hist = history.Nop{}
	}
	return &Runner{Recognizer: rec, History: hist, now: time.Now}
}

// Close releases the recognizer's model, if it holds one.
func (r *Runner) Close() error {
	if l, ok := r.Recognizer.(detect.Loader); ok {
		return l.Close()
	}
	return nil
}

// Run performs one extraction. On failure nothing is written to
// opts.OutputPath and the error is a *StageError. The input path is made
// absolute before it is reported anywhere.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	tr := trace.NewRunTrace()
	ctx = trace.WithContext(ctx, tr)
	logger.Section("Extraction " + tr.ID)

	if opts.InputPath != "" {
		if abs, err := filepath.Abs(opts.InputPath); err == nil {
			opts.InputPath = abs
		}
	}
	res, err := r.run(ctx, tr.ID, opts)
	r.record(tr, opts, res, err)
	if err != nil {
		return nil, err
	}
	logger.Debug("%s", tr.Summary(r.clock()))
	return res, nil
}

func (r *Runner) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

func (r *Runner) run(ctx context.Context, runID string, opts Options) (*Result, error) {
	path := opts.InputPath
	fail := func(stage string, err error) error {
		return &StageError{Stage: stage, Path: path, Err: err}
	}

	end := trace.Stage(ctx, trace.StageRead)
	whole, err := segment.LoadDocument(path)
	end()
	if err != nil {
		var segErr *segment.SegmentationError
		if errors.As(err, &segErr) {
			return nil, fail(trace.StageSegment, err)
		}
		return nil, fail(trace.StageRead, err)
	}
	text := whole.Text()
	logger.Info("read %d characters from %s", whole.Len(), path)

	format := opts.Format
	if format == FormatAuto || format == "" {
		format = FormatText
		if pubtator.Sniff([]byte(text)) {
			format = FormatPubTator
		}
		logger.Debug("detected %s input", format)
	}

	if l, ok := r.Recognizer.(detect.Loader); ok {
		end := trace.Stage(ctx, trace.StageRecognize)
		err := l.Load(ctx)
		end()
		if err != nil {
			return nil, fail(trace.StageRecognize, err)
		}
	}

	res := &Result{
		RunID:      runID,
		InputPath:  path,
		OutputPath: opts.OutputPath,
		Format:     format,
		ByLabel:    map[string]int{},
	}
	res.Trace, _ = trace.FromContext(ctx)
	enc := output.Encoder{Indent: opts.Indent}
	var data []byte

	switch format {
	case FormatPubTator:
		docs, err := pubtator.Parse(strings.NewReader(text))
		if err != nil {
			return nil, fail(trace.StageRead, err)
		}
		batch := &output.BatchRecord{InputPath: path, Documents: make([]output.DocumentRecord, 0, len(docs))}
		for _, d := range docs {
			docText := d.Text()
			doc, err := segment.NewDocument(path, docText)
			if err != nil {
				return nil, &StageError{Stage: trace.StageSegment, Path: path, Document: d.ID, Err: err}
			}
			entities, err := r.extract(ctx, path, doc, opts.Resolver)
			if err != nil {
				var se *StageError
				if errors.As(err, &se) {
					se.Document = d.ID
				}
				return nil, err
			}
			batch.Documents = append(batch.Documents, output.DocumentRecord{ID: d.ID, Text: docText, Entities: entities})
			res.count(entities)
		}
		logger.Info("processed %d PubTator documents", len(docs))
		end = trace.Stage(ctx, trace.StageSerialize)
		data, err = enc.MarshalBatch(*batch)
		end()
		if err != nil {
			return nil, fail(trace.StageSerialize, err)
		}
		res.Batch, res.Gold = batch, docs
	default:
		entities, err := r.extract(ctx, path, whole, opts.Resolver)
		if err != nil {
			return nil, err
		}
		res.count(entities)
		rec := &output.Record{InputPath: path, Entities: entities}
		end = trace.Stage(ctx, trace.StageSerialize)
		data, err = enc.Marshal(*rec)
		end()
		if err != nil {
			return nil, fail(trace.StageSerialize, err)
		}
		res.Record = rec
	}

	end = trace.Stage(ctx, trace.StageWrite)
	err = output.WriteFileAtomic(opts.OutputPath, data, 0o644)
	end()
	if err != nil {
		return nil, fail(trace.StageWrite, err)
	}
	logger.Info("wrote %d entities to %s", res.Entities, opts.OutputPath)
	return res, nil
}

// extract runs segment, recognize and resolve for one document.
func (r *Runner) extract(ctx context.Context, path string, doc *segment.Document, resolver span.Resolver) ([]span.ResolvedSpan, error) {
	fail := func(stage string, err error) error {
		return &StageError{Stage: stage, Path: path, Err: err}
	}

	end := trace.Stage(ctx, trace.StageSegment)
	table := segment.Segmenter{}.Table(doc)
	end()
	logger.Debug("segmented %d characters into %d tokens", doc.Len(), table.Len())

	end = trace.Stage(ctx, trace.StageRecognize)
	raws, err := r.Recognizer.Recognize(ctx, doc.Text())
	end()
	if err != nil {
		return nil, fail(trace.StageRecognize, err)
	}
	logger.Debug("%s proposed %d candidates", r.Recognizer.Name(), len(raws))

	end = trace.Stage(ctx, trace.StageResolve)
	spans, err := resolver.Resolve(doc, table, raws)
	end()
	if err != nil {
		return nil, fail(trace.StageResolve, err)
	}

	if err := output.Validate(spans, doc); err != nil {
		return nil, fail(trace.StageSerialize, err)
	}
	logger.Debug("resolved %d entities", len(spans))
	return spans, nil
}

func (res *Result) count(entities []span.ResolvedSpan) {
	res.Entities += len(entities)
	for _, e := range entities {
		res.ByLabel[e.Label]++
	}
}

func (r *Runner) record(tr *trace.RunTrace, opts Options, res *Result, runErr error) {
	if r.History == nil {
		return
	}
	entry := history.Entry{
		RunID:      tr.ID,
		Command:    opts.Command,
		InputPath:  opts.InputPath,
		OutputPath: opts.OutputPath,
		Format:     string(opts.Format),
		Strategy:   string(opts.Resolver.Strategy),
		MinScore:   opts.Resolver.MinScore,
		Status:     history.StatusOK,
		StageMs:    tr.StageMillis(),
		TotalMs:    float64(tr.TotalAt(r.clock()).Microseconds()) / 1000,
	}
	if r.Recognizer != nil {
		entry.Recognizer = r.Recognizer.Name()
	}
	if res != nil {
		entry.Format = string(res.Format)
		entry.Entities = res.Entities
		entry.ByLabel = res.ByLabel
		entry.Documents = 1
		if res.Batch != nil {
			entry.Documents = len(res.Batch.Documents)
		}
	}
	if runErr != nil {
		entry.Status = history.StatusError
		entry.Error = runErr.Error()
		entry.ErrorStage = stageOf(runErr)
		entry.ExitCode = ExitCode(runErr)
	}
	if err := r.History.Record(entry); err != nil {
		logger.Warn("could not record run history: %v", err)
	}
}

