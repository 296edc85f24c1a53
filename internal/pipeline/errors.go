package pipeline

import (
	"errors"
	"fmt"

	"der/internal/output"
	"der/internal/segment"
	"der/internal/span"
	"der/internal/trace"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitOther         = 1
	ExitRead          = 2
	ExitSegmentation  = 3
	ExitOffsetMapping = 4
	ExitSerialization = 5
	ExitRecognizer    = 6
)

// StageError names the pipeline stage and input that failed.
type StageError struct {
	Stage string
	Path  string
	// Document is the PubTator id of the failing document, if any.
	Document string
	Err      error
}

func (e *StageError) Error() string {
	if e.Document != "" {
		return fmt.Sprintf("%s %s (document %s): %v", e.Stage, e.Path, e.Document, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch {
	case errors.Is(err, segment.ErrSegmentation):
		return ExitSegmentation
	case errors.Is(err, span.ErrOffsetMapping):
		return ExitOffsetMapping
	case errors.Is(err, output.ErrSerialization):
		return ExitSerialization
	}
	var se *StageError
	if errors.As(err, &se) {
		switch se.Stage {
		case trace.StageRead:
			return ExitRead
		case trace.StageRecognize:
			return ExitRecognizer
		}
	}
	return ExitOther
}

func stageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
