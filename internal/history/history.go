// Package history keeps an append-only JSONL log of extraction runs.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

type Entry struct {
	RunID      string             `json:"run_id"`
	Timestamp  string             `json:"timestamp"`
	Command    string             `json:"command,omitempty"`
	InputPath  string             `json:"input_path"`
	OutputPath string             `json:"output_path,omitempty"`
	Format     string             `json:"format,omitempty"`
	Recognizer string             `json:"recognizer,omitempty"`
	Strategy   string             `json:"strategy,omitempty"`
	MinScore   float64            `json:"min_score"`
	Documents  int                `json:"documents"`
	Entities   int                `json:"entities"`
	ByLabel    map[string]int     `json:"by_label,omitempty"`
	Status     string             `json:"status"`
	ErrorStage string             `json:"error_stage,omitempty"`
	Error      string             `json:"error,omitempty"`
	ExitCode   int                `json:"exit_code"`
	StageMs    map[string]float64 `json:"stage_ms,omitempty"`
	TotalMs    float64            `json:"total_ms"`
}

type Recorder interface {
	Record(entry Entry) error
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(Entry) error { return nil }

type JSONLLogger struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewJSONLLogger(path string) (*JSONLLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create history log: %w", err)
	}
	_ = f.Close()
	return &JSONLLogger{path: path, now: time.Now}, nil
}

func (l *JSONLLogger) Path() string { return l.path }

// Record appends entry, stamping the timestamp when it is empty.
func (l *JSONLLogger) Record(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = l.now().UTC().Format(time.RFC3339Nano)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history log: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(entry); err != nil {
		return fmt.Errorf("write history log: %w", err)
	}
	return nil
}
