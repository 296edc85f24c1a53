package detect

import (
	"context"
	"os"
	"strings"
)

// nerSession runs one token classification forward pass and returns the
// logits of every input position.
type nerSession interface {
	Run(ctx context.Context, inputIDs, attentionMask, tokenTypeIDs []int64) ([][]float32, error)
	Close() error
}

const (
	backendPython = "python"
	backendNative = "native"
)

// resolveBackend lets DER_ONNX_BACKEND override the configured backend.
func resolveBackend(configured string) string {
	if env := strings.ToLower(strings.TrimSpace(os.Getenv("DER_ONNX_BACKEND"))); env != "" {
		return env
	}
	if configured == "" {
		return backendPython
	}
	return strings.ToLower(configured)
}
