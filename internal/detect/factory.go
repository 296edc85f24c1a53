package detect

import (
	"fmt"
	"time"

	"der/internal/config"
)

// New builds the recognizer named in cfg.
func New(cfg config.Recognizer) (Recognizer, error) {
	switch cfg.Name {
	case "", config.RecognizerLexicon:
		return NewLexiconRecognizer(cfg.LexiconPath)
	case config.RecognizerONNX:
		return NewONNXRecognizer(onnxConfig(cfg)), nil
	case config.RecognizerHybrid:
		lex, err := NewLexiconRecognizer(cfg.LexiconPath)
		if err != nil {
			return nil, err
		}
		return &HybridRecognizer{
			Recognizers:     []Recognizer{NewONNXRecognizer(onnxConfig(cfg)), lex},
			Timeout:         time.Duration(cfg.TimeoutMS) * time.Millisecond,
			FallbackOnError: cfg.FallbackOnError,
		}, nil
	default:
		return nil, fmt.Errorf("unknown recognizer %q", cfg.Name)
	}
}

func onnxConfig(cfg config.Recognizer) ONNXConfig {
	return ONNXConfig{
		ModelDir:  cfg.ONNX.ModelDir,
		Backend:   cfg.ONNX.Backend,
		MaxSeqLen: cfg.ONNX.MaxSeqLen,
	}
}
