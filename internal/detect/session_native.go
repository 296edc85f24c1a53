//go:build onnxruntime

package detect

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ortInit struct {
	sync.Mutex
	refs int
}

func acquireEnvironment() error {
	ortInit.Lock()
	defer ortInit.Unlock()
	if ortInit.refs == 0 {
		if lib := os.Getenv("DER_ONNXRUNTIME_LIB"); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}
	ortInit.refs++
	return nil
}

func releaseEnvironment() error {
	ortInit.Lock()
	defer ortInit.Unlock()
	ortInit.refs--
	if ortInit.refs > 0 {
		return nil
	}
	return ort.DestroyEnvironment()
}

type nativeONNXSession struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	inputNames []string
}

func newNativeONNXSession(modelPath string) (*nativeONNXSession, error) {
	if err := acquireEnvironment(); err != nil {
		return nil, err
	}
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		_ = releaseEnvironment()
		return nil, fmt.Errorf("inspect onnx model: %w", err)
	}
	if len(outputs) == 0 {
		_ = releaseEnvironment()
		return nil, fmt.Errorf("onnx model %s has no outputs", modelPath)
	}
	inNames := make([]string, len(inputs))
	for i, in := range inputs {
		inNames[i] = in.Name
	}
	sess, err := ort.NewDynamicAdvancedSession(modelPath, inNames, []string{outputs[0].Name}, nil)
	if err != nil {
		_ = releaseEnvironment()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return &nativeONNXSession{session: sess, inputNames: inNames}, nil
}

func (s *nativeONNXSession) Run(ctx context.Context, inputIDs, attentionMask, tokenTypeIDs []int64) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seqLen := int64(len(inputIDs))
	shape := ort.NewShape(1, seqLen)
	inputs := make([]ort.Value, len(s.inputNames))
	defer func() {
		for _, v := range inputs {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()
	for i, name := range s.inputNames {
		data := make([]int64, seqLen)
		switch {
		case strings.Contains(name, "input_ids"):
			copy(data, inputIDs)
		case strings.Contains(name, "attention_mask"):
			copy(data, attentionMask)
		case strings.Contains(name, "token_type_ids"):
			copy(data, tokenTypeIDs)
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("input tensor %s: %w", name, err)
		}
		inputs[i] = t
	}

	outputs := []ort.Value{nil}
	if err := s.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx output is %T, want float32 tensor", outputs[0])
	}
	dims := logits.GetShape()
	if len(dims) != 3 || dims[1] != seqLen {
		return nil, fmt.Errorf("unexpected onnx output shape %v", dims)
	}
	numLabels := int(dims[2])
	flat := logits.GetData()
	rows := make([][]float32, seqLen)
	for i := range rows {
		row := make([]float32, numLabels)
		copy(row, flat[i*numLabels:(i+1)*numLabels])
		rows[i] = row
	}
	return rows, nil
}

func (s *nativeONNXSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if relErr := releaseEnvironment(); err == nil {
		err = relErr
	}
	return err
}

func createONNXSession(modelPath, backend string) (nerSession, error) {
	switch resolveBackend(backend) {
	case backendNative:
		s, err := newNativeONNXSession(modelPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case backendPython:
		return newPythonONNXSession(modelPath), nil
	default:
		return nil, fmt.Errorf("unknown ONNX backend %q", backend)
	}
}
