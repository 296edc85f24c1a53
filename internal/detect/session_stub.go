//go:build !onnxruntime

package detect

import "fmt"

func createONNXSession(modelPath, backend string) (nerSession, error) {
	switch resolveBackend(backend) {
	case backendNative:
		return nil, fmt.Errorf("native ONNX backend requires build tag 'onnxruntime'")
	case backendPython:
		return newPythonONNXSession(modelPath), nil
	default:
		return nil, fmt.Errorf("unknown ONNX backend %q", backend)
	}
}
