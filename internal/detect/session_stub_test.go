//go:build !onnxruntime

package detect

import "testing"

func TestCreateONNXSession_NativeRequestedWithoutTag(t *testing.T) {
	t.Setenv("DER_ONNX_BACKEND", "native")
	if _, err := createONNXSession("/tmp/model.onnx", ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestCreateONNXSession_ConfiguredNativeWithoutTag(t *testing.T) {
	t.Setenv("DER_ONNX_BACKEND", "")
	if _, err := createONNXSession("/tmp/model.onnx", "native"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCreateONNXSession_DefaultsToPython(t *testing.T) {
	t.Setenv("DER_ONNX_BACKEND", "")
	s, err := createONNXSession("/tmp/model.onnx", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*pythonONNXSession); !ok {
		t.Fatalf("expected python session, got %T", s)
	}
}
