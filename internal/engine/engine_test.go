package engine

import (
	"path/filepath"
	"testing"

	"github.com/andresmejia3/posecast/internal/logging"
)

func TestNew_MissingModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.tflite")

	e, err := New(Config{ModelPath: path, Threads: 1, Threshold: 0.3}, logging.Discard())
	if err == nil {
		e.Close()
		t.Fatal("Expected error for a missing model file")
	}
	if e != nil {
		t.Errorf("New() returned %v alongside error", e)
	}
}

func TestDescribe_MissingModel(t *testing.T) {
	inputs, outputs, err := Describe(filepath.Join(t.TempDir(), "missing.tflite"))
	if err == nil {
		t.Fatal("Expected error for a missing model file")
	}
	if inputs != nil || outputs != nil {
		t.Errorf("Describe() returned tensors alongside error: %v %v", inputs, outputs)
	}
}
