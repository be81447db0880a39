package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/posecast/internal/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "posecast.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("Default config is invalid: %v", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
camera:
  device: rtsp://cam.local/stream
estimator:
  backend: tflite
  threshold: 0.5
  tflite:
    model: /models/posenet.tflite
    channel_order: rgb
publish:
  mqtt:
    broker: tcp://localhost:1883
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Camera.Device != "rtsp://cam.local/stream" {
		t.Errorf("camera.device = %q", cfg.Camera.Device)
	}
	if cfg.Camera.Width != 640 {
		t.Errorf("Unset camera.width should keep its default, got %d", cfg.Camera.Width)
	}
	if cfg.Estimator.Backend != BackendTFLite || cfg.Estimator.Threshold != 0.5 {
		t.Errorf("estimator = %+v", cfg.Estimator)
	}
	if cfg.Estimator.TFLite.Threads != 4 {
		t.Errorf("Unset tflite.threads should keep its default, got %d", cfg.Estimator.TFLite.Threads)
	}
	if order, _ := cfg.Estimator.TFLite.Order(); order != types.RGB {
		t.Errorf("Expected RGB channel order, got %v", order)
	}
	if cfg.Publish.MQTT.Topic != "posecast/poses" {
		t.Errorf("Unset mqtt.topic should keep its default, got %q", cfg.Publish.MQTT.Topic)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for a missing file")
	}
	if _, err := Load(writeConfig(t, "camera: [not, a, map]")); err == nil {
		t.Error("Expected error for malformed YAML")
	}
	_, err := Load(writeConfig(t, "estimator:\n  threshold: .nan\n"))
	if err == nil || !strings.Contains(err.Error(), "threshold") {
		t.Errorf("Expected threshold validation error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"Empty device", func(c *Config) { c.Camera.Device = "" }, "camera.device"},
		{"NaN threshold", func(c *Config) { c.Estimator.Threshold = math.NaN() }, "threshold"},
		{"Infinite threshold", func(c *Config) { c.Estimator.Threshold = math.Inf(1) }, "threshold"},
		{"Unknown backend", func(c *Config) { c.Estimator.Backend = "onnx" }, "backend"},
		{"Unknown codec", func(c *Config) { c.Estimator.Pipe.Format = "pickle" }, "format"},
		{"Zero geometry", func(c *Config) { c.Estimator.Pipe.Width = 0 }, "geometry"},
		{"Same pipes", func(c *Config) { c.Estimator.Pipe.PointsPipe = c.Estimator.Pipe.FramePipe }, "differ"},
		{"Bad duration", func(c *Config) { c.Estimator.Pipe.ReadTimeout = "soon" }, "read_timeout"},
		{"Negative duration", func(c *Config) { c.Estimator.Pipe.StartTimeout = "-1s" }, "start_timeout"},
		{"Missing model", func(c *Config) {
			c.Estimator.Backend = BackendTFLite
			c.Estimator.TFLite.Model = ""
		}, "model"},
		{"Bad channel order", func(c *Config) {
			c.Estimator.Backend = BackendTFLite
			c.Estimator.TFLite.ChannelOrder = "yuv"
		}, "channel_order"},
		{"MQTT without topic", func(c *Config) {
			c.Publish.MQTT.Broker = "tcp://localhost:1883"
			c.Publish.MQTT.Topic = ""
		}, "topic"},
		{"Bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"Bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_RawScoreThresholds(t *testing.T) {
	for _, th := range []float64{-0.5, 0, 1, 1.5} {
		cfg := Default()
		cfg.Estimator.Threshold = th
		if err := Validate(cfg); err != nil {
			t.Errorf("threshold %v: unexpected error %v", th, err)
		}
	}
}

func TestPipeTimeouts(t *testing.T) {
	p := Default().Estimator.Pipe
	p.ReadTimeout = "250ms"

	start, err := p.StartTimeoutDuration()
	if err != nil || start != 30*time.Second {
		t.Errorf("StartTimeoutDuration() = %v, %v", start, err)
	}
	read, err := p.ReadTimeoutDuration()
	if err != nil || read != 250*time.Millisecond {
		t.Errorf("ReadTimeoutDuration() = %v, %v", read, err)
	}

	p.ReadTimeout = ""
	if read, _ := p.ReadTimeoutDuration(); read != 0 {
		t.Errorf("Empty read_timeout should mean no timeout, got %v", read)
	}
}
