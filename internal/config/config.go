// Package config loads posecast's YAML configuration. Values in the file
// override Default; command-line flags override the file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andresmejia3/posecast/internal/types"
)

const (
	BackendPipe   = "pipe"
	BackendTFLite = "tflite"
)

// Config represents the complete posecast configuration
type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Display   DisplayConfig   `yaml:"display"`
	Record    RecordConfig    `yaml:"record"`
	Publish   PublishConfig   `yaml:"publish"`
	Log       LogConfig       `yaml:"log"`
}

// CameraConfig selects the capture device
type CameraConfig struct {
	Device string `yaml:"device"` // device index, stream URL or video file
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// EstimatorConfig selects and configures the pose backend
type EstimatorConfig struct {
	Backend   string       `yaml:"backend"` // pipe, tflite
	Threshold float64      `yaml:"threshold"`
	Pipe      PipeConfig   `yaml:"pipe"`
	TFLite    TFLiteConfig `yaml:"tflite"`
}

// PipeConfig describes the external estimator and its two FIFOs
type PipeConfig struct {
	Command      string   `yaml:"command"`
	Args         []string `yaml:"args"`
	Dir          string   `yaml:"dir"`
	FramePipe    string   `yaml:"frame_pipe"`
	PointsPipe   string   `yaml:"points_pipe"`
	Width        int      `yaml:"width"`  // frame geometry on the wire
	Height       int      `yaml:"height"` // frame geometry on the wire
	Format       string   `yaml:"format"` // f32, msgpack, cbor
	StartTimeout string   `yaml:"start_timeout"`
	ReadTimeout  string   `yaml:"read_timeout"` // empty waits forever
	MaxPayload   int      `yaml:"max_payload"`
}

// TFLiteConfig configures the in-process PoseNet engine
type TFLiteConfig struct {
	Model        string `yaml:"model"`
	Threads      int    `yaml:"threads"`
	ChannelOrder string `yaml:"channel_order"` // bgr, rgb
}

type DisplayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Window  string `yaml:"window"`
}

// RecordConfig enables the PostgreSQL keypoint recorder
type RecordConfig struct {
	Enabled     bool   `yaml:"enabled"`
	DatabaseURL string `yaml:"database_url"`
}

// PublishConfig enables live keypoint sinks. An empty address disables a sink.
type PublishConfig struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	ZMQ       ZMQConfig       `yaml:"zmq"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

type WebSocketConfig struct {
	Addr string `yaml:"addr"`
}

type ZMQConfig struct {
	Endpoint string `yaml:"endpoint"`
	Topic    string `yaml:"topic"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{Device: "0", Width: 640, Height: 480},
		Estimator: EstimatorConfig{
			Backend:   BackendPipe,
			Threshold: 0.3,
			Pipe: PipeConfig{
				Command:      "python3",
				Args:         []string{"-u", "python/estimator.py"},
				FramePipe:    "frame_pipe",
				PointsPipe:   "points_pipe",
				Width:        640,
				Height:       480,
				Format:       "f32",
				StartTimeout: "30s",
			},
			TFLite: TFLiteConfig{
				Model:        "models/posenet_mobilenet_v1_100_257x257_multi_kpt_stripped.tflite",
				Threads:      4,
				ChannelOrder: "bgr",
			},
		},
		Display: DisplayConfig{Enabled: true, Window: "posecast"},
		Publish: PublishConfig{
			MQTT: MQTTConfig{Topic: "posecast/poses", ClientID: "posecast"},
			ZMQ:  ZMQConfig{Topic: "pose"},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML configuration file over Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// StartTimeoutDuration parses pipe.start_timeout; empty means the worker default.
func (p PipeConfig) StartTimeoutDuration() (time.Duration, error) {
	return parseDuration("estimator.pipe.start_timeout", p.StartTimeout)
}

// ReadTimeoutDuration parses pipe.read_timeout; empty means no timeout.
func (p PipeConfig) ReadTimeoutDuration() (time.Duration, error) {
	return parseDuration("estimator.pipe.read_timeout", p.ReadTimeout)
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

// Order parses tflite.channel_order.
func (t TFLiteConfig) Order() (types.ChannelOrder, error) {
	switch strings.ToLower(t.ChannelOrder) {
	case "", "bgr":
		return types.BGR, nil
	case "rgb":
		return types.RGB, nil
	}
	return types.BGR, fmt.Errorf("estimator.tflite.channel_order must be bgr or rgb, got %q", t.ChannelOrder)
}
