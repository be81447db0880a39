package config

import (
	"fmt"
	"math"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/posecast/internal/protocol"
)

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	if cfg.Camera.Device == "" {
		return fmt.Errorf("camera.device is required")
	}
	if cfg.Camera.Width < 0 || cfg.Camera.Height < 0 {
		return fmt.Errorf("camera.width and camera.height must not be negative")
	}

	est := cfg.Estimator
	// Heatmap scores are raw logits; any finite cut-off is valid.
	if math.IsNaN(est.Threshold) || math.IsInf(est.Threshold, 0) {
		return fmt.Errorf("estimator.threshold must be finite, got %v", est.Threshold)
	}

	switch est.Backend {
	case BackendPipe:
		if err := validatePipe(est.Pipe); err != nil {
			return err
		}
	case BackendTFLite:
		if est.TFLite.Model == "" {
			return fmt.Errorf("estimator.tflite.model is required")
		}
		if est.TFLite.Threads < 0 {
			return fmt.Errorf("estimator.tflite.threads must not be negative")
		}
		if _, err := est.TFLite.Order(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("estimator.backend must be %q or %q, got %q", BackendPipe, BackendTFLite, est.Backend)
	}

	if cfg.Publish.MQTT.Broker != "" && cfg.Publish.MQTT.Topic == "" {
		return fmt.Errorf("publish.mqtt.topic is required when a broker is set")
	}

	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}
	return nil
}

func validatePipe(p PipeConfig) error {
	if p.Command == "" {
		return fmt.Errorf("estimator.pipe.command is required")
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("estimator.pipe geometry must be positive, got %dx%d", p.Width, p.Height)
	}
	if !slices.Contains(protocol.CodecNames(), p.Format) {
		return fmt.Errorf("estimator.pipe.format must be one of %v, got %q", protocol.CodecNames(), p.Format)
	}
	if p.FramePipe != "" && p.FramePipe == p.PointsPipe {
		return fmt.Errorf("estimator.pipe frame and points pipes must differ")
	}
	if p.MaxPayload < 0 {
		return fmt.Errorf("estimator.pipe.max_payload must not be negative")
	}
	if _, err := p.StartTimeoutDuration(); err != nil {
		return err
	}
	if _, err := p.ReadTimeoutDuration(); err != nil {
		return err
	}
	return nil
}
