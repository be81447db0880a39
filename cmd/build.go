package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/posecast/internal/config"
	"github.com/andresmejia3/posecast/internal/engine"
	"github.com/andresmejia3/posecast/internal/pipeline"
	"github.com/andresmejia3/posecast/internal/publish"
	"github.com/andresmejia3/posecast/internal/store"
	"github.com/andresmejia3/posecast/internal/utils"
	"github.com/andresmejia3/posecast/internal/worker"
)

// newEstimator starts the configured backend. For the pipe backend the
// returned SafeCommand carries the estimator's stderr for error reports.
func newEstimator(ctx context.Context, c *config.Config) (pipeline.Estimator, *utils.SafeCommand, error) {
	est := c.Estimator
	switch est.Backend {
	case config.BackendTFLite:
		order, err := est.TFLite.Order()
		if err != nil {
			return nil, nil, err
		}
		fmt.Fprintf(os.Stderr, "🧠 Loading model %s...\n", est.TFLite.Model)
		e, err := engine.New(engine.Config{
			ModelPath: est.TFLite.Model,
			Threads:   est.TFLite.Threads,
			Threshold: float32(est.Threshold),
			Order:     order,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return e, nil, nil

	case config.BackendPipe:
		start, err := est.Pipe.StartTimeoutDuration()
		if err != nil {
			return nil, nil, err
		}
		read, err := est.Pipe.ReadTimeoutDuration()
		if err != nil {
			return nil, nil, err
		}
		fmt.Fprintf(os.Stderr, "🚀 Starting estimator: %s\n", est.Pipe.Command)
		w, err := worker.Start(ctx, worker.Config{
			Command:      est.Pipe.Command,
			Args:         est.Pipe.Args,
			Dir:          est.Pipe.Dir,
			FramePipe:    est.Pipe.FramePipe,
			PointsPipe:   est.Pipe.PointsPipe,
			Width:        est.Pipe.Width,
			Height:       est.Pipe.Height,
			Format:       est.Pipe.Format,
			StartTimeout: start,
			ReadTimeout:  read,
			MaxPayload:   est.Pipe.MaxPayload,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return w, w.Cmd, nil
	}
	return nil, nil, fmt.Errorf("unknown estimator backend %q", est.Backend)
}

// newSinks builds every enabled sink. On failure the sinks already built are
// closed.
func newSinks(ctx context.Context, c *config.Config, meta store.SessionMeta) (sinks []pipeline.Sink, err error) {
	defer func() {
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			sinks = nil
		}
	}()

	if c.Record.Enabled {
		if DB == nil {
			return sinks, fmt.Errorf("recording requested but no database is open")
		}
		rec, err := store.NewRecorder(ctx, DB, meta)
		if err != nil {
			return sinks, fmt.Errorf("failed to register session: %w", err)
		}
		fmt.Fprintf(os.Stderr, "🗄️  Recording session %s\n", meta.ID)
		sinks = append(sinks, rec)
	}

	pub := c.Publish
	if pub.MQTT.Broker != "" {
		m, err := publish.NewMQTT(pub.MQTT.Broker, pub.MQTT.Topic, pub.MQTT.ClientID, log)
		if err != nil {
			return sinks, err
		}
		fmt.Fprintf(os.Stderr, "📡 Publishing to MQTT %s (%s)\n", pub.MQTT.Broker, pub.MQTT.Topic)
		sinks = append(sinks, m)
	}
	if pub.WebSocket.Addr != "" {
		ws, err := publish.NewWebSocket(pub.WebSocket.Addr, log)
		if err != nil {
			return sinks, err
		}
		fmt.Fprintf(os.Stderr, "🌐 Serving WebSocket on ws://%s/ws\n", ws.Addr())
		sinks = append(sinks, ws)
	}
	if pub.ZMQ.Endpoint != "" {
		z, err := publish.NewZMQ(pub.ZMQ.Endpoint, pub.ZMQ.Topic)
		if err != nil {
			return sinks, err
		}
		fmt.Fprintf(os.Stderr, "📡 Publishing to ZeroMQ %s (%s)\n", pub.ZMQ.Endpoint, pub.ZMQ.Topic)
		sinks = append(sinks, z)
	}
	return sinks, nil
}
