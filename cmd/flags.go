package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/andresmejia3/posecast/internal/config"
)

// Options holds the flags shared by run, estimate and annotate. Only flags
// set on the command line override the configuration.
type Options struct {
	Device       string
	Backend      string
	Threshold    float64
	Model        string
	Threads      int
	ChannelOrder string
	EstimatorCmd string
	Format       string
	PipeWidth    int
	PipeHeight   int
	ReadTimeout  string
	NoWindow     bool
	Record       bool
	MQTT         string
	WebSocket    string
	ZMQ          string
}

var opts Options

func addEstimatorFlags(fs *pflag.FlagSet) {
	d := config.Default().Estimator
	fs.StringVarP(&opts.Backend, "backend", "b", d.Backend, "Pose backend: pipe, tflite")
	fs.Float64VarP(&opts.Threshold, "threshold", "t", d.Threshold, "Keypoint confidence threshold (tflite)")
	fs.StringVarP(&opts.Model, "model", "m", d.TFLite.Model, "PoseNet TFLite model (tflite)")
	fs.IntVar(&opts.Threads, "threads", d.TFLite.Threads, "Interpreter threads (tflite)")
	fs.StringVar(&opts.ChannelOrder, "channel-order", d.TFLite.ChannelOrder, "Model input channel order: bgr, rgb (tflite)")
	fs.StringVar(&opts.EstimatorCmd, "estimator-cmd", strings.Join(append([]string{d.Pipe.Command}, d.Pipe.Args...), " "), "External estimator command line (pipe)")
	fs.StringVarP(&opts.Format, "format", "f", d.Pipe.Format, "Points payload format: f32, msgpack, cbor (pipe)")
	fs.IntVar(&opts.PipeWidth, "pipe-width", d.Pipe.Width, "Frame width sent to the estimator (pipe)")
	fs.IntVar(&opts.PipeHeight, "pipe-height", d.Pipe.Height, "Frame height sent to the estimator (pipe)")
	fs.StringVar(&opts.ReadTimeout, "read-timeout", d.Pipe.ReadTimeout, "Max wait for one points message, e.g. 5s (pipe, default: none)")
}

func addSinkFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&opts.Record, "record", false, "Record keypoints to PostgreSQL")
	fs.StringVar(&opts.MQTT, "mqtt", "", "Publish keypoints to this MQTT broker, e.g. tcp://localhost:1883")
	fs.StringVar(&opts.WebSocket, "ws", "", "Serve keypoints over WebSocket on this address, e.g. :8080")
	fs.StringVar(&opts.ZMQ, "zmq", "", "Publish keypoints on a ZeroMQ PUB endpoint, e.g. tcp://*:5556")
}

// applyFlags copies every explicitly set flag into c.
func applyFlags(cmd *cobra.Command, c *config.Config) error {
	var err error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "device":
			c.Camera.Device = opts.Device
		case "backend":
			c.Estimator.Backend = opts.Backend
		case "threshold":
			c.Estimator.Threshold = opts.Threshold
		case "model":
			c.Estimator.TFLite.Model = opts.Model
		case "threads":
			c.Estimator.TFLite.Threads = opts.Threads
		case "channel-order":
			c.Estimator.TFLite.ChannelOrder = opts.ChannelOrder
		case "estimator-cmd":
			fields := strings.Fields(opts.EstimatorCmd)
			if len(fields) == 0 {
				err = fmt.Errorf("--estimator-cmd must not be empty")
				return
			}
			c.Estimator.Pipe.Command = fields[0]
			c.Estimator.Pipe.Args = fields[1:]
		case "format":
			c.Estimator.Pipe.Format = opts.Format
		case "pipe-width":
			c.Estimator.Pipe.Width = opts.PipeWidth
		case "pipe-height":
			c.Estimator.Pipe.Height = opts.PipeHeight
		case "read-timeout":
			c.Estimator.Pipe.ReadTimeout = opts.ReadTimeout
		case "no-window":
			c.Display.Enabled = !opts.NoWindow
		case "record":
			c.Record.Enabled = opts.Record
		case "mqtt":
			c.Publish.MQTT.Broker = opts.MQTT
		case "ws":
			c.Publish.WebSocket.Addr = opts.WebSocket
		case "zmq":
			c.Publish.ZMQ.Endpoint = opts.ZMQ
		}
	})
	return err
}
