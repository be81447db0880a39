package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/posecast/internal/protocol"
	"github.com/andresmejia3/posecast/internal/types"
)

var echoArgs struct {
	framePipe  string
	pointsPipe string
	width      int
	height     int
	format     string
}

// echoCmd is a built-in pipe estimator for smoke tests. It answers every
// frame with a single point on its brightest pixel, so the whole pipe path
// can run without MediaPipe installed:
//
//	posecast run --estimator-cmd "posecast echo-estimator"
var echoCmd = &cobra.Command{
	Use:    "echo-estimator",
	Short:  "Reference pipe estimator that marks the brightest pixel",
	Hidden: true,
	// Launched by the worker with protocol flags only; skip config and DB setup.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		codec, err := protocol.CodecByName(echoArgs.format)
		if err != nil {
			return err
		}
		geo := protocol.Geometry{Width: echoArgs.width, Height: echoArgs.height}
		if geo.Width <= 0 || geo.Height <= 0 {
			return fmt.Errorf("invalid geometry %dx%d", geo.Width, geo.Height)
		}

		// Frames first, matching the order the worker opens its ends.
		frames, err := os.Open(echoArgs.framePipe)
		if err != nil {
			return err
		}
		defer frames.Close()
		points, err := os.OpenFile(echoArgs.pointsPipe, os.O_WRONLY, 0)
		if err != nil {
			return err
		}
		defer points.Close()

		n, err := protocol.Serve(frames, points, geo, codec, func(f types.Frame) []protocol.Point {
			return []protocol.Point{brightestPoint(f)}
		})
		fmt.Fprintf(os.Stderr, "echo-estimator answered %d frames\n", n)
		return err
	},
}

func init() {
	f := echoCmd.Flags()
	f.StringVar(&echoArgs.framePipe, "frame-pipe", "", "Frame FIFO to read")
	f.StringVar(&echoArgs.pointsPipe, "points-pipe", "", "Points FIFO to write")
	f.IntVar(&echoArgs.width, "width", 0, "Frame width")
	f.IntVar(&echoArgs.height, "height", 0, "Frame height")
	f.StringVar(&echoArgs.format, "format", protocol.DefaultCodec, "Points payload format")
	echoCmd.MarkFlagRequired("frame-pipe")
	echoCmd.MarkFlagRequired("points-pipe")
	rootCmd.AddCommand(echoCmd)
}

// brightestPoint returns the normalized centre of the pixel with the largest
// channel sum. Ties keep the first pixel in row-major order.
func brightestPoint(f types.Frame) protocol.Point {
	best, at := -1, 0
	for i := 0; i+types.Channels <= len(f.Data); i += types.Channels {
		sum := int(f.Data[i]) + int(f.Data[i+1]) + int(f.Data[i+2])
		if sum > best {
			best, at = sum, i/types.Channels
		}
	}
	x, y := at%f.Width, at/f.Width
	return protocol.Point{
		X: (float32(x) + 0.5) / float32(f.Width),
		Y: (float32(y) + 0.5) / float32(f.Height),
	}
}
