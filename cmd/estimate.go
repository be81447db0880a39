package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/posecast/internal/camera"
	"github.com/andresmejia3/posecast/internal/config"
	"github.com/andresmejia3/posecast/internal/pipeline"
	"github.com/andresmejia3/posecast/internal/render"
	"github.com/andresmejia3/posecast/internal/skeleton"
	"github.com/andresmejia3/posecast/internal/types"
	"github.com/andresmejia3/posecast/internal/utils"
)

var estimateOutput string

var estimateCmd = &cobra.Command{
	Use:   "estimate <image_path>",
	Short: "Estimate the pose in a single still image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runEstimate(cmd.Context(), args[0], cfg)
	},
}

func init() {
	estimateCmd.Flags().StringVarP(&estimateOutput, "output", "o", "", "Write the annotated image here")
	addEstimatorFlags(estimateCmd.Flags())
	rootCmd.AddCommand(estimateCmd)
}

// stillSource yields one frame, then ends the stream.
type stillSource struct {
	frame types.Frame
	done  bool
}

func (s *stillSource) Read() (types.Frame, error) {
	if s.done {
		return types.Frame{}, types.ErrEndOfStream
	}
	s.done = true
	return s.frame, nil
}

func (s *stillSource) Close() error { return nil }

func runEstimate(ctx context.Context, imagePath string, c *config.Config) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}

	frame, err := camera.ReadImage(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	var display pipeline.Display
	if estimateOutput != "" {
		display = render.NewImageFile(estimateOutput)
	}

	// A still image is never recorded or published.
	still := *c
	still.Record.Enabled = false
	still.Publish = config.PublishConfig{}

	session, estCmd, err := newSession(ctx, &still, &stillSource{frame: frame}, display, imagePath)
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Fprintln(os.Stderr, "🔍 Estimating pose...")
	cycle, err := session.Step(ctx)
	if err != nil {
		utils.ShowError("Pose estimation failed", err, estCmd)
		return err
	}

	printKeypoints(os.Stdout, cycle.Event)
	if estimateOutput != "" {
		fmt.Fprintf(os.Stderr, "🖼️  Annotated image written to %s\n", estimateOutput)
	}
	return nil
}

func printKeypoints(out io.Writer, event types.PoseEvent) {
	if len(event.Keypoints) == 0 {
		fmt.Fprintln(out, "❌ No keypoints detected in the provided image.")
		return
	}

	scheme, _ := skeleton.Lookup(event.Scheme)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tX\tY\tZ\tSCORE")
	fmt.Fprintln(w, "--\t----\t-\t-\t-\t-----")
	for _, kp := range event.Keypoints {
		name := fmt.Sprintf("#%d", kp.ID)
		if scheme != nil {
			name = scheme.Label(kp.ID)
		}
		fmt.Fprintf(w, "%d\t%s\t%.1f\t%.1f\t%.3f\t%.2f\n", kp.ID, name, kp.X, kp.Y, kp.Z, kp.Score)
	}
	w.Flush()

	if event.Dropped > 0 {
		fmt.Fprintf(out, "⚠️  %d keypoints fell outside the %dx%d frame.\n", event.Dropped, event.Width, event.Height)
	}
}
