package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/posecast/internal/camera"
	"github.com/andresmejia3/posecast/internal/config"
	"github.com/andresmejia3/posecast/internal/pipeline"
	"github.com/andresmejia3/posecast/internal/render"
	"github.com/andresmejia3/posecast/internal/store"
	"github.com/andresmejia3/posecast/internal/utils"
)

var runCmd = &cobra.Command{
	Use:         "run",
	Short:       "Estimate and draw poses from a live camera until q, Esc or Ctrl+C",
	Annotations: map[string]string{"db": dbIfRecord},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runLive(cmd.Context(), cfg)
	},
}

func init() {
	d := config.Default()
	runCmd.Flags().StringVarP(&opts.Device, "device", "d", d.Camera.Device, "Camera index, stream URL or video file")
	runCmd.Flags().BoolVar(&opts.NoWindow, "no-window", false, "Run headless")
	addEstimatorFlags(runCmd.Flags())
	addSinkFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func runLive(ctx context.Context, c *config.Config) error {
	src, err := camera.Open(c.Camera.Device, c.Camera.Width, c.Camera.Height)
	if err != nil {
		utils.ShowError("Failed to open camera", err, nil)
		return err
	}

	var display pipeline.Display
	if c.Display.Enabled {
		display = render.NewWindow(c.Display.Window)
	}

	session, estCmd, err := newSession(ctx, c, src, display, c.Camera.Device)
	if err != nil {
		return err
	}
	defer session.Close()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("🎥 posecast live"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
	)
	session.OnCycle(func(pipeline.Cycle) { bar.Add(1) })
	stats, err := session.Run(ctx)
	bar.Finish()
	if err != nil {
		utils.ShowError("Pose loop failed", err, estCmd)
		return err
	}

	printSummary(session.ID, stats)
	return nil
}

// newSession starts the estimator and sinks around an open source. Every
// resource is released on failure, including src and display.
func newSession(ctx context.Context, c *config.Config, src pipeline.Source, display pipeline.Display, sourceName string) (*pipeline.Session, *utils.SafeCommand, error) {
	est, estCmd, err := newEstimator(ctx, c)
	if err != nil {
		utils.ShowError("Failed to start estimator", err, estCmd)
		src.Close()
		if display != nil {
			display.Close()
		}
		return nil, nil, err
	}

	id := uuid.NewString()
	sinks, err := newSinks(ctx, c, store.SessionMeta{
		ID:      id,
		Source:  sourceName,
		Backend: c.Estimator.Backend,
		Scheme:  est.Scheme().Name,
	})
	if err != nil {
		utils.ShowError("Failed to start publishers", err, nil)
		est.Close()
		src.Close()
		if display != nil {
			display.Close()
		}
		return nil, nil, err
	}

	session := pipeline.NewSession(src, est, pipeline.Options{
		ID:      id,
		Display: display,
		Sinks:   sinks,
		Log:     log,
	})
	return session, estCmd, nil
}

func printSummary(id string, stats pipeline.Stats) {
	fmt.Fprintf(os.Stderr, "\n🏁 Session %s finished in %s: %d cycles, %d with keypoints, %d skipped, %d keypoints outside the frame.\n",
		id, utils.FmtDuration(stats.Elapsed), stats.Cycles, stats.Detections, stats.Skipped, stats.Dropped)
}
