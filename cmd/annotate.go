package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/posecast/internal/camera"
	"github.com/andresmejia3/posecast/internal/config"
	"github.com/andresmejia3/posecast/internal/pipeline"
	"github.com/andresmejia3/posecast/internal/render"
	"github.com/andresmejia3/posecast/internal/utils"
)

var (
	annotateInput  string
	annotateOutput string
	annotateCodec  string
)

var annotateCmd = &cobra.Command{
	Use:         "annotate",
	Short:       "Draw pose skeletons onto every frame of a video file",
	Annotations: map[string]string{"db": dbIfRecord},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runAnnotate(cmd.Context(), cfg)
	},
}

func init() {
	annotateCmd.Flags().StringVarP(&annotateInput, "input", "i", "", "Path to input video")
	annotateCmd.Flags().StringVarP(&annotateOutput, "output", "o", "annotated.avi", "Path to output video")
	annotateCmd.Flags().StringVar(&annotateCodec, "codec", "MJPG", "FourCC of the output video codec")
	addEstimatorFlags(annotateCmd.Flags())
	addSinkFlags(annotateCmd.Flags())

	annotateCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(annotateCmd)
}

func validateAnnotateFlags(input, output, codec string) error {
	// Prevent overwriting input file which causes corruption
	inAbs, _ := filepath.Abs(input)
	outAbs, _ := filepath.Abs(output)
	if inAbs == outAbs {
		return fmt.Errorf("input and output paths must be different to prevent file corruption")
	}
	if len(codec) != 4 {
		return fmt.Errorf("--codec must be a four character code, got %q", codec)
	}
	return nil
}

func runAnnotate(ctx context.Context, c *config.Config) error {
	if err := validateAnnotateFlags(annotateInput, annotateOutput, annotateCodec); err != nil {
		return err
	}
	if _, err := os.Stat(annotateInput); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}

	src, err := camera.Open(annotateInput, 0, 0)
	if err != nil {
		utils.ShowError("Failed to open video", err, nil)
		return err
	}
	totalFrames := int64(src.FrameCount())
	if totalFrames <= 0 {
		// Fallback to a spinner if the container doesn't report a count
		totalFrames = -1
	}

	out := render.NewVideoFile(annotateOutput, annotateCodec, src.FPS())
	session, estCmd, err := newSession(ctx, c, src, out, annotateInput)
	if err != nil {
		return err
	}
	defer session.Close()

	bar := progressbar.NewOptions64(totalFrames,
		progressbar.OptionSetDescription("🦴 Annotating"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	session.OnCycle(func(pipeline.Cycle) { bar.Add(1) })

	stats, err := session.Run(ctx)
	bar.Finish()
	if err != nil {
		utils.ShowError("Annotation failed", err, estCmd)
		return err
	}

	printSummary(session.ID, stats)
	fmt.Fprintf(os.Stderr, "💾 Annotated video written to %s\n", annotateOutput)
	return nil
}
