package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/posecast/internal/decoder"
	"github.com/andresmejia3/posecast/internal/engine"
	"github.com/andresmejia3/posecast/internal/utils"
)

var probeModel string

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Print a TFLite model's input and output tensors",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if probeModel == "" {
			probeModel = cfg.Estimator.TFLite.Model
		}
		inputs, outputs, err := engine.Describe(probeModel)
		if err != nil {
			utils.ShowError("Failed to inspect model", err, nil)
			return err
		}
		printTensors(os.Stdout, inputs, outputs)
		return nil
	},
}

func init() {
	probeCmd.Flags().StringVarP(&probeModel, "model", "m", "", "Path to a .tflite model (default: estimator.tflite.model)")
	rootCmd.AddCommand(probeCmd)
}

func printTensors(out io.Writer, inputs, outputs []engine.TensorInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "KIND\tINDEX\tNAME\tSHAPE\tTYPE")
	fmt.Fprintln(w, "----\t-----\t----\t-----\t----")
	for i, t := range inputs {
		fmt.Fprintf(w, "input\t%d\t%s\t%v\t%s\n", i, t.Name, t.Shape, t.Type)
	}
	for i, t := range outputs {
		fmt.Fprintf(w, "output\t%d\t%s\t%v\t%s\n", i, t.Name, t.Shape, t.Type)
	}
	w.Flush()

	if len(inputs) < 1 || len(outputs) < 2 {
		fmt.Fprintln(out, "\n❌ Not a PoseNet layout: need one input and heatmap + offset outputs.")
		return
	}
	shape, err := decoder.ShapeFromNHWC(inputs[0].Shape, outputs[0].Shape, outputs[1].Shape)
	if err != nil {
		fmt.Fprintf(out, "\n❌ Not decodable as PoseNet: %v\n", err)
		return
	}
	fmt.Fprintf(out, "\n✅ PoseNet layout: %d keypoints, %dx%d heatmap, %dx%d input\n",
		shape.Keypoints, shape.HeatmapWidth, shape.HeatmapHeight, shape.InputWidth, shape.InputHeight)
}
