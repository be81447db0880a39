// Package engine runs a PoseNet TFLite model in-process and decodes its
// heatmap and short-offset outputs.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattn/go-tflite"
	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/posecast/internal/decoder"
	"github.com/andresmejia3/posecast/internal/skeleton"
	"github.com/andresmejia3/posecast/internal/tensor"
	"github.com/andresmejia3/posecast/internal/types"
)

// ErrTensorShape means the model's tensors are not what the decoder expects.
var ErrTensorShape = errors.New("unexpected model tensors")

const (
	heatmapOutput = 0
	offsetsOutput = 1
)

// Config configures the in-process estimator.
type Config struct {
	ModelPath string
	Threads   int
	Threshold float32
	// Order is the channel order the model was trained on. PoseNet builds
	// fed straight from OpenCV use BGR.
	Order types.ChannelOrder
}

// TFLiteEstimator owns a loaded model and its interpreter. Not safe for
// concurrent use; the cycle loop runs one estimate at a time.
type TFLiteEstimator struct {
	cfg    Config
	model  *tflite.Model
	opts   *tflite.InterpreterOptions
	interp *tflite.Interpreter
	shape  decoder.Shape
	log    *logrus.Entry
}

// New loads the model and checks its tensors against the decoder contract.
func New(cfg Config, log *logrus.Logger) (*TFLiteEstimator, error) {
	model := tflite.NewModelFromFile(cfg.ModelPath)
	if model == nil {
		return nil, fmt.Errorf("failed to load model %s", cfg.ModelPath)
	}

	opts := tflite.NewInterpreterOptions()
	if cfg.Threads > 0 {
		opts.SetNumThread(cfg.Threads)
	}

	interp := tflite.NewInterpreter(model, opts)
	if interp == nil {
		opts.Delete()
		model.Delete()
		return nil, fmt.Errorf("failed to create interpreter for %s", cfg.ModelPath)
	}

	e := &TFLiteEstimator{
		cfg:    cfg,
		model:  model,
		opts:   opts,
		interp: interp,
		log:    log.WithField("component", "tflite"),
	}
	if status := interp.AllocateTensors(); status != tflite.OK {
		e.Close()
		return nil, fmt.Errorf("failed to allocate tensors: status %v", status)
	}

	shape, err := e.readShape()
	if err != nil {
		e.Close()
		return nil, err
	}
	if shape.Keypoints != skeleton.COCO17.Size() {
		e.Close()
		return nil, fmt.Errorf("%w: model emits %d keypoints, want %d", ErrTensorShape, shape.Keypoints, skeleton.COCO17.Size())
	}
	e.shape = shape

	e.log.WithFields(logrus.Fields{
		"model":   cfg.ModelPath,
		"input":   fmt.Sprintf("%dx%d", shape.InputWidth, shape.InputHeight),
		"heatmap": fmt.Sprintf("%dx%d", shape.HeatmapWidth, shape.HeatmapHeight),
	}).Info("model loaded")
	return e, nil
}

func (e *TFLiteEstimator) readShape() (decoder.Shape, error) {
	if e.interp.GetInputTensorCount() < 1 || e.interp.GetOutputTensorCount() < 2 {
		return decoder.Shape{}, fmt.Errorf("%w: %d inputs, %d outputs", ErrTensorShape,
			e.interp.GetInputTensorCount(), e.interp.GetOutputTensorCount())
	}
	for _, t := range []*tflite.Tensor{
		e.interp.GetInputTensor(0),
		e.interp.GetOutputTensor(heatmapOutput),
		e.interp.GetOutputTensor(offsetsOutput),
	} {
		if t.Type() != tflite.Float32 {
			return decoder.Shape{}, fmt.Errorf("%w: tensor %s is %v, want float32", ErrTensorShape, t.Name(), t.Type())
		}
	}

	shape, err := decoder.ShapeFromNHWC(
		dims(e.interp.GetInputTensor(0)),
		dims(e.interp.GetOutputTensor(heatmapOutput)),
		dims(e.interp.GetOutputTensor(offsetsOutput)),
	)
	if err != nil {
		return decoder.Shape{}, fmt.Errorf("%w: %v", ErrTensorShape, err)
	}
	return shape, nil
}

// Shape returns the decode shape derived from the model.
func (e *TFLiteEstimator) Shape() decoder.Shape { return e.shape }

// Scheme is always COCO17 for PoseNet.
func (e *TFLiteEstimator) Scheme() *skeleton.Scheme { return skeleton.COCO17 }

// Estimate runs one inference. Keypoints come back in input-tensor pixels.
func (e *TFLiteEstimator) Estimate(ctx context.Context, frame types.Frame) (types.Pose, error) {
	if err := ctx.Err(); err != nil {
		return types.Pose{}, err
	}

	in, err := tensor.Encode(frame, e.shape.InputWidth, e.shape.InputHeight, e.cfg.Order)
	if err != nil {
		return types.Pose{}, err
	}
	if status := e.interp.GetInputTensor(0).CopyFromBuffer(in.Data); status != tflite.OK {
		return types.Pose{}, fmt.Errorf("copy input tensor: status %v", status)
	}
	if status := e.interp.Invoke(); status != tflite.OK {
		return types.Pose{}, fmt.Errorf("invoke: status %v", status)
	}

	heatmap := e.interp.GetOutputTensor(heatmapOutput).Float32s()
	offsets := e.interp.GetOutputTensor(offsetsOutput).Float32s()
	keypoints, err := decoder.Decode(heatmap, offsets, e.shape, e.cfg.Threshold)
	if err != nil {
		return types.Pose{}, err
	}

	return types.Pose{
		Width:     float32(e.shape.InputWidth),
		Height:    float32(e.shape.InputHeight),
		Keypoints: keypoints,
	}, nil
}

func (e *TFLiteEstimator) Close() error {
	if e.interp != nil {
		e.interp.Delete()
		e.interp = nil
	}
	if e.opts != nil {
		e.opts.Delete()
		e.opts = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
	return nil
}

// TensorInfo describes one model tensor.
type TensorInfo struct {
	Name  string
	Shape []int
	Type  string
}

// Describe lists a model's input and output tensors without running it.
func Describe(modelPath string) (inputs, outputs []TensorInfo, err error) {
	model := tflite.NewModelFromFile(modelPath)
	if model == nil {
		return nil, nil, fmt.Errorf("failed to load model %s", modelPath)
	}
	defer model.Delete()

	opts := tflite.NewInterpreterOptions()
	defer opts.Delete()
	interp := tflite.NewInterpreter(model, opts)
	if interp == nil {
		return nil, nil, fmt.Errorf("failed to create interpreter for %s", modelPath)
	}
	defer interp.Delete()

	if status := interp.AllocateTensors(); status != tflite.OK {
		return nil, nil, fmt.Errorf("failed to allocate tensors: status %v", status)
	}

	for i := 0; i < interp.GetInputTensorCount(); i++ {
		inputs = append(inputs, info(interp.GetInputTensor(i)))
	}
	for i := 0; i < interp.GetOutputTensorCount(); i++ {
		outputs = append(outputs, info(interp.GetOutputTensor(i)))
	}
	return inputs, outputs, nil
}

func info(t *tflite.Tensor) TensorInfo {
	return TensorInfo{Name: t.Name(), Shape: dims(t), Type: fmt.Sprint(t.Type())}
}

func dims(t *tflite.Tensor) []int {
	d := make([]int, t.NumDims())
	for i := range d {
		d[i] = t.Dim(i)
	}
	return d
}
