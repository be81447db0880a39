// Package render draws skeletons onto frames and shows or stores the result.
package render

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/posecast/internal/skeleton"
	"github.com/andresmejia3/posecast/internal/types"
)

var (
	jointColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	boneColor  = color.RGBA{R: 255, G: 200, B: 0, A: 0}
)

const (
	jointRadius   = 3
	boneThickness = 2
)

// Draw paints sk onto mat. Keypoint coordinates must already be in mat's
// pixel space.
func Draw(mat *gocv.Mat, sk skeleton.Skeleton) {
	for _, bone := range sk.Connections() {
		a, b := bone[0], bone[1]
		gocv.Line(mat, image.Pt(int(a.X), int(a.Y)), image.Pt(int(b.X), int(b.Y)), boneColor, boneThickness)
	}
	for _, kp := range sk.Keypoints {
		gocv.Circle(mat, image.Pt(int(kp.X), int(kp.Y)), jointRadius, jointColor, -1)
	}
}

// frameMat wraps the frame's pixels without copying. Drawing writes through
// to frame.Data.
func frameMat(frame types.Frame) (gocv.Mat, error) {
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("wrap frame: %w", err)
	}
	return mat, nil
}

// Window shows annotated frames in a HighGUI window. q or Esc asks to quit.
type Window struct {
	win *gocv.Window
}

func NewWindow(title string) *Window {
	return &Window{win: gocv.NewWindow(title)}
}

func (w *Window) Show(frame types.Frame, sk skeleton.Skeleton) (bool, error) {
	mat, err := frameMat(frame)
	if err != nil {
		return false, err
	}
	defer mat.Close()

	Draw(&mat, sk)
	w.win.IMShow(mat)

	switch key := w.win.WaitKey(1); key {
	case 'q', 'Q', 27:
		return true, nil
	}
	return !w.win.IsOpen(), nil
}

func (w *Window) Close() error {
	return w.win.Close()
}

// VideoFile writes annotated frames to a video file. The writer is opened
// lazily once the first frame's size is known.
type VideoFile struct {
	path   string
	codec  string
	fps    float64
	writer *gocv.VideoWriter
}

func NewVideoFile(path, codec string, fps float64) *VideoFile {
	if fps <= 0 {
		fps = 30
	}
	return &VideoFile{path: path, codec: codec, fps: fps}
}

func (v *VideoFile) Show(frame types.Frame, sk skeleton.Skeleton) (bool, error) {
	if v.writer == nil {
		vw, err := gocv.VideoWriterFile(v.path, v.codec, v.fps, frame.Width, frame.Height, true)
		if err != nil {
			return false, fmt.Errorf("open video writer %s: %w", v.path, err)
		}
		v.writer = vw
	}

	mat, err := frameMat(frame)
	if err != nil {
		return false, err
	}
	defer mat.Close()

	Draw(&mat, sk)
	if err := v.writer.Write(mat); err != nil {
		return false, fmt.Errorf("write frame: %w", err)
	}
	return false, nil
}

func (v *VideoFile) Close() error {
	if v.writer == nil {
		return nil
	}
	return v.writer.Close()
}

// ImageFile writes the annotated frame to an image file on every Show.
type ImageFile struct {
	path string
}

func NewImageFile(path string) *ImageFile {
	return &ImageFile{path: path}
}

func (f *ImageFile) Show(frame types.Frame, sk skeleton.Skeleton) (bool, error) {
	mat, err := frameMat(frame)
	if err != nil {
		return false, err
	}
	defer mat.Close()

	Draw(&mat, sk)
	if ok := gocv.IMWrite(f.path, mat); !ok {
		return false, fmt.Errorf("failed to write image %s", f.path)
	}
	return false, nil
}

func (f *ImageFile) Close() error { return nil }
