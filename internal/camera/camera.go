// Package camera reads frames from an OpenCV capture device, stream URL or
// video file.
package camera

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/posecast/internal/types"
)

var (
	// ErrOpen is fatal: the device could not be opened.
	ErrOpen = errors.New("camera open failed")

	ErrEmptyFrame  = types.ErrEmptyFrame
	ErrEndOfStream = types.ErrEndOfStream
)

// Source owns one capture handle. Read is serialized so several schedulers
// can share a Source without touching the device concurrently.
type Source struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	file   bool
	closed bool
}

// Open opens a device index ("0"), a URL, or a file path. Width and height
// are requested from live devices when positive.
func Open(device string, width, height int) (*Source, error) {
	var (
		vc   *gocv.VideoCapture
		err  error
		file bool
	)
	if id, convErr := strconv.Atoi(device); convErr == nil {
		vc, err = gocv.OpenVideoCapture(id)
	} else {
		vc, err = gocv.OpenVideoCapture(device)
		file = true
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s", ErrOpen, device)
	}

	if !file && width > 0 && height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	return &Source{cap: vc, mat: gocv.NewMat(), file: file}, nil
}

// Read blocks until the next frame is available. The returned Frame owns a
// fresh copy of the pixels in BGR order.
func (s *Source) Read() (types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.Frame{}, fmt.Errorf("camera closed")
	}
	if ok := s.cap.Read(&s.mat); !ok {
		if s.file {
			return types.Frame{}, ErrEndOfStream
		}
		return types.Frame{}, ErrEmptyFrame
	}
	if s.mat.Empty() {
		return types.Frame{}, ErrEmptyFrame
	}
	if s.mat.Channels() != types.Channels {
		return types.Frame{}, fmt.Errorf("camera delivered %d channels, want %d", s.mat.Channels(), types.Channels)
	}

	return types.Frame{
		Width:  s.mat.Cols(),
		Height: s.mat.Rows(),
		Order:  types.BGR,
		Data:   s.mat.ToBytes(),
	}, nil
}

// FPS reports the stream's nominal frame rate, 0 if unknown.
func (s *Source) FPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cap.Get(gocv.VideoCaptureFPS)
}

// FrameCount reports the number of frames in a file source, 0 if unknown.
func (s *Source) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.cap.Get(gocv.VideoCaptureFrameCount))
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.mat.Close()
	return s.cap.Close()
}

// ReadImage loads a still image from disk as a BGR frame.
func ReadImage(path string) (types.Frame, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return types.Frame{}, fmt.Errorf("failed to load image: %s", path)
	}
	return types.Frame{
		Width:  mat.Cols(),
		Height: mat.Rows(),
		Order:  types.BGR,
		Data:   mat.ToBytes(),
	}, nil
}
