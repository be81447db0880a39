package types

import (
	"errors"
	"time"
)

var (
	// ErrEmptyFrame means the source had nothing this cycle; skip it.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrEndOfStream is returned by finite sources once they run out of frames.
	ErrEndOfStream = errors.New("end of stream")
)

// Channels is the fixed channel count of every Frame.
const Channels = 3

// ChannelOrder names the byte order of the three colour channels in a pixel.
type ChannelOrder int

const (
	BGR ChannelOrder = iota // OpenCV capture order
	RGB
)

func (o ChannelOrder) String() string {
	if o == RGB {
		return "rgb"
	}
	return "bgr"
}

// Frame is one captured image: Height rows of Width packed 3-byte pixels.
type Frame struct {
	Width  int
	Height int
	Order  ChannelOrder
	Data   []byte
}

// Size returns the number of bytes a Frame of this geometry must hold.
func (f Frame) Size() int {
	return f.Width * f.Height * Channels
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Width == 0 || f.Height == 0 || len(f.Data) == 0
}

// Keypoint is one detected landmark. X and Y are expressed in whatever
// coordinate space the producer documents; Z is the score when the estimator
// has no depth channel.
type Keypoint struct {
	ID    int     `json:"id" msgpack:"id"`
	X     float32 `json:"x" msgpack:"x"`
	Y     float32 `json:"y" msgpack:"y"`
	Z     float32 `json:"z" msgpack:"z"`
	Score float32 `json:"score" msgpack:"score"`
}

// Pose is an estimator result. Keypoint coordinates are relative to a
// Width x Height space (1x1 for normalized output).
type Pose struct {
	Width     float32
	Height    float32
	Keypoints []Keypoint
}

// PoseEvent is what a cycle hands to its sinks: keypoints in display space.
type PoseEvent struct {
	SessionID string     `json:"session_id" msgpack:"session_id"`
	Cycle     int        `json:"cycle" msgpack:"cycle"`
	Time      time.Time  `json:"time" msgpack:"time"`
	Scheme    string     `json:"scheme" msgpack:"scheme"`
	Width     int        `json:"width" msgpack:"width"`
	Height    int        `json:"height" msgpack:"height"`
	Keypoints []Keypoint `json:"keypoints" msgpack:"keypoints"`
	Dropped   int        `json:"dropped" msgpack:"dropped"`
}
