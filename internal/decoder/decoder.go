// Package decoder turns raw heatmap and short-offset tensors into keypoints.
//
// For each keypoint identity the decoder takes the arg-max cell of that
// identity's heatmap channel, drops it when its raw score does not exceed the
// threshold, and refines the cell position with the matching (y, x) offset
// pair. Positions are returned in input-tensor pixel space.
package decoder

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/posecast/internal/types"
)

// ErrShape is returned when buffers or dimensions do not agree.
var ErrShape = errors.New("tensor shape mismatch")

// Layout selects how heatmap and offset buffers are addressed.
//
// The zero Layout is channel-major ([channel][H*W]) with interleaved offset
// pairs: channel 2i holds y and 2i+1 holds x for identity i.
type Layout struct {
	// ChannelsLast addresses buffers as [H*W][channels] (NHWC output).
	ChannelsLast bool
	// SplitOffsets stores all K y-offsets before all K x-offsets, so identity
	// i reads channels i and K+i.
	SplitOffsets bool
}

// Shape describes the tensors handed to Decode.
type Shape struct {
	Keypoints     int // K
	HeatmapHeight int // Hh
	HeatmapWidth  int // Wh
	InputWidth    int
	InputHeight   int
	Layout        Layout
}

// Cells returns Hh*Wh.
func (s Shape) Cells() int {
	return s.HeatmapHeight * s.HeatmapWidth
}

// Validate checks dims and buffer lengths against the shape.
func (s Shape) Validate(heatmap, offsets []float32) error {
	if s.Keypoints <= 0 || s.HeatmapHeight <= 0 || s.HeatmapWidth <= 0 {
		return fmt.Errorf("%w: K=%d grid=%dx%d", ErrShape, s.Keypoints, s.HeatmapHeight, s.HeatmapWidth)
	}
	if s.InputWidth <= 0 || s.InputHeight <= 0 {
		return fmt.Errorf("%w: input %dx%d", ErrShape, s.InputWidth, s.InputHeight)
	}
	if want := s.Keypoints * s.Cells(); len(heatmap) != want {
		return fmt.Errorf("%w: heatmap has %d values, want %d", ErrShape, len(heatmap), want)
	}
	if want := 2 * s.Keypoints * s.Cells(); len(offsets) != want {
		return fmt.Errorf("%w: offsets have %d values, want %d", ErrShape, len(offsets), want)
	}
	return nil
}

// Decode returns at most K keypoints in identity order. Identities whose best
// score is <= threshold are omitted. Z carries the score.
func Decode(heatmap, offsets []float32, shape Shape, threshold float32) ([]types.Keypoint, error) {
	if err := shape.Validate(heatmap, offsets); err != nil {
		return nil, err
	}

	k := shape.Keypoints
	w, h := shape.HeatmapWidth, shape.HeatmapHeight
	heat := grid{data: heatmap, channels: k, cells: shape.Cells(), last: shape.Layout.ChannelsLast}
	offs := grid{data: offsets, channels: 2 * k, cells: shape.Cells(), last: shape.Layout.ChannelsLast}

	keypoints := make([]types.Keypoint, 0, k)
	for i := 0; i < k; i++ {
		m, score := heat.argmax(i)
		if score <= threshold {
			continue
		}

		cellY := m / w
		cellX := m % w

		yc, xc := 2*i, 2*i+1
		if shape.Layout.SplitOffsets {
			yc, xc = i, k+i
		}
		offsetY := offs.at(yc, m)
		offsetX := offs.at(xc, m)

		x := float32(cellX)/float32(w)*float32(shape.InputWidth) + offsetX
		y := float32(cellY)/float32(h)*float32(shape.InputHeight) + offsetY

		keypoints = append(keypoints, types.Keypoint{
			ID:    i,
			X:     x,
			Y:     y,
			Z:     score,
			Score: score,
		})
	}
	return keypoints, nil
}

// grid addresses a flat [channels][cells] or [cells][channels] buffer.
type grid struct {
	data     []float32
	channels int
	cells    int
	last     bool
}

func (g grid) at(channel, cell int) float32 {
	if g.last {
		return g.data[cell*g.channels+channel]
	}
	return g.data[channel*g.cells+cell]
}

// argmax scans a channel in flat cell order; the first maximum wins.
func (g grid) argmax(channel int) (int, float32) {
	best, bestScore := 0, g.at(channel, 0)
	for m := 1; m < g.cells; m++ {
		if v := g.at(channel, m); v > bestScore {
			best, bestScore = m, v
		}
	}
	return best, bestScore
}
