package decoder

import "fmt"

// ShapeFromNHWC derives a decode Shape from the dims of a PoseNet-style model:
// input [1,H,W,3], heatmaps [1,Hh,Wh,K], short offsets [1,Hh,Wh,2K].
// Offsets are laid out as K y-channels followed by K x-channels.
func ShapeFromNHWC(input, heatmap, offsets []int) (Shape, error) {
	if len(input) != 4 || len(heatmap) != 4 || len(offsets) != 4 {
		return Shape{}, fmt.Errorf("%w: want rank-4 tensors, got input %v heatmap %v offsets %v", ErrShape, input, heatmap, offsets)
	}
	if input[3] != 3 {
		return Shape{}, fmt.Errorf("%w: input has %d channels, want 3", ErrShape, input[3])
	}
	if heatmap[1] != offsets[1] || heatmap[2] != offsets[2] {
		return Shape{}, fmt.Errorf("%w: heatmap grid %dx%d != offsets grid %dx%d", ErrShape, heatmap[1], heatmap[2], offsets[1], offsets[2])
	}
	if offsets[3] != 2*heatmap[3] {
		return Shape{}, fmt.Errorf("%w: %d offset channels for %d keypoints", ErrShape, offsets[3], heatmap[3])
	}

	s := Shape{
		Keypoints:     heatmap[3],
		HeatmapHeight: heatmap[1],
		HeatmapWidth:  heatmap[2],
		InputHeight:   input[1],
		InputWidth:    input[2],
		Layout:        Layout{ChannelsLast: true, SplitOffsets: true},
	}
	if s.Keypoints <= 0 || s.Cells() <= 0 || s.InputWidth <= 0 || s.InputHeight <= 0 {
		return Shape{}, fmt.Errorf("%w: non-positive dims in %+v", ErrShape, s)
	}
	return s, nil
}
