// Package tensor converts captured frames into the float input an inference
// engine expects and maps coordinates between spaces.
package tensor

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/andresmejia3/posecast/internal/types"
)

// ErrFrame is returned for frames whose buffer does not match their geometry.
var ErrFrame = errors.New("malformed frame")

// Input is an HWC float tensor with values in [0,1].
type Input struct {
	Width  int
	Height int
	Data   []float32
}

// Encode resizes frame to targetW x targetH with bilinear interpolation and
// normalizes every channel value from [0,255] to [0,1]. The output channel
// order is order; R and B are swapped when it differs from frame.Order.
func Encode(frame types.Frame, targetW, targetH int, order types.ChannelOrder) (Input, error) {
	resized, err := ResizeFrame(frame, targetW, targetH)
	if err != nil {
		return Input{}, err
	}

	swap := resized.Order != order
	data := make([]float32, len(resized.Data))
	for i := 0; i < len(resized.Data); i += types.Channels {
		c0, c1, c2 := resized.Data[i], resized.Data[i+1], resized.Data[i+2]
		if swap {
			c0, c2 = c2, c0
		}
		data[i] = float32(c0) / 255
		data[i+1] = float32(c1) / 255
		data[i+2] = float32(c2) / 255
	}
	return Input{Width: targetW, Height: targetH, Data: data}, nil
}

// ResizeFrame returns frame scaled to w x h. Channel order is preserved; the
// input is returned untouched when it already has the requested size.
func ResizeFrame(frame types.Frame, w, h int) (types.Frame, error) {
	if err := check(frame); err != nil {
		return types.Frame{}, err
	}
	if w <= 0 || h <= 0 {
		return types.Frame{}, fmt.Errorf("invalid target size %dx%d", w, h)
	}
	if frame.Width == w && frame.Height == h {
		return frame, nil
	}

	// Channels ride in the R,G,B slots whatever their real order; bilinear
	// filtering treats them independently so the order survives.
	src := toRGBA(frame)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	return fromRGBA(dst, frame.Order), nil
}

// Rescale maps (x, y) from a fromW x fromH space to a toW x toH space.
func Rescale(x, y, fromW, fromH, toW, toH float32) (float32, float32) {
	return x * (toW / fromW), y * (toH / fromH)
}

func check(frame types.Frame) error {
	if frame.Width <= 0 || frame.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrFrame, frame.Width, frame.Height)
	}
	if len(frame.Data) != frame.Size() {
		return fmt.Errorf("%w: %d bytes for %dx%d", ErrFrame, len(frame.Data), frame.Width, frame.Height)
	}
	return nil
}

func toRGBA(frame types.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for p, q := 0, 0; p < len(frame.Data); p, q = p+types.Channels, q+4 {
		img.Pix[q] = frame.Data[p]
		img.Pix[q+1] = frame.Data[p+1]
		img.Pix[q+2] = frame.Data[p+2]
		img.Pix[q+3] = 0xFF
	}
	return img
}

func fromRGBA(img *image.RGBA, order types.ChannelOrder) types.Frame {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	data := make([]byte, w*h*types.Channels)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			p := (y*w + x) * types.Channels
			data[p] = row[x*4]
			data[p+1] = row[x*4+1]
			data[p+2] = row[x*4+2]
		}
	}
	return types.Frame{Width: w, Height: h, Order: order, Data: data}
}
