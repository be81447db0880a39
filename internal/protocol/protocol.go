// Package protocol implements the frame/points exchange with an out-of-process
// pose estimator over two one-way byte streams.
//
// Frame channel: raw pixel bytes, one frame per write, no header. Geometry is
// fixed and agreed on out-of-band.
//
// Points channel: [uint32 little-endian length][length bytes of payload].
// A zero length means no pose was detected.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/andresmejia3/posecast/internal/types"
)

// DefaultMaxPayload bounds a single points payload.
const DefaultMaxPayload = 1 << 20

var (
	ErrShortRead       = errors.New("short read")
	ErrPeerClosed      = errors.New("estimator closed the points channel")
	ErrPayloadTooLarge = errors.New("payload exceeds limit")
	ErrSchema          = errors.New("payload failed schema validation")
	ErrOutOfOrder      = errors.New("exchange out of order")
	ErrGeometry        = errors.New("frame geometry mismatch")
)

// ProtocolError marks a failure that leaves the byte stream unusable.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Geometry is the frame size both ends were configured with.
type Geometry struct {
	Width  int
	Height int
}

// FrameSize is the exact number of bytes one frame occupies on the wire.
func (g Geometry) FrameSize() int {
	return g.Width * g.Height * types.Channels
}

// WriteFrame writes the frame's pixels verbatim.
func WriteFrame(w io.Writer, frame types.Frame, geo Geometry) error {
	if frame.Width != geo.Width || frame.Height != geo.Height || len(frame.Data) != geo.FrameSize() {
		return fmt.Errorf("%w: got %dx%d (%d bytes), channel expects %dx%d",
			ErrGeometry, frame.Width, frame.Height, len(frame.Data), geo.Width, geo.Height)
	}
	if _, err := w.Write(frame.Data); err != nil {
		return &ProtocolError{Op: "send-frame", Err: err}
	}
	return nil
}

// ReadPoints reads one length-prefixed payload and decodes it with codec.
func ReadPoints(r io.Reader, codec Codec, maxPayload int) ([]Point, error) {
	payload, err := readMessage(r, maxPayload)
	if err != nil {
		return nil, &ProtocolError{Op: "receive-points", Err: err}
	}
	if len(payload) == 0 {
		return []Point{}, nil
	}
	points, err := codec.Decode(payload)
	if err != nil {
		return nil, &ProtocolError{Op: "receive-points", Err: fmt.Errorf("%w: %s: %v", ErrSchema, codec.Name(), err)}
	}
	return points, nil
}

// WritePoints is the estimator side of ReadPoints.
func WritePoints(w io.Writer, points []Point, codec Codec) error {
	payload, err := codec.Encode(points)
	if err != nil {
		return fmt.Errorf("encode points: %w", err)
	}
	// Header and body go out in one write so a reader never sees a torn header.
	msg := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(msg, uint32(len(payload)))
	copy(msg[4:], payload)
	if _, err := w.Write(msg); err != nil {
		return &ProtocolError{Op: "send-points", Err: err}
	}
	return nil
}

func readMessage(r io.Reader, maxPayload int) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, ErrPeerClosed
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, fmt.Errorf("%w: length prefix", ErrShortRead)
		}
		return nil, err
	}

	n := binary.LittleEndian.Uint32(header[:])
	if maxPayload > 0 && uint64(n) > uint64(maxPayload) {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, n, maxPayload)
	}

	payload := make([]byte, n)
	if read, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: got %d of %d payload bytes", ErrShortRead, read, n)
		}
		return nil, err
	}
	return payload, nil
}

// Exchange drives one synchronous frame/points conversation. Every SendFrame
// must be followed by exactly one ReceivePoints. The first protocol failure
// is sticky.
type Exchange struct {
	mu         sync.Mutex
	frames     io.Writer
	points     io.Reader
	geo        Geometry
	codec      Codec
	maxPayload int
	awaiting   bool
	err        error
}

// NewExchange wires an exchange over the two channel ends.
func NewExchange(frames io.Writer, points io.Reader, geo Geometry, codec Codec) *Exchange {
	return &Exchange{
		frames:     frames,
		points:     points,
		geo:        geo,
		codec:      codec,
		maxPayload: DefaultMaxPayload,
	}
}

// SetMaxPayload overrides DefaultMaxPayload.
func (e *Exchange) SetMaxPayload(n int) {
	e.mu.Lock()
	e.maxPayload = n
	e.mu.Unlock()
}

// Geometry returns the negotiated frame geometry.
func (e *Exchange) Geometry() Geometry { return e.geo }

func (e *Exchange) SendFrame(frame types.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.err != nil {
		return e.err
	}
	if e.awaiting {
		return fmt.Errorf("%w: send-frame before receive-points", ErrOutOfOrder)
	}
	if err := WriteFrame(e.frames, frame, e.geo); err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			e.err = err
		}
		return err
	}
	e.awaiting = true
	return nil
}

func (e *Exchange) ReceivePoints() ([]Point, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.err != nil {
		return nil, e.err
	}
	if !e.awaiting {
		return nil, fmt.Errorf("%w: receive-points without send-frame", ErrOutOfOrder)
	}
	points, err := ReadPoints(e.points, e.codec, e.maxPayload)
	if err != nil {
		e.err = err
		return nil, err
	}
	e.awaiting = false
	return points, nil
}

// RoundTrip sends frame and waits for its points.
func (e *Exchange) RoundTrip(frame types.Frame) ([]Point, error) {
	if err := e.SendFrame(frame); err != nil {
		return nil, err
	}
	return e.ReceivePoints()
}

// Serve is the estimator side of an Exchange: it reads whole frames from
// frames, hands each to estimate and writes the result to points. It returns
// the number of frames answered once frames ends at a frame boundary.
func Serve(frames io.Reader, points io.Writer, geo Geometry, codec Codec, estimate func(types.Frame) []Point) (int, error) {
	buf := make([]byte, geo.FrameSize())
	for n := 0; ; n++ {
		if read, err := io.ReadFull(frames, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return n, &ProtocolError{Op: "receive-frame", Err: fmt.Errorf("%w: got %d of %d frame bytes", ErrShortRead, read, len(buf))}
			}
			return n, &ProtocolError{Op: "receive-frame", Err: err}
		}
		frame := types.Frame{Width: geo.Width, Height: geo.Height, Data: buf}
		if err := WritePoints(points, estimate(frame), codec); err != nil {
			return n, err
		}
	}
}
