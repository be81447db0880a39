package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Point is one estimator landmark, normalized to [0,1] of the frame size.
type Point struct {
	X, Y, Z float32
}

// Codec serializes a point list into a points payload. Both ends of a channel
// must agree on the codec out-of-band, like the frame geometry.
type Codec interface {
	Name() string
	Encode(points []Point) ([]byte, error)
	Decode(payload []byte) ([]Point, error)
}

const recordSize = 12 // x, y, z as float32

var codecs = map[string]Codec{
	"f32":     f32Codec{},
	"msgpack": msgpackCodec{},
	"cbor":    cborCodec{},
}

// DefaultCodec is the packed float32 record codec.
const DefaultCodec = "f32"

// CodecByName looks up a registered codec.
func CodecByName(name string) (Codec, error) {
	c, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("unknown points format %q (want one of %v)", name, CodecNames())
	}
	return c, nil
}

// CodecNames lists the registered codec names.
func CodecNames() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// f32Codec packs each point as three little-endian float32 values.
type f32Codec struct{}

func (f32Codec) Name() string { return "f32" }

func (f32Codec) Encode(points []Point) ([]byte, error) {
	buf := make([]byte, len(points)*recordSize)
	for i, p := range points {
		off := i * recordSize
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(p.X))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(p.Y))
		binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(p.Z))
	}
	return buf, nil
}

func (f32Codec) Decode(payload []byte) ([]Point, error) {
	if len(payload)%recordSize != 0 {
		return nil, fmt.Errorf("payload of %d bytes is not a multiple of %d", len(payload), recordSize)
	}
	points := make([]Point, len(payload)/recordSize)
	for i := range points {
		off := i * recordSize
		points[i] = Point{
			X: math.Float32frombits(binary.LittleEndian.Uint32(payload[off:])),
			Y: math.Float32frombits(binary.LittleEndian.Uint32(payload[off+4:])),
			Z: math.Float32frombits(binary.LittleEndian.Uint32(payload[off+8:])),
		}
	}
	return points, validate(points)
}

// msgpackCodec and cborCodec carry the list as [[x, y, z], ...].
type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Encode(points []Point) ([]byte, error) {
	if len(points) == 0 {
		return nil, nil
	}
	return msgpack.Marshal(toTriples(points))
}

func (msgpackCodec) Decode(payload []byte) ([]Point, error) {
	var triples [][]float64
	if err := msgpack.Unmarshal(payload, &triples); err != nil {
		return nil, err
	}
	return fromTriples(triples)
}

type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Encode(points []Point) ([]byte, error) {
	if len(points) == 0 {
		return nil, nil
	}
	return cbor.Marshal(toTriples(points))
}

func (cborCodec) Decode(payload []byte) ([]Point, error) {
	var triples [][]float64
	if err := cbor.Unmarshal(payload, &triples); err != nil {
		return nil, err
	}
	return fromTriples(triples)
}

func toTriples(points []Point) [][]float32 {
	triples := make([][]float32, len(points))
	for i, p := range points {
		triples[i] = []float32{p.X, p.Y, p.Z}
	}
	return triples
}

// fromTriples accepts doubles since most peers encode floats as float64.
func fromTriples(triples [][]float64) ([]Point, error) {
	points := make([]Point, len(triples))
	for i, t := range triples {
		if len(t) != 3 {
			return nil, fmt.Errorf("point %d has %d fields, want 3", i, len(t))
		}
		points[i] = Point{X: float32(t[0]), Y: float32(t[1]), Z: float32(t[2])}
	}
	return points, validate(points)
}

func validate(points []Point) error {
	for i, p := range points {
		for _, v := range [3]float32{p.X, p.Y, p.Z} {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return fmt.Errorf("point %d has non-finite coordinate", i)
			}
		}
	}
	return nil
}
