// Package transform encodes the fixed 19-byte frame a client sends for its own
// avatar: id, float32 position, yaw-only quaternion (Y and W, int16
// quantized) and a one-byte state enum. The frame has no length prefix or
// type byte; X and Z quaternion components are assumed zero.
package transform

import (
	"errors"
	"fmt"
	"math"

	"github.com/DoyleJ11/entity-sync/internal/wire"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

// FrameSize is the exact encoded size of a Frame.
const FrameSize = 19

// QuantScale maps [-1, 1] onto the symmetric int16 range.
const QuantScale = 32767

var ErrFrameSize = errors.New("transform: frame is not 19 bytes")

type Vec3 struct {
	X, Y, Z float32
}

// Rotation holds the two transmitted quaternion components.
type Rotation struct {
	Y, W float32
}

type Frame struct {
	ID       uint16
	Position Vec3
	Rotation Rotation
	State    uint8
}

// Quantize clamps q to [-1, 1] and scales it to int16, truncating toward
// zero (0.25 encodes as 0x1FFF). NaN maps to 0.
func Quantize(q float32) int16 {
	f := float64(q)
	if math.IsNaN(f) {
		return 0
	}
	f = math.Max(-1, math.Min(1, f))
	return int16(math.Trunc(f * QuantScale))
}

func Dequantize(v int16) float32 {
	return float32(float64(v) / QuantScale)
}

// Encode is pure: the same frame always yields the same bytes.
func Encode(f Frame) [FrameSize]byte {
	var out [FrameSize]byte
	copy(out[:], AppendEncode(make([]byte, 0, FrameSize), f))
	return out
}

func AppendEncode(dst []byte, f Frame) []byte {
	w := wire.NewWriter(FrameSize)
	w.WriteUint16(f.ID)
	w.WriteFloat32(f.Position.X)
	w.WriteFloat32(f.Position.Y)
	w.WriteFloat32(f.Position.Z)
	w.WriteInt16(Quantize(f.Rotation.Y))
	w.WriteInt16(Quantize(f.Rotation.W))
	w.WriteUint8(f.State)
	return append(dst, w.Bytes()...)
}

// Decode accepts every 19-byte input; rotations round-trip within 1/32767.
func Decode(b []byte) (Frame, error) {
	if len(b) > FrameSize {
		return Frame{}, fmt.Errorf("%w: got %d", ErrFrameSize, len(b))
	}
	r := wire.NewReader(b)
	var f Frame
	var err error
	if f.ID, err = r.ReadUint16(); err != nil {
		return Frame{}, err
	}
	if f.Position.X, err = r.ReadFloat32(); err != nil {
		return Frame{}, err
	}
	if f.Position.Y, err = r.ReadFloat32(); err != nil {
		return Frame{}, err
	}
	if f.Position.Z, err = r.ReadFloat32(); err != nil {
		return Frame{}, err
	}
	qy, err := r.ReadInt16()
	if err != nil {
		return Frame{}, err
	}
	qw, err := r.ReadInt16()
	if err != nil {
		return Frame{}, err
	}
	f.Rotation = Rotation{Y: Dequantize(qy), W: Dequantize(qw)}
	if f.State, err = r.ReadUint8(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// QuantizePosition converts a world coordinate to the fixed-point component
// domain, saturating at the int64 range. NaN maps to 0.
func QuantizePosition(v float32) int64 {
	f := float64(v) * types.PositionScale
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(math.Round(f))
}

func DequantizePosition(v int64) float32 {
	return float32(float64(v) / types.PositionScale)
}

// Components returns the frame as absolute component observations.
func (f Frame) Components() []types.ComponentValue {
	return []types.ComponentValue{
		{ID: types.ComponentPosX, Value: QuantizePosition(f.Position.X)},
		{ID: types.ComponentPosY, Value: QuantizePosition(f.Position.Y)},
		{ID: types.ComponentPosZ, Value: QuantizePosition(f.Position.Z)},
		{ID: types.ComponentRotY, Value: int64(Quantize(f.Rotation.Y))},
		{ID: types.ComponentRotW, Value: int64(Quantize(f.Rotation.W))},
	}
}

// Transform is the render-facing view of an entity rebuilt from components.
type Transform struct {
	Position Vec3
	Rotation Rotation
}

// FromComponents rebuilds a Transform from component values looked up by id.
// Missing components read as zero.
func FromComponents(lookup func(types.ComponentID) (int64, bool)) Transform {
	get := func(id types.ComponentID) int64 {
		v, _ := lookup(id)
		return v
	}
	return Transform{
		Position: Vec3{
			X: DequantizePosition(get(types.ComponentPosX)),
			Y: DequantizePosition(get(types.ComponentPosY)),
			Z: DequantizePosition(get(types.ComponentPosZ)),
		},
		Rotation: Rotation{
			Y: Dequantize(clampInt16(get(types.ComponentRotY))),
			W: Dequantize(clampInt16(get(types.ComponentRotW))),
		},
	}
}

func clampInt16(v int64) int16 {
	return int16(max(math.MinInt16, min(math.MaxInt16, v)))
}
