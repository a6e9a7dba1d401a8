// Package codec implements the field-level delta encoding of entity and
// player state under the legacy and extended wire profiles.
//
// States are first packed into integer wire values. Deltas are computed and
// applied on packed values, so decoding an encoded state reproduces the
// quantized state exactly.
package codec

import (
	"math"

	"github.com/themuffinator/q2repro-test-sub001/internal/msg"
	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
)

const (
	// extended coordinates are kept inside float32's exact integer range
	coordMaxExtended = 1<<23 - 1
)

func quant(f float32, scale float64, lo, hi int64) int32 {
	x := math.Round(float64(f) * scale)
	switch {
	case math.IsNaN(x):
		return 0
	case x < float64(lo):
		return int32(lo)
	case x > float64(hi):
		return int32(hi)
	}
	return int32(x)
}

func wrap(f float32, steps float64) int32 {
	x := math.Round(float64(f) * steps / 360)
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	m := math.Mod(x, steps)
	if m < 0 {
		m += steps
	}
	return int32(m)
}

func packCoord(f float32, p proto.Profile) int32 {
	if p == proto.ProfileExtended {
		return quant(f, 16, -coordMaxExtended, coordMaxExtended)
	}
	return quant(f, 8, math.MinInt16, math.MaxInt16)
}

func unpackCoord(v int32, p proto.Profile) float32 {
	if p == proto.ProfileExtended {
		return float32(v) / 16
	}
	return float32(v) / 8
}

func packAngle(f float32, p proto.Profile) int32 {
	if p == proto.ProfileExtended {
		return wrap(f, 65536)
	}
	return wrap(f, 256)
}

func unpackAngle(v int32, p proto.Profile) float32 {
	if p == proto.ProfileExtended {
		return float32(int16(v)) * (360.0 / 65536)
	}
	return float32(int8(v)) * (360.0 / 256)
}

// angle16 is the short angle used by the player state in both profiles.
func packAngle16(f float32) int32    { return wrap(f, 65536) }
func unpackAngle16(v int32) float32 { return float32(int16(v)) * (360.0 / 65536) }

func writeCoord(b *msg.Buffer, v int32, p proto.Profile) {
	if p == proto.ProfileExtended {
		b.WriteVarint(int64(v))
		return
	}
	b.WriteInt16(int16(v))
}

func readCoord(r *msg.Reader, p proto.Profile) (int32, error) {
	if p == proto.ProfileExtended {
		v, err := r.ReadVarint()
		if err != nil {
			return 0, err
		}
		if v < -coordMaxExtended || v > coordMaxExtended {
			return 0, proto.Violation("coord", "value %d out of range", v)
		}
		return int32(v), nil
	}
	v, err := r.ReadInt16()
	return int32(v), err
}

func writeAngle(b *msg.Buffer, v int32, p proto.Profile) {
	if p == proto.ProfileExtended {
		b.WriteUint16(uint16(v))
		return
	}
	b.WriteUint8(uint8(v))
}

func readAngle(r *msg.Reader, p proto.Profile) (int32, error) {
	if p == proto.ProfileExtended {
		v, err := r.ReadUint16()
		return int32(v), err
	}
	v, err := r.ReadUint8()
	return int32(v), err
}

func clampByte(v int32) int32 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
