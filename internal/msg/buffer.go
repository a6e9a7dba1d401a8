// Package msg implements the size-bounded message buffer used to build
// packets and the validating cursor used to parse them. All multi-byte
// values are little endian.
package msg

import (
	"encoding/binary"
	"math"
)

// Buffer accumulates an outgoing message up to a byte budget. Writes that
// would exceed the budget are discarded and latch Overflowed.
type Buffer struct {
	data       []byte
	max        int
	overflowed bool
}

// NewBuffer returns a buffer that accepts at most max bytes. max <= 0 means
// unbounded.
func NewBuffer(max int) *Buffer {
	capHint := max
	if capHint <= 0 || capHint > 64*1024 {
		capHint = 1024
	}
	return &Buffer{data: make([]byte, 0, capHint), max: max}
}

// Len returns the number of bytes written.
func (b *Buffer) Len() int { return len(b.data) }

// Bytes returns the written bytes. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// Max returns the byte budget.
func (b *Buffer) Max() int { return b.max }

// SetMax changes the byte budget. It does not discard written bytes.
func (b *Buffer) SetMax(max int) { b.max = max }

// Remaining returns how many more bytes fit.
func (b *Buffer) Remaining() int {
	if b.max <= 0 {
		return math.MaxInt32
	}
	if n := b.max - len(b.data); n > 0 {
		return n
	}
	return 0
}

// Overflowed reports whether a write was discarded.
func (b *Buffer) Overflowed() bool { return b.overflowed }

// Reset empties the buffer and clears the overflow latch.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.overflowed = false
}

// Truncate drops everything written after n bytes.
func (b *Buffer) Truncate(n int) {
	if n >= 0 && n < len(b.data) {
		b.data = b.data[:n]
	}
}

func (b *Buffer) fits(n int) bool {
	if b.overflowed {
		return false
	}
	if b.max > 0 && len(b.data)+n > b.max {
		b.overflowed = true
		return false
	}
	return true
}

func (b *Buffer) WriteUint8(v uint8) {
	if b.fits(1) {
		b.data = append(b.data, v)
	}
}

func (b *Buffer) WriteInt8(v int8) { b.WriteUint8(uint8(v)) }

func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteUint8(1)
	} else {
		b.WriteUint8(0)
	}
}

func (b *Buffer) WriteUint16(v uint16) {
	if b.fits(2) {
		b.data = binary.LittleEndian.AppendUint16(b.data, v)
	}
}

func (b *Buffer) WriteInt16(v int16) { b.WriteUint16(uint16(v)) }

func (b *Buffer) WriteUint32(v uint32) {
	if b.fits(4) {
		b.data = binary.LittleEndian.AppendUint32(b.data, v)
	}
}

func (b *Buffer) WriteInt32(v int32) { b.WriteUint32(uint32(v)) }

func (b *Buffer) WriteUint64(v uint64) {
	if b.fits(8) {
		b.data = binary.LittleEndian.AppendUint64(b.data, v)
	}
}

// WriteVarint writes a zig-zag encoded variable-length integer.
func (b *Buffer) WriteVarint(v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	b.WriteData(tmp[:n])
}

// WriteUvarint writes an unsigned variable-length integer.
func (b *Buffer) WriteUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	b.WriteData(tmp[:n])
}

// WriteString writes s followed by a terminating zero byte.
func (b *Buffer) WriteString(s string) {
	if b.fits(len(s) + 1) {
		b.data = append(b.data, s...)
		b.data = append(b.data, 0)
	}
}

// WriteData appends raw bytes.
func (b *Buffer) WriteData(p []byte) {
	if b.fits(len(p)) {
		b.data = append(b.data, p...)
	}
}
