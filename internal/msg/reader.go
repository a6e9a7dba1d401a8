package msg

import (
	"encoding/binary"

	"github.com/themuffinator/q2repro-test-sub001/internal/proto"
)

// MaxStringLen bounds strings read from the wire.
const MaxStringLen = 2048

// Reader walks a received message. Every read validates the remaining
// length and reports a protocol violation instead of panicking.
type Reader struct {
	data []byte
	off  int
}

// NewReader returns a reader over p.
func NewReader(p []byte) *Reader {
	return &Reader{data: p}
}

// Offset returns the number of bytes consumed.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

func (r *Reader) need(n int, what string) error {
	if r.off+n > len(r.data) {
		return proto.Violation("read "+what, "need %d bytes at offset %d, have %d", n, r.off, len(r.data)-r.off)
	}
	return nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	if err := r.need(1, "byte"); err != nil {
		return 0, err
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.need(2, "short"); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.need(4, "long"); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	if err := r.need(8, "quad"); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

func (r *Reader) ReadVarint() (int64, error) {
	v, n := binary.Varint(r.data[r.off:])
	if n <= 0 {
		return 0, proto.Violation("read varint", "malformed varint at offset %d", r.off)
	}
	r.off += n
	return v, nil
}

func (r *Reader) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.off:])
	if n <= 0 {
		return 0, proto.Violation("read uvarint", "malformed uvarint at offset %d", r.off)
	}
	r.off += n
	return v, nil
}

// ReadString reads a zero-terminated string.
func (r *Reader) ReadString() (string, error) {
	for i := r.off; i < len(r.data); i++ {
		if r.data[i] == 0 {
			if i-r.off > MaxStringLen {
				return "", proto.Violation("read string", "string of %d bytes exceeds %d", i-r.off, MaxStringLen)
			}
			s := string(r.data[r.off:i])
			r.off = i + 1
			return s, nil
		}
	}
	return "", proto.Violation("read string", "unterminated string at offset %d", r.off)
}

// ReadData returns the next n bytes. The slice aliases the message.
func (r *Reader) ReadData(n int) ([]byte, error) {
	if n < 0 {
		return nil, proto.Violation("read data", "negative length %d", n)
	}
	if err := r.need(n, "data"); err != nil {
		return nil, err
	}
	p := r.data[r.off : r.off+n]
	r.off += n
	return p, nil
}
