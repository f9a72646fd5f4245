// Package wire implements the byte cursor every message of the sync protocol
// is built on: a growable big-endian writer, a bounds-checked reader, LEB128
// varints and zigzag mapping for signed values.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrTruncatedBuffer = errors.New("wire: truncated buffer")
	ErrVarintOverflow  = errors.New("wire: varint overflows 64 bits")
)

// TruncatedBufferError reports a read that would run past the end of the
// buffer. It matches ErrTruncatedBuffer with errors.Is.
type TruncatedBufferError struct {
	Offset    int
	Want      int
	Available int
}

func (e *TruncatedBufferError) Error() string {
	return fmt.Sprintf("wire: truncated buffer at offset %d: want %d bytes, have %d",
		e.Offset, e.Want, e.Available)
}

func (e *TruncatedBufferError) Is(target error) bool { return target == ErrTruncatedBuffer }

// ZigzagEncode maps signed integers onto unsigned ones so that values of
// small magnitude, positive or negative, produce short varints.
func ZigzagEncode(n int64) uint64 {
	return uint64((n << 1) ^ (n >> 63))
}

// ZigzagDecode is the exact inverse of ZigzagEncode.
func ZigzagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

const minWriterCap = 64

// Writer accumulates big-endian encoded values in a growable buffer.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	if capacity < minWriterCap {
		capacity = minWriterCap
	}
	return &Writer{buf: make([]byte, 0, capacity)}
}

// grow makes room for n more bytes, doubling the backing array as needed.
func (w *Writer) grow(n int) {
	if cap(w.buf)-len(w.buf) >= n {
		return
	}
	newCap := cap(w.buf) * 2
	if newCap < minWriterCap {
		newCap = minWriterCap
	}
	for newCap-len(w.buf) < n {
		newCap *= 2
	}
	next := make([]byte, len(w.buf), newCap)
	copy(next, w.buf)
	w.buf = next
}

// Bytes returns the written bytes. The slice aliases the writer's buffer
// until the next write or Reset.
func (w *Writer) Bytes() []byte { return w.buf[:len(w.buf):len(w.buf)] }

func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) Reset() { w.buf = w.buf[:0] }

func (w *Writer) WriteUint8(v uint8) {
	w.grow(1)
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteUint16(v uint16) {
	w.grow(2)
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteUint32(v uint32) {
	w.grow(4)
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteUint64(v uint64) {
	w.grow(8)
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteInt8(v int8)   { w.WriteUint8(uint8(v)) }
func (w *Writer) WriteInt16(v int16) { w.WriteUint16(uint16(v)) }
func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }
func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }

// WriteVarint writes v as unsigned LEB128: seven bits per byte, high bit set
// on every byte but the last.
func (w *Writer) WriteVarint(v uint64) {
	w.grow(binary.MaxVarintLen64)
	w.buf = binary.AppendUvarint(w.buf, v)
}

// WriteZigzag writes a signed value as a zigzag-mapped varint.
func (w *Writer) WriteZigzag(v int64) { w.WriteVarint(ZigzagEncode(v)) }

// WriteRaw appends b without a length prefix.
func (w *Writer) WriteRaw(b []byte) {
	w.grow(len(b))
	w.buf = append(w.buf, b...)
}

// WriteBytes writes a varint length prefix followed by b.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteVarint(uint64(len(b)))
	w.WriteRaw(b)
}

// Reader decodes values written by Writer. Every read that would pass the
// end of the buffer fails with ErrTruncatedBuffer and leaves the cursor
// unchanged.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Offset() int    { return r.off }
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, &TruncatedBufferError{Offset: r.off, Want: n, Available: r.Remaining()}
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadVarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	switch {
	case n == 0:
		return 0, &TruncatedBufferError{Offset: r.off, Want: r.Remaining() + 1, Available: r.Remaining()}
	case n < 0:
		return 0, fmt.Errorf("%w at offset %d", ErrVarintOverflow, r.off)
	}
	r.off += n
	return v, nil
}

func (r *Reader) ReadZigzag() (int64, error) {
	u, err := r.ReadVarint()
	if err != nil {
		return 0, err
	}
	return ZigzagDecode(u), nil
}

// ReadRaw returns the next n bytes. The slice aliases the reader's buffer.
func (r *Reader) ReadRaw(n int) ([]byte, error) { return r.take(n) }

// ReadBytes reads a varint length prefix and returns a copy of that many
// bytes.
func (r *Reader) ReadBytes() ([]byte, error) {
	start := r.off
	n, err := r.ReadVarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Remaining()) {
		avail := r.Remaining()
		r.off = start
		return nil, &TruncatedBufferError{Offset: start, Want: int(min(n, math.MaxInt32)), Available: avail}
	}
	b, _ := r.take(int(n))
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadLen reads a varint list length and checks it against the bytes left,
// given each element takes at least minElemSize bytes.
func (r *Reader) ReadLen(minElemSize int) (int, error) {
	start := r.off
	n, err := r.ReadVarint()
	if err != nil {
		return 0, err
	}
	if minElemSize < 1 {
		minElemSize = 1
	}
	if n > uint64(r.Remaining()/minElemSize) {
		avail := r.Remaining()
		r.off = start
		return 0, &TruncatedBufferError{Offset: start, Want: int(min(n, math.MaxInt32)), Available: avail}
	}
	return int(n), nil
}
