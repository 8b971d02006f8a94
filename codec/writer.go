// Package codec encodes and decodes the fixed-layout binary fields of the
// plankton protocol into pre-allocated buffers.
//
// Numeric fields use the host's native byte order; no wire-endianness
// normalization is performed. Both ends must be built for the same byte
// order.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var order = binary.NativeEndian

// ErrOverflow is the panic value (wrapped) raised when a Writer runs past its
// capacity.
var ErrOverflow = errors.New("codec: buffer overflow")

// Writer appends fields to a fixed-capacity buffer. The capacity is set at
// construction and never grows. Every Put method returns the Writer so fields
// can be chained in protocol order.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	buf    []byte
	length int
}

// NewWriter allocates a Writer with the given capacity.
//
// Parameters:
//   - capacity: Fixed buffer size in bytes
//
// Returns:
//   - A new, empty Writer
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, capacity)}
}

// Reset rewinds the writer to an empty buffer and returns it.
func (w *Writer) Reset() *Writer {
	w.length = 0
	return w
}

// Bytes returns the written portion of the buffer. The slice aliases the
// writer's storage and is only valid until the next Reset.
func (w *Writer) Bytes() []byte { return w.buf[:w.length] }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return w.length }

// Cap returns the fixed capacity.
func (w *Writer) Cap() int { return len(w.buf) }

// Free returns the number of bytes that can still be written.
func (w *Writer) Free() int { return len(w.buf) - w.length }

func (w *Writer) grow(n int) []byte {
	if n > w.Free() {
		panic(fmt.Errorf("%w: need %d bytes at offset %d, capacity %d", ErrOverflow, n, w.length, len(w.buf)))
	}
	b := w.buf[w.length : w.length+n]
	w.length += n
	return b
}

// PutByte appends one byte.
func (w *Writer) PutByte(v byte) *Writer {
	w.grow(1)[0] = v
	return w
}

// PutInt8 appends a signed byte.
func (w *Writer) PutInt8(v int8) *Writer {
	return w.PutByte(byte(v))
}

// PutBool appends a bool as 0 or 1.
func (w *Writer) PutBool(v bool) *Writer {
	if v {
		return w.PutByte(1)
	}
	return w.PutByte(0)
}

// PutUint16 appends a uint16.
func (w *Writer) PutUint16(v uint16) *Writer {
	order.PutUint16(w.grow(2), v)
	return w
}

// PutInt16 appends an int16.
func (w *Writer) PutInt16(v int16) *Writer {
	return w.PutUint16(uint16(v))
}

// PutUint32 appends a uint32.
func (w *Writer) PutUint32(v uint32) *Writer {
	order.PutUint32(w.grow(4), v)
	return w
}

// PutInt32 appends an int32.
func (w *Writer) PutInt32(v int32) *Writer {
	return w.PutUint32(uint32(v))
}

// PutUint64 appends a uint64.
func (w *Writer) PutUint64(v uint64) *Writer {
	order.PutUint64(w.grow(8), v)
	return w
}

// PutInt64 appends an int64.
func (w *Writer) PutInt64(v int64) *Writer {
	return w.PutUint64(uint64(v))
}

// PutFloat32 appends an IEEE-754 float32.
func (w *Writer) PutFloat32(v float32) *Writer {
	return w.PutUint32(math.Float32bits(v))
}

// PutBytes appends exactly n bytes taken from b. Shorter input is zero padded
// and longer input is truncated.
func (w *Writer) PutBytes(b []byte, n int) *Writer {
	dst := w.grow(n)
	c := copy(dst, b)
	clear(dst[c:])
	return w
}

// PutString appends s as [u8 length][utf-8 bytes]. Strings longer than 255
// bytes cannot be represented and cause a panic wrapping ErrOverflow.
func (w *Writer) PutString(s string) *Writer {
	if len(s) > math.MaxUint8 {
		panic(fmt.Errorf("%w: string of %d bytes exceeds 255", ErrOverflow, len(s)))
	}
	w.PutByte(byte(len(s)))
	copy(w.grow(len(s)), s)
	return w
}

// PutVec2 appends a two-component float vector.
func (w *Writer) PutVec2(v Vec2) *Writer {
	return w.PutFloat32(v.X).PutFloat32(v.Y)
}

// PutVec3 appends a three-component float vector.
func (w *Writer) PutVec3(v Vec3) *Writer {
	return w.PutFloat32(v.X).PutFloat32(v.Y).PutFloat32(v.Z)
}

// PutVec4 appends a four-component float vector.
func (w *Writer) PutVec4(v Vec4) *Writer {
	return w.PutFloat32(v.X).PutFloat32(v.Y).PutFloat32(v.Z).PutFloat32(v.W)
}

// PutChecksum appends the checksum of everything written so far.
func (w *Writer) PutChecksum() *Writer {
	return w.PutUint32(Checksum(w.Bytes()))
}
