package codec

import (
	"errors"
	"fmt"
	"math"
)

// ErrShortBuffer is reported by a Reader that was asked for more bytes than
// remain.
var ErrShortBuffer = errors.New("codec: short buffer")

// Reader decodes fields from a byte slice, tracking a read cursor. A read past
// the end returns the zero value and records a sticky error; all later reads
// also return zero values. Decoders read every field and check Err once.
type Reader struct {
	buf []byte
	pos int
	err error
}

// NewReader returns a Reader positioned at the start of buf. The Reader
// aliases buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the read cursor.
func (r *Reader) Pos() int { return r.pos }

// Len returns the total length of the underlying buffer.
func (r *Reader) Len() int { return len(r.buf) }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Err returns the first short-read error, if any.
func (r *Reader) Err() error { return r.err }

// Bytes returns the underlying buffer.
func (r *Reader) Bytes() []byte { return r.buf }

// Next consumes n bytes and returns them without copying. On a short read it
// returns nil.
func (r *Reader) Next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.Remaining() {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.pos, r.Remaining())
		r.pos = len(r.buf)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) *Reader {
	r.Next(n)
	return r
}

// Byte reads one byte.
func (r *Reader) Byte() byte {
	b := r.Next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Int8 reads a signed byte.
func (r *Reader) Int8() int8 { return int8(r.Byte()) }

// Bool reads a byte and reports whether it is non-zero.
func (r *Reader) Bool() bool { return r.Byte() != 0 }

// Uint16 reads a uint16.
func (r *Reader) Uint16() uint16 {
	b := r.Next(2)
	if b == nil {
		return 0
	}
	return order.Uint16(b)
}

// Int16 reads an int16.
func (r *Reader) Int16() int16 { return int16(r.Uint16()) }

// Uint32 reads a uint32.
func (r *Reader) Uint32() uint32 {
	b := r.Next(4)
	if b == nil {
		return 0
	}
	return order.Uint32(b)
}

// Int32 reads an int32.
func (r *Reader) Int32() int32 { return int32(r.Uint32()) }

// Uint64 reads a uint64.
func (r *Reader) Uint64() uint64 {
	b := r.Next(8)
	if b == nil {
		return 0
	}
	return order.Uint64(b)
}

// Int64 reads an int64.
func (r *Reader) Int64() int64 { return int64(r.Uint64()) }

// Float32 reads an IEEE-754 float32.
func (r *Reader) Float32() float32 { return math.Float32frombits(r.Uint32()) }

// ReadBytes copies exactly len(dst) bytes into dst.
func (r *Reader) ReadBytes(dst []byte) *Reader {
	if b := r.Next(len(dst)); b != nil {
		copy(dst, b)
	}
	return r
}

// ReadString reads a [u8 length][utf-8 bytes] string.
func (r *Reader) ReadString() string {
	n := int(r.Byte())
	return string(r.Next(n))
}

// Vec2 reads a two-component float vector.
func (r *Reader) Vec2() Vec2 {
	return Vec2{X: r.Float32(), Y: r.Float32()}
}

// Vec3 reads a three-component float vector.
func (r *Reader) Vec3() Vec3 {
	return Vec3{X: r.Float32(), Y: r.Float32(), Z: r.Float32()}
}

// Vec4 reads a four-component float vector.
func (r *Reader) Vec4() Vec4 {
	return Vec4{X: r.Float32(), Y: r.Float32(), Z: r.Float32(), W: r.Float32()}
}
