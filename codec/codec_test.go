package codec

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReader_RoundTrip(t *testing.T) {
	w := NewWriter(128)
	w.PutByte(0xAB).
		PutInt8(-5).
		PutBool(true).
		PutBool(false).
		PutInt16(-1234).
		PutUint16(65000).
		PutInt32(-123456789).
		PutUint32(math.MaxUint32).
		PutInt64(math.MinInt64).
		PutUint64(math.MaxUint64).
		PutFloat32(3.25).
		PutBytes([]byte{1, 2, 3}, 5).
		PutString("héllo").
		PutVec2(Vec2{1, 2}).
		PutVec3(Vec3{3, 4, 5}).
		PutVec4(Vec4{6, 7, 8, 9})

	r := NewReader(w.Bytes())
	assert.Equal(t, byte(0xAB), r.Byte())
	assert.Equal(t, int8(-5), r.Int8())
	assert.True(t, r.Bool())
	assert.False(t, r.Bool())
	assert.Equal(t, int16(-1234), r.Int16())
	assert.Equal(t, uint16(65000), r.Uint16())
	assert.Equal(t, int32(-123456789), r.Int32())
	assert.Equal(t, uint32(math.MaxUint32), r.Uint32())
	assert.Equal(t, int64(math.MinInt64), r.Int64())
	assert.Equal(t, uint64(math.MaxUint64), r.Uint64())
	assert.Equal(t, float32(3.25), r.Float32())

	fixed := make([]byte, 5)
	r.ReadBytes(fixed)
	assert.Equal(t, []byte{1, 2, 3, 0, 0}, fixed)

	assert.Equal(t, "héllo", r.ReadString())
	assert.Equal(t, Vec2{1, 2}, r.Vec2())
	assert.Equal(t, Vec3{3, 4, 5}, r.Vec3())
	assert.Equal(t, Vec4{6, 7, 8, 9}, r.Vec4())

	require.NoError(t, r.Err())
	assert.Equal(t, w.Len(), r.Pos())
	assert.Zero(t, r.Remaining())
}

func TestWriter_Lengths(t *testing.T) {
	w := NewWriter(16)
	assert.Equal(t, 16, w.Cap())
	assert.Equal(t, 0, w.Len())

	w.PutUint32(1).PutInt16(2).PutByte(3)
	assert.Equal(t, 7, w.Len())
	assert.Equal(t, 9, w.Free())

	w.Reset()
	assert.Equal(t, 0, w.Len())
	assert.Empty(t, w.Bytes())
}

func TestWriter_PutBytesTruncates(t *testing.T) {
	w := NewWriter(4)
	w.PutBytes([]byte{9, 8, 7, 6, 5}, 4)
	assert.Equal(t, []byte{9, 8, 7, 6}, w.Bytes())
}

func TestWriter_Overflow(t *testing.T) {
	t.Run("numeric field past capacity panics", func(t *testing.T) {
		w := NewWriter(3)
		w.PutByte(1)

		defer func() {
			rec := recover()
			require.NotNil(t, rec)
			err, ok := rec.(error)
			require.True(t, ok)
			assert.ErrorIs(t, err, ErrOverflow)
			assert.Equal(t, 1, w.Len())
		}()
		w.PutUint32(7)
	})

	t.Run("exact fit does not panic", func(t *testing.T) {
		w := NewWriter(4)
		assert.NotPanics(t, func() { w.PutUint32(7) })
		assert.Zero(t, w.Free())
	})

	t.Run("string over 255 bytes panics", func(t *testing.T) {
		w := NewWriter(512)
		assert.Panics(t, func() { w.PutString(strings.Repeat("x", 256)) })
	})
}

func TestReader_ShortBufferIsSticky(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})

	assert.Equal(t, byte(1), r.Byte())
	assert.Zero(t, r.Uint32())
	require.Error(t, r.Err())
	assert.True(t, errors.Is(r.Err(), ErrShortBuffer))

	// Later reads keep failing even if they would fit.
	assert.Zero(t, r.Byte())
	assert.Nil(t, r.Next(0))
	assert.Equal(t, 3, r.Pos())
}

func TestReader_StringLengthPastEnd(t *testing.T) {
	r := NewReader([]byte{10, 'a', 'b'})
	assert.Empty(t, r.ReadString())
	assert.ErrorIs(t, r.Err(), ErrShortBuffer)
}

func TestReader_Skip(t *testing.T) {
	w := NewWriter(8)
	w.PutByte(1).PutByte(2).PutInt16(300)

	r := NewReader(w.Bytes()).Skip(2)
	assert.Equal(t, int16(300), r.Int16())
	assert.NoError(t, r.Err())
}

func TestChecksum(t *testing.T) {
	t.Run("empty buffer sums to zero", func(t *testing.T) {
		assert.Equal(t, uint32(0), Checksum(nil))
	})

	t.Run("matches the closed form", func(t *testing.T) {
		buf := []byte{0, 1, 255}
		want := uint32(64548*3 + (0+1+255)*6597)
		assert.Equal(t, want, Checksum(buf))
	})

	t.Run("wraps modulo 2^32", func(t *testing.T) {
		buf := make([]byte, 4096)
		for i := range buf {
			buf[i] = 255
		}
		var want uint64
		for range buf {
			want += 64548 + 255*6597
		}
		assert.Equal(t, uint32(want%(1<<32)), Checksum(buf))
	})

	t.Run("equal inputs give equal sums", func(t *testing.T) {
		a := []byte("plankton")
		b := []byte("plankton")
		assert.Equal(t, Checksum(a), Checksum(b))
	})

	t.Run("changing a byte changes the sum", func(t *testing.T) {
		a := []byte{1, 2, 3, 4}
		b := []byte{1, 2, 9, 4}
		assert.NotEqual(t, Checksum(a), Checksum(b))
	})

	t.Run("length is part of the input", func(t *testing.T) {
		assert.NotEqual(t, Checksum([]byte{0}), Checksum([]byte{0, 0}))
	})
}

func TestVerifyChecksum(t *testing.T) {
	w := NewWriter(16)
	w.PutByte(2).PutUint32(42).PutChecksum()

	assert.True(t, VerifyChecksum(w.Bytes(), 5))

	tampered := append([]byte(nil), w.Bytes()...)
	tampered[1] ^= 0xFF
	assert.False(t, VerifyChecksum(tampered, 5))

	assert.False(t, VerifyChecksum(w.Bytes()[:6], 5))
}
