package wire

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZigzag_RoundTripsExtremes(t *testing.T) {
	cases := []int64{0, 1, -1, 2, -2, 63, -64, 1 << 40, -(1 << 40), math.MaxInt64, math.MinInt64}
	for _, n := range cases {
		assert.Equal(t, n, ZigzagDecode(ZigzagEncode(n)), "n=%d", n)
	}
}

func TestZigzag_SmallMagnitudesStaySmall(t *testing.T) {
	assert.Equal(t, uint64(0), ZigzagEncode(0))
	assert.Equal(t, uint64(1), ZigzagEncode(-1))
	assert.Equal(t, uint64(2), ZigzagEncode(1))
	assert.Equal(t, uint64(3), ZigzagEncode(-2))
	assert.Equal(t, uint64(math.MaxUint64), ZigzagEncode(math.MinInt64))
}

func TestWriter_BigEndianPrimitives(t *testing.T) {
	w := NewWriter(0)
	w.WriteUint8(0xAB)
	w.WriteUint16(0x0102)
	w.WriteInt16(-2)
	w.WriteUint32(0x03040506)
	w.WriteFloat32(1)
	w.WriteUint64(0x0708090A0B0C0D0E)

	want := []byte{
		0xAB,
		0x01, 0x02,
		0xFF, 0xFE,
		0x03, 0x04, 0x05, 0x06,
		0x3F, 0x80, 0x00, 0x00,
		0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E,
	}
	assert.Equal(t, want, w.Bytes())
}

func TestWriter_GrowsPastInitialCapacity(t *testing.T) {
	w := NewWriter(1)
	for i := 0; i < 1000; i++ {
		w.WriteUint32(uint32(i))
	}
	require.Equal(t, 4000, w.Len())

	r := NewReader(w.Bytes())
	for i := 0; i < 1000; i++ {
		v, err := r.ReadUint32()
		require.NoError(t, err)
		require.Equal(t, uint32(i), v)
	}
	assert.Zero(t, r.Remaining())
}

func TestVarint_Encoding(t *testing.T) {
	cases := []struct {
		name string
		in   uint64
		want []byte
	}{
		{"zero", 0, []byte{0x00}},
		{"one byte max", 127, []byte{0x7F}},
		{"two bytes", 128, []byte{0x80, 0x01}},
		{"300", 300, []byte{0xAC, 0x02}},
		{"max", math.MaxUint64, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := NewWriter(0)
			w.WriteVarint(tc.in)
			assert.Equal(t, tc.want, w.Bytes())

			got, err := NewReader(tc.want).ReadVarint()
			require.NoError(t, err)
			assert.Equal(t, tc.in, got)
		})
	}
}

func TestReader_TruncatedReadsFail(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02, 0x03})

	_, err := r.ReadUint32()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTruncatedBuffer))

	var te *TruncatedBufferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 0, te.Offset)
	assert.Equal(t, 4, te.Want)
	assert.Equal(t, 3, te.Available)

	// cursor unchanged after a failed read
	v, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), v)
}

func TestReader_TruncatedVarint(t *testing.T) {
	_, err := NewReader([]byte{0x80, 0x80}).ReadVarint()
	assert.ErrorIs(t, err, ErrTruncatedBuffer)

	_, err = NewReader(nil).ReadVarint()
	assert.ErrorIs(t, err, ErrTruncatedBuffer)
}

func TestReader_VarintOverflow(t *testing.T) {
	b := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}
	_, err := NewReader(b).ReadVarint()
	assert.ErrorIs(t, err, ErrVarintOverflow)
}

func TestBytes_LengthPrefixed(t *testing.T) {
	w := NewWriter(0)
	w.WriteBytes([]byte("hello"))
	w.WriteBytes(nil)

	r := NewReader(w.Bytes())
	b, err := r.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)

	b, err = r.ReadBytes()
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestBytes_LengthBeyondBufferIsTruncated(t *testing.T) {
	_, err := NewReader([]byte{0x05, 'a', 'b'}).ReadBytes()
	assert.ErrorIs(t, err, ErrTruncatedBuffer)
}

func TestReadLen_RejectsImpossibleCounts(t *testing.T) {
	w := NewWriter(0)
	w.WriteVarint(1 << 40)
	_, err := NewReader(w.Bytes()).ReadLen(1)
	assert.ErrorIs(t, err, ErrTruncatedBuffer)

	n, err := NewReader([]byte{0x02, 0x00, 0x00}).ReadLen(1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSignedAndFloatRoundTrip(t *testing.T) {
	w := NewWriter(0)
	w.WriteInt8(-5)
	w.WriteInt32(math.MinInt32)
	w.WriteInt64(math.MinInt64)
	w.WriteFloat32(-math.MaxFloat32)
	w.WriteZigzag(-300)

	r := NewReader(w.Bytes())
	i8, err := r.ReadInt8()
	require.NoError(t, err)
	assert.Equal(t, int8(-5), i8)
	i32, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(math.MinInt32), i32)
	i64, err := r.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), i64)
	f, err := r.ReadFloat32()
	require.NoError(t, err)
	assert.Equal(t, float32(-math.MaxFloat32), f)
	z, err := r.ReadZigzag()
	require.NoError(t, err)
	assert.Equal(t, int64(-300), z)
}
