package tick

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/entity-sync/internal/wire"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

func sampleTick() Tick {
	return Tick{
		ServerTime:   1500,
		Removed:      []types.Index{2, 7},
		IndicesCount: 4,
		Components: []ComponentGroup{
			{ID: types.ComponentPosX, DeltaDeltas: []int64{0, -3, 64}},
			{ID: types.ComponentRotW, DeltaDeltas: []int64{1, 0, 0}},
		},
		States: []StateGroup{
			{ID: types.StateAnimation, Updates: []StateUpdate{{Index: 1, Data: []byte{3}}}},
			{ID: types.StateAppearance, Updates: []StateUpdate{{Index: 0, Data: []byte("hat=red")}, {Index: 5, Data: []byte{}}}},
		},
	}
}

func TestMarshal_WireLayout(t *testing.T) {
	tk := Tick{
		ServerTime:   300,
		Removed:      []types.Index{1},
		IndicesCount: 2,
		Components:   []ComponentGroup{{ID: 4, DeltaDeltas: []int64{-1, 1}}},
		States:       []StateGroup{{ID: 1, Updates: []StateUpdate{{Index: 0, Data: []byte{0xAA}}}}},
	}
	want := []byte{
		0xAC, 0x02, // serverTime 300
		0x01, 0x01, // removed [1]
		0x02,                   // indicesCount
		0x01, 0x04, 0x02, 0x01, 0x02, // one group: id 4, [-1, 1] zigzagged
		0x01, 0x01, 0x01, 0x00, 0x01, 0xAA, // one state group: id 1, (0, [AA])
	}
	assert.Equal(t, want, Marshal(tk))
}

func TestRoundTrip(t *testing.T) {
	in := sampleTick()
	out, err := Unmarshal(Marshal(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEmptyTick(t *testing.T) {
	tk := Tick{ServerTime: 9, IndicesCount: 3}
	assert.True(t, tk.Empty())

	b := Marshal(tk)
	assert.Equal(t, []byte{0x09, 0x00, 0x03, 0x00, 0x00}, b)

	out, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, tk, out)
}

func TestUnmarshal_EveryTruncationFails(t *testing.T) {
	b := Marshal(sampleTick())
	for n := 0; n < len(b); n++ {
		_, err := Unmarshal(b[:n])
		require.ErrorIsf(t, err, wire.ErrTruncatedBuffer, "prefix of %d bytes", n)
	}
}

func TestUnmarshal_TrailingBytes(t *testing.T) {
	b := append(Marshal(sampleTick()), 0x00)
	_, err := Unmarshal(b)
	assert.ErrorIs(t, err, ErrTrailingBytes)
}

func TestBootstrap_RoundTrip(t *testing.T) {
	values := []types.ComponentValue{
		{ID: types.ComponentPosX, Value: -12000},
		{ID: types.ComponentRotW, Value: 32767},
	}
	got, err := DecodeBootstrap(EncodeBootstrap(values))
	require.NoError(t, err)
	assert.Equal(t, values, got)

	_, err = DecodeBootstrap([]byte{0x02, 0x00})
	assert.ErrorIs(t, err, wire.ErrTruncatedBuffer)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	in := Snapshot{
		ServerTime: 77,
		Self:       3,
		Components: []types.ComponentID{types.ComponentPosX, types.ComponentPosY},
		States:     []types.StateID{types.StateAnimation},
		Entries: []SnapshotEntry{
			{
				Index:  0,
				Values: []ComponentState{{Value: 100, Delta: 5}, {Value: -4, Delta: 0}},
				States: []StateBlob{{ID: types.StateAnimation, Data: []byte{2}}},
			},
			{
				Index:  2,
				Values: []ComponentState{{Value: 0, Delta: 0}, {Value: 1 << 50, Delta: -(1 << 40)}},
				States: []StateBlob{},
			},
		},
	}
	b, err := MarshalSnapshot(in)
	require.NoError(t, err)

	out, err := UnmarshalSnapshot(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	for n := 0; n < len(b); n++ {
		_, err := UnmarshalSnapshot(b[:n])
		require.ErrorIs(t, err, wire.ErrTruncatedBuffer)
	}
}

func TestSnapshot_ValueCountMismatch(t *testing.T) {
	_, err := MarshalSnapshot(Snapshot{
		Components: []types.ComponentID{types.ComponentPosX},
		Entries:    []SnapshotEntry{{Index: 0}},
	})
	assert.Error(t, err)
}
