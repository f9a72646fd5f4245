package delta

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/entity-sync/internal/wire"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

const posX = types.ComponentPosX

func seeded(t *testing.T, idx types.Index, v int64) (*Encoder, *Decoder) {
	t.Helper()
	enc := NewEncoder([]types.ComponentID{posX})
	dec := NewDecoder([]types.ComponentID{posX})
	require.NoError(t, enc.Seed(posX, idx, v))
	require.NoError(t, dec.Seed(posX, idx, v))
	return enc, dec
}

func TestStepThenReconstruct_ReproducesSequence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	sequences := map[string][]int64{
		"stationary": {5, 5, 5, 5},
		"linear":     {0, 10, 20, 30, 40},
		"zigzag":     {0, 100, -100, 100, -100},
		"extremes":   {math.MaxInt64, math.MinInt64, 0, math.MaxInt64, -1},
	}
	random := make([]int64, 200)
	for i := range random {
		random[i] = rng.Int63() - rng.Int63()
	}
	sequences["random"] = random

	for name, seq := range sequences {
		t.Run(name, func(t *testing.T) {
			enc, dec := seeded(t, 3, 0)
			for _, v := range seq {
				dd, err := enc.Step(posX, 3, v)
				require.NoError(t, err)
				got, err := dec.Step(posX, 3, dd)
				require.NoError(t, err)
				require.Equal(t, v, got)
			}
			e1, _ := enc.Entry(posX, 3)
			e2, _ := dec.Entry(posX, 3)
			assert.Equal(t, e1, e2)
		})
	}
}

func TestConstantIncrement_ZeroAfterSecondTick(t *testing.T) {
	enc, _ := seeded(t, 0, 1_000_000)
	var residuals []int64
	for i := int64(1); i <= 10; i++ {
		dd, err := enc.Step(posX, 0, 1_000_000+i*250)
		require.NoError(t, err)
		residuals = append(residuals, dd)
	}
	assert.Equal(t, int64(250), residuals[0])
	for i, dd := range residuals[1:] {
		assert.Zerof(t, dd, "tick %d", i+2)
	}
}

func TestStep_WithoutBootstrapFails(t *testing.T) {
	enc := NewEncoder([]types.ComponentID{posX})
	_, err := enc.Step(posX, 4, 1)
	assert.ErrorIs(t, err, ErrIndexHistoryMissing)

	dec := NewDecoder([]types.ComponentID{posX})
	_, err = dec.Step(posX, 0, 1)
	assert.ErrorIs(t, err, ErrIndexHistoryMissing)

	_, err = dec.Step(types.ComponentRotW, 0, 1)
	assert.ErrorIs(t, err, ErrUnknownComponent)
}

func TestDropForgetsEveryComponent(t *testing.T) {
	ids := []types.ComponentID{types.ComponentPosX, types.ComponentPosY}
	h := NewHistory(ids)
	for _, id := range ids {
		require.NoError(t, h.Seed(id, 2, 9))
	}
	assert.True(t, h.Has(2))

	h.Drop(2)
	assert.False(t, h.Has(2))
	_, ok := h.Entry(types.ComponentPosY, 2)
	assert.False(t, ok)
}

func TestGroups_AlignWithIndexOrder(t *testing.T) {
	ids := []types.ComponentID{posX}
	enc := NewEncoder(ids)
	dec := NewDecoder(ids)
	indices := []types.Index{0, 1, 5}
	for _, idx := range indices {
		require.NoError(t, enc.Seed(posX, idx, int64(idx)*100))
		require.NoError(t, dec.Seed(posX, idx, int64(idx)*100))
	}

	values := []int64{7, 100, 480}
	dds, err := enc.EncodeGroup(posX, indices, values)
	require.NoError(t, err)

	got, err := dec.DecodeGroup(posX, indices, dds)
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestDecodeGroup_MismatchLeavesHistoryUntouched(t *testing.T) {
	_, dec := seeded(t, 0, 10)

	_, err := dec.DecodeGroup(posX, []types.Index{0}, []int64{1, 2})
	assert.ErrorIs(t, err, ErrIndexHistoryMissing)

	_, err = dec.DecodeGroup(posX, []types.Index{0, 1}, []int64{1, 2})
	assert.ErrorIs(t, err, ErrIndexHistoryMissing)

	e, ok := dec.Entry(posX, 0)
	require.True(t, ok)
	assert.Equal(t, Entry{Value: 10, Valid: true}, e)
}

func TestChanged(t *testing.T) {
	h := NewHistory([]types.ComponentID{posX})
	assert.True(t, h.Changed(posX, 0, 0))
	require.NoError(t, h.Seed(posX, 0, 3))
	assert.False(t, h.Changed(posX, 0, 3))
	assert.True(t, h.Changed(posX, 0, 4))
}

func TestDeltaDeltas_WireLayout(t *testing.T) {
	w := wire.NewWriter(8)
	AppendDeltaDeltas(w, []int64{0, -1, 1, 64})
	assert.Equal(t, []byte{0x04, 0x00, 0x01, 0x02, 0x80, 0x01}, w.Bytes())

	got, err := ReadDeltaDeltas(wire.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []int64{0, -1, 1, 64}, got)

	_, err = ReadDeltaDeltas(wire.NewReader(w.Bytes()[:4]))
	assert.ErrorIs(t, err, wire.ErrTruncatedBuffer)
}
