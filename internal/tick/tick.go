// Package tick defines the batched synchronization message a server emits
// once per interval, and the snapshot a client receives on join or resync.
//
// Tick wire layout, all integers varint unless noted:
//
//	serverTime
//	count, removedIndex...
//	indicesCount
//	count, (componentId, count, zigzag deltaDelta...)...
//	count, (stateId, count, (index, len, bytes)...)...
//
// A component or state absent from a tick is unchanged for every index.
// Component residuals are aligned with the receiver's bootstrapped indices in
// ascending order.
package tick

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/entity-sync/internal/delta"
	"github.com/DoyleJ11/entity-sync/internal/wire"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

var ErrTrailingBytes = errors.New("tick: trailing bytes after message")

type ComponentGroup struct {
	ID          types.ComponentID
	DeltaDeltas []int64
}

type StateUpdate struct {
	Index types.Index
	Data  []byte
}

type StateGroup struct {
	ID      types.StateID
	Updates []StateUpdate
}

type Tick struct {
	ServerTime   uint64
	Removed      []types.Index
	IndicesCount uint32
	Components   []ComponentGroup
	States       []StateGroup
}

// Empty reports whether the tick carries nothing but its time and count.
func (t Tick) Empty() bool {
	return len(t.Removed) == 0 && len(t.Components) == 0 && len(t.States) == 0
}

func Encode(w *wire.Writer, t Tick) {
	w.WriteVarint(t.ServerTime)
	w.WriteVarint(uint64(len(t.Removed)))
	for _, idx := range t.Removed {
		w.WriteVarint(uint64(idx))
	}
	w.WriteVarint(uint64(t.IndicesCount))
	w.WriteVarint(uint64(len(t.Components)))
	for _, g := range t.Components {
		w.WriteVarint(uint64(g.ID))
		delta.AppendDeltaDeltas(w, g.DeltaDeltas)
	}
	w.WriteVarint(uint64(len(t.States)))
	for _, g := range t.States {
		w.WriteVarint(uint64(g.ID))
		w.WriteVarint(uint64(len(g.Updates)))
		for _, u := range g.Updates {
			w.WriteVarint(uint64(u.Index))
			w.WriteBytes(u.Data)
		}
	}
}

func Marshal(t Tick) []byte {
	w := wire.NewWriter(256)
	Encode(w, t)
	return w.Bytes()
}

// Unmarshal decodes a complete tick. Any truncation fails the whole message;
// callers must not apply a partially decoded tick.
func Unmarshal(b []byte) (Tick, error) {
	r := wire.NewReader(b)
	t, err := Decode(r)
	if err != nil {
		return Tick{}, err
	}
	if r.Remaining() != 0 {
		return Tick{}, fmt.Errorf("%w: %d", ErrTrailingBytes, r.Remaining())
	}
	return t, nil
}

func Decode(r *wire.Reader) (Tick, error) {
	var t Tick
	var err error

	if t.ServerTime, err = r.ReadVarint(); err != nil {
		return Tick{}, fmt.Errorf("tick: server time: %w", err)
	}

	n, err := r.ReadLen(1)
	if err != nil {
		return Tick{}, fmt.Errorf("tick: removed: %w", err)
	}
	if n > 0 {
		t.Removed = make([]types.Index, n)
		for i := range t.Removed {
			if t.Removed[i], err = readIndex(r); err != nil {
				return Tick{}, fmt.Errorf("tick: removed: %w", err)
			}
		}
	}

	count, err := r.ReadVarint()
	if err != nil {
		return Tick{}, fmt.Errorf("tick: indices count: %w", err)
	}
	t.IndicesCount = uint32(count)

	if n, err = r.ReadLen(2); err != nil {
		return Tick{}, fmt.Errorf("tick: components: %w", err)
	}
	if n > 0 {
		t.Components = make([]ComponentGroup, n)
	}
	for i := range t.Components {
		id, err := r.ReadVarint()
		if err != nil {
			return Tick{}, fmt.Errorf("tick: component id: %w", err)
		}
		dds, err := delta.ReadDeltaDeltas(r)
		if err != nil {
			return Tick{}, fmt.Errorf("tick: component %d: %w", id, err)
		}
		t.Components[i] = ComponentGroup{ID: types.ComponentID(id), DeltaDeltas: dds}
	}

	if n, err = r.ReadLen(2); err != nil {
		return Tick{}, fmt.Errorf("tick: states: %w", err)
	}
	if n > 0 {
		t.States = make([]StateGroup, n)
	}
	for i := range t.States {
		id, err := r.ReadVarint()
		if err != nil {
			return Tick{}, fmt.Errorf("tick: state id: %w", err)
		}
		m, err := r.ReadLen(2)
		if err != nil {
			return Tick{}, fmt.Errorf("tick: state %d: %w", id, err)
		}
		updates := make([]StateUpdate, m)
		for j := range updates {
			if updates[j].Index, err = readIndex(r); err != nil {
				return Tick{}, fmt.Errorf("tick: state %d: %w", id, err)
			}
			if updates[j].Data, err = r.ReadBytes(); err != nil {
				return Tick{}, fmt.Errorf("tick: state %d: %w", id, err)
			}
		}
		t.States[i] = StateGroup{ID: types.StateID(id), Updates: updates}
	}
	return t, nil
}

func readIndex(r *wire.Reader) (types.Index, error) {
	v, err := r.ReadVarint()
	if err != nil {
		return 0, err
	}
	if v > uint64(^types.Index(0)) {
		return 0, fmt.Errorf("tick: index %d out of range", v)
	}
	return types.Index(v), nil
}

// EncodeBootstrap builds the reserved bootstrap state blob: the absolute
// component values of a newly joined index.
func EncodeBootstrap(values []types.ComponentValue) []byte {
	w := wire.NewWriter(1 + 4*len(values))
	w.WriteVarint(uint64(len(values)))
	for _, v := range values {
		w.WriteVarint(uint64(v.ID))
		w.WriteZigzag(v.Value)
	}
	return w.Bytes()
}

func DecodeBootstrap(b []byte) ([]types.ComponentValue, error) {
	r := wire.NewReader(b)
	n, err := r.ReadLen(2)
	if err != nil {
		return nil, fmt.Errorf("tick: bootstrap: %w", err)
	}
	out := make([]types.ComponentValue, n)
	for i := range out {
		id, err := r.ReadVarint()
		if err != nil {
			return nil, fmt.Errorf("tick: bootstrap: %w", err)
		}
		v, err := r.ReadZigzag()
		if err != nil {
			return nil, fmt.Errorf("tick: bootstrap: %w", err)
		}
		out[i] = types.ComponentValue{ID: types.ComponentID(id), Value: v}
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("tick: bootstrap: %w", ErrTrailingBytes)
	}
	return out, nil
}
