package tick

import (
	"fmt"

	"github.com/DoyleJ11/entity-sync/internal/wire"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

// ComponentState is one full history entry.
type ComponentState struct {
	Value int64
	Delta int64
}

type StateBlob struct {
	ID   types.StateID
	Data []byte
}

// SnapshotEntry is the full synchronized state of one bootstrapped index.
// Values follow the snapshot's Components order.
type SnapshotEntry struct {
	Index  types.Index
	Values []ComponentState
	States []StateBlob
}

// Snapshot resets a client: its own index, the room's declared channels and
// the complete history of every bootstrapped index as of ServerTime. Ticks
// that follow it on the same connection continue from exactly this state.
type Snapshot struct {
	ServerTime uint64
	Self       types.Index
	Components []types.ComponentID
	States     []types.StateID
	Entries    []SnapshotEntry
}

func EncodeSnapshot(w *wire.Writer, s Snapshot) error {
	w.WriteVarint(s.ServerTime)
	w.WriteVarint(uint64(s.Self))
	w.WriteVarint(uint64(len(s.Components)))
	for _, id := range s.Components {
		w.WriteVarint(uint64(id))
	}
	w.WriteVarint(uint64(len(s.States)))
	for _, id := range s.States {
		w.WriteVarint(uint64(id))
	}
	w.WriteVarint(uint64(len(s.Entries)))
	for _, e := range s.Entries {
		if len(e.Values) != len(s.Components) {
			return fmt.Errorf("tick: snapshot entry %d has %d values for %d components",
				e.Index, len(e.Values), len(s.Components))
		}
		w.WriteVarint(uint64(e.Index))
		for _, v := range e.Values {
			w.WriteZigzag(v.Value)
			w.WriteZigzag(v.Delta)
		}
		w.WriteVarint(uint64(len(e.States)))
		for _, st := range e.States {
			w.WriteVarint(uint64(st.ID))
			w.WriteBytes(st.Data)
		}
	}
	return nil
}

func MarshalSnapshot(s Snapshot) ([]byte, error) {
	w := wire.NewWriter(512)
	if err := EncodeSnapshot(w, s); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func UnmarshalSnapshot(b []byte) (Snapshot, error) {
	r := wire.NewReader(b)
	var s Snapshot
	var err error

	if s.ServerTime, err = r.ReadVarint(); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: server time: %w", err)
	}
	if s.Self, err = readIndex(r); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: self: %w", err)
	}

	n, err := r.ReadLen(1)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: components: %w", err)
	}
	s.Components = make([]types.ComponentID, n)
	for i := range s.Components {
		id, err := r.ReadVarint()
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: components: %w", err)
		}
		s.Components[i] = types.ComponentID(id)
	}

	if n, err = r.ReadLen(1); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: states: %w", err)
	}
	s.States = make([]types.StateID, n)
	for i := range s.States {
		id, err := r.ReadVarint()
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: states: %w", err)
		}
		s.States[i] = types.StateID(id)
	}

	if n, err = r.ReadLen(2 + 2*len(s.Components)); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: entries: %w", err)
	}
	s.Entries = make([]SnapshotEntry, n)
	for i := range s.Entries {
		e := &s.Entries[i]
		if e.Index, err = readIndex(r); err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: entry: %w", err)
		}
		e.Values = make([]ComponentState, len(s.Components))
		for j := range e.Values {
			if e.Values[j].Value, err = r.ReadZigzag(); err != nil {
				return Snapshot{}, fmt.Errorf("snapshot: entry %d: %w", e.Index, err)
			}
			if e.Values[j].Delta, err = r.ReadZigzag(); err != nil {
				return Snapshot{}, fmt.Errorf("snapshot: entry %d: %w", e.Index, err)
			}
		}
		m, err := r.ReadLen(2)
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: entry %d states: %w", e.Index, err)
		}
		e.States = make([]StateBlob, m)
		for j := range e.States {
			id, err := r.ReadVarint()
			if err != nil {
				return Snapshot{}, fmt.Errorf("snapshot: entry %d states: %w", e.Index, err)
			}
			data, err := r.ReadBytes()
			if err != nil {
				return Snapshot{}, fmt.Errorf("snapshot: entry %d states: %w", e.Index, err)
			}
			e.States[j] = StateBlob{ID: types.StateID(id), Data: data}
		}
	}
	if r.Remaining() != 0 {
		return Snapshot{}, fmt.Errorf("snapshot: %w", ErrTrailingBytes)
	}
	return s, nil
}
