package session

import (
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/entity-sync/internal/envelope"
	"github.com/DoyleJ11/entity-sync/internal/tick"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

var ErrOutboxFull = errors.New("session: client outbox full")

// step builds one tick from the current table and broadcasts it.
func (s *Session) step() tick.Tick {
	tk := s.buildTick()
	s.ticks++

	msg, err := s.cfg.Packer.Pack(envelope.KindTick, tick.Marshal(tk))
	if err != nil {
		s.log.Error("pack tick", zap.Error(err))
		return tk
	}
	s.broadcast(msg)
	return tk
}

func (s *Session) nextServerTime() uint64 {
	t := uint64(max(s.now().Sub(s.start).Milliseconds(), 0))
	if t <= s.serverTime {
		t = s.serverTime + 1
	}
	s.serverTime = t
	return t
}

func (s *Session) buildTick() tick.Tick {
	cat := s.table.Catalog()
	tk := tick.Tick{
		ServerTime: s.nextServerTime(),
		Removed:    s.alloc.Flush(),
	}
	tk.IndicesCount = uint32(s.alloc.Count())

	// Component groups cover indices whose bootstrap already went out, so
	// sender and receivers integrate the same set in the same order.
	synced := s.table.Synced()
	values := make([]int64, len(synced))
	for slot, id := range cat.Components {
		changed := false
		for i, idx := range synced {
			e, _ := s.table.Get(idx)
			values[i] = e.Observed[slot]
			if s.enc.Changed(id, idx, values[i]) {
				changed = true
			}
		}
		if !changed {
			continue
		}
		dds, err := s.enc.EncodeGroup(id, synced, values)
		if err != nil {
			// synced indices are always seeded
			s.log.Error("encode component group", zap.Uint32("component", uint32(id)), zap.Error(err))
			continue
		}
		tk.Components = append(tk.Components, tick.ComponentGroup{ID: id, DeltaDeltas: dds})
	}

	// Joiners: seed the history with their current values and ship those
	// values as the bootstrap state. Bootstrap precedes every other state
	// group so receivers know the index before its blobs arrive.
	var boot []tick.StateUpdate
	for _, idx := range s.table.Joining() {
		vals := s.table.Values(idx)
		for _, cv := range vals {
			_ = s.enc.Seed(cv.ID, idx, cv.Value)
		}
		e, _ := s.table.Get(idx)
		e.Synced = true
		boot = append(boot, tick.StateUpdate{Index: idx, Data: tick.EncodeBootstrap(vals)})
	}
	if len(boot) > 0 {
		tk.States = append(tk.States, tick.StateGroup{ID: types.StateBootstrap, Updates: boot})
	}

	updates := make([][]tick.StateUpdate, len(cat.States))
	for _, idx := range s.alloc.Live() {
		e, ok := s.table.Get(idx)
		if !ok {
			continue
		}
		for _, slot := range e.TakeDirty() {
			updates[slot] = append(updates[slot], tick.StateUpdate{Index: idx, Data: e.States[slot]})
		}
	}
	for slot, id := range cat.States {
		if len(updates[slot]) > 0 {
			tk.States = append(tk.States, tick.StateGroup{ID: id, Updates: updates[slot]})
		}
	}
	return tk
}

// broadcast hands msg to every client. A client whose outbox is full is slow
// and gets dropped; its index is released like any other leave.
func (s *Session) broadcast(msg []byte) {
	var slow []types.Index
	for idx, c := range s.clients {
		select {
		case c.outbox <- msg:
			//ok
		default:
			slow = append(slow, idx)
		}
	}
	for _, idx := range slow {
		s.leave(idx, "slow consumer")
	}
}

func (s *Session) snapshot(self types.Index) tick.Snapshot {
	cat := s.table.Catalog()
	snap := tick.Snapshot{
		ServerTime: s.serverTime,
		Self:       self,
		Components: cat.Components,
		States:     cat.States,
	}
	for _, idx := range s.table.Synced() {
		e, _ := s.table.Get(idx)
		entry := tick.SnapshotEntry{
			Index:  idx,
			Values: make([]tick.ComponentState, len(cat.Components)),
		}
		for i, id := range cat.Components {
			h, _ := s.enc.Entry(id, idx)
			entry.Values[i] = tick.ComponentState{Value: h.Value, Delta: h.Delta}
		}
		for slot, id := range cat.States {
			if e.States[slot] != nil {
				entry.States = append(entry.States, tick.StateBlob{ID: id, Data: e.States[slot]})
			}
		}
		snap.Entries = append(snap.Entries, entry)
	}
	return snap
}

func (s *Session) sendSnapshot(idx types.Index, c *client) bool {
	payload, err := tick.MarshalSnapshot(s.snapshot(idx))
	if err != nil {
		s.log.Error("marshal snapshot", zap.Error(err))
		return false
	}
	msg, err := s.cfg.Packer.Pack(envelope.KindSnapshot, payload)
	if err != nil {
		s.log.Error("pack snapshot", zap.Error(err))
		return false
	}
	select {
	case c.outbox <- msg:
		return true
	default:
		s.leave(idx, "outbox full on snapshot")
		return false
	}
}
