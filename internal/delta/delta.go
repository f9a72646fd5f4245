// Package delta converts numeric component channels into second-order
// residual streams (delta-of-delta) and back.
//
// For each (component, index) pair both ends keep the last absolute value and
// the last first-order delta. The server runs the update step:
//
//	delta      = v - lastValue
//	deltaDelta = delta - lastDelta
//
// and the client the reconstruction step:
//
//	delta = lastDelta + deltaDelta
//	value = lastValue + delta
//
// A value moving at constant velocity, or standing still, costs a zero
// residual. The histories only stay identical when every residual reaches the
// receiver exactly once and in order, so the transport must be an ordered,
// lossless stream per connection. A diverged history is repaired by a fresh
// bootstrap, never by gap detection here.
package delta

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/entity-sync/internal/wire"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

var (
	ErrIndexHistoryMissing = errors.New("delta: no history for index")
	ErrUnknownComponent    = errors.New("delta: unknown component")
)

// Entry is the per-(component, index) history.
type Entry struct {
	Value int64
	Delta int64
	Valid bool
}

// History is a dense table of entries: one slice per declared component,
// indexed directly by entity index.
type History struct {
	ids     []types.ComponentID
	slots   map[types.ComponentID]int
	entries [][]Entry
}

func NewHistory(components []types.ComponentID) *History {
	h := &History{
		ids:     append([]types.ComponentID(nil), components...),
		slots:   make(map[types.ComponentID]int, len(components)),
		entries: make([][]Entry, len(components)),
	}
	for i, id := range components {
		h.slots[id] = i
	}
	return h
}

// Components returns the declared component ids in slot order.
func (h *History) Components() []types.ComponentID { return h.ids }

func (h *History) column(id types.ComponentID) ([]Entry, int, error) {
	slot, ok := h.slots[id]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownComponent, id)
	}
	return h.entries[slot], slot, nil
}

func (h *History) ensure(slot int, idx types.Index) {
	col := h.entries[slot]
	if int(idx) < len(col) {
		return
	}
	n := max(int(idx)+1, 2*len(col))
	grown := make([]Entry, n)
	copy(grown, col)
	h.entries[slot] = grown
}

// Entry returns the history for (id, idx); ok is false when the index was
// never bootstrapped for that component.
func (h *History) Entry(id types.ComponentID, idx types.Index) (Entry, bool) {
	col, _, err := h.column(id)
	if err != nil || int(idx) >= len(col) || !col[idx].Valid {
		return Entry{}, false
	}
	return col[idx], true
}

// Seed bootstraps (id, idx) with an absolute value and a zero delta.
func (h *History) Seed(id types.ComponentID, idx types.Index, value int64) error {
	return h.SeedWithDelta(id, idx, value, 0)
}

// SeedWithDelta restores a complete entry, as carried by a snapshot.
func (h *History) SeedWithDelta(id types.ComponentID, idx types.Index, value, delta int64) error {
	_, slot, err := h.column(id)
	if err != nil {
		return err
	}
	h.ensure(slot, idx)
	h.entries[slot][idx] = Entry{Value: value, Delta: delta, Valid: true}
	return nil
}

// Has reports whether idx holds a history for every declared component.
func (h *History) Has(idx types.Index) bool {
	for _, col := range h.entries {
		if int(idx) >= len(col) || !col[idx].Valid {
			return false
		}
	}
	return true
}

// Drop forgets idx for every component.
func (h *History) Drop(idx types.Index) {
	for _, col := range h.entries {
		if int(idx) < len(col) {
			col[idx] = Entry{}
		}
	}
}

// Reset forgets every index.
func (h *History) Reset() {
	for i := range h.entries {
		h.entries[i] = nil
	}
}

// Changed reports whether v differs from the last value of (id, idx) without
// touching the history.
func (h *History) Changed(id types.ComponentID, idx types.Index, v int64) bool {
	e, ok := h.Entry(id, idx)
	return !ok || e.Value != v
}

func (h *History) entryRef(id types.ComponentID, idx types.Index) (*Entry, error) {
	col, _, err := h.column(id)
	if err != nil {
		return nil, err
	}
	if int(idx) >= len(col) || !col[idx].Valid {
		return nil, fmt.Errorf("%w: component %d index %d", ErrIndexHistoryMissing, id, idx)
	}
	return &col[idx], nil
}

// Encoder is the server side of a history.
type Encoder struct {
	*History
}

func NewEncoder(components []types.ComponentID) *Encoder {
	return &Encoder{History: NewHistory(components)}
}

// Step records v for (id, idx) and returns the residual to transmit.
func (e *Encoder) Step(id types.ComponentID, idx types.Index, v int64) (int64, error) {
	ent, err := e.entryRef(id, idx)
	if err != nil {
		return 0, err
	}
	delta := v - ent.Value
	dd := delta - ent.Delta
	ent.Delta = delta
	ent.Value = v
	return dd, nil
}

// EncodeGroup steps every index of a component group, in the given order.
// It checks every index before mutating anything.
func (e *Encoder) EncodeGroup(id types.ComponentID, indices []types.Index, values []int64) ([]int64, error) {
	if len(indices) != len(values) {
		return nil, fmt.Errorf("delta: %d indices for %d values", len(indices), len(values))
	}
	for _, idx := range indices {
		if _, err := e.entryRef(id, idx); err != nil {
			return nil, err
		}
	}
	out := make([]int64, len(indices))
	for i, idx := range indices {
		out[i], _ = e.Step(id, idx, values[i])
	}
	return out, nil
}

// Decoder is the client side of a history.
type Decoder struct {
	*History
}

func NewDecoder(components []types.ComponentID) *Decoder {
	return &Decoder{History: NewHistory(components)}
}

// Step integrates one residual for (id, idx) and returns the absolute value.
func (d *Decoder) Step(id types.ComponentID, idx types.Index, dd int64) (int64, error) {
	ent, err := d.entryRef(id, idx)
	if err != nil {
		return 0, err
	}
	delta := ent.Delta + dd
	ent.Value += delta
	ent.Delta = delta
	return ent.Value, nil
}

// DecodeGroup integrates a component group aligned with indices. The history
// is left untouched when any index lacks a history or the lengths differ.
func (d *Decoder) DecodeGroup(id types.ComponentID, indices []types.Index, dds []int64) ([]int64, error) {
	if len(indices) != len(dds) {
		return nil, fmt.Errorf("%w: component %d carries %d residuals for %d indices",
			ErrIndexHistoryMissing, id, len(dds), len(indices))
	}
	for _, idx := range indices {
		if _, err := d.entryRef(id, idx); err != nil {
			return nil, err
		}
	}
	out := make([]int64, len(indices))
	for i, idx := range indices {
		out[i], _ = d.Step(id, idx, dds[i])
	}
	return out, nil
}

// AppendDeltaDeltas writes a residual list: varint count, then one zigzag
// varint per residual.
func AppendDeltaDeltas(w *wire.Writer, dds []int64) {
	w.WriteVarint(uint64(len(dds)))
	for _, dd := range dds {
		w.WriteZigzag(dd)
	}
}

// ReadDeltaDeltas reads a list written by AppendDeltaDeltas. The result is
// never nil.
func ReadDeltaDeltas(r *wire.Reader) ([]int64, error) {
	n, err := r.ReadLen(1)
	if err != nil {
		return nil, err
	}
	dds := make([]int64, n)
	for i := range dds {
		if dds[i], err = r.ReadZigzag(); err != nil {
			return nil, err
		}
	}
	return dds, nil
}
