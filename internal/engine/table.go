package engine

import (
	"bytes"

	"github.com/cespare/xxhash/v2"

	"github.com/DoyleJ11/entity-sync/pkg/types"
)

// Entity is one row of the authoritative table.
type Entity struct {
	Live bool
	// Synced is set once the index's bootstrap went out in a tick; only
	// synced indices take part in component groups.
	Synced   bool
	Observed []int64
	States   [][]byte

	digests []uint64
	dirty   []bool
}

// Table is the authoritative index -> {components, states} table, stored
// densely by index. Only the session loop mutates it.
type Table struct {
	catalog  types.Catalog
	entities []Entity
}

func NewTable(c types.Catalog) *Table {
	return &Table{catalog: c.Clone()}
}

func (t *Table) Catalog() types.Catalog { return t.catalog }

// Spawn makes idx live with zeroed components, then applies initial values.
// Ids outside the catalog are ignored.
func (t *Table) Spawn(idx types.Index, initial []types.ComponentValue) {
	if int(idx) >= len(t.entities) {
		grown := make([]Entity, max(int(idx)+1, 2*len(t.entities)))
		copy(grown, t.entities)
		t.entities = grown
	}
	nc, ns := len(t.catalog.Components), len(t.catalog.States)
	t.entities[idx] = Entity{
		Live:     true,
		Observed: make([]int64, nc),
		States:   make([][]byte, ns),
		digests:  make([]uint64, ns),
		dirty:    make([]bool, ns),
	}
	e := &t.entities[idx]
	for _, cv := range initial {
		if slot, ok := t.catalog.ComponentSlot(cv.ID); ok {
			e.Observed[slot] = cv.Value
		}
	}
}

// Despawn drops every trace of idx.
func (t *Table) Despawn(idx types.Index) {
	if int(idx) < len(t.entities) {
		t.entities[idx] = Entity{}
	}
}

// Get returns the live entity at idx.
func (t *Table) Get(idx types.Index) (*Entity, bool) {
	if int(idx) >= len(t.entities) || !t.entities[idx].Live {
		return nil, false
	}
	return &t.entities[idx], true
}

// Observed returns the latest absolute value of component id for idx.
func (t *Table) Observed(idx types.Index, id types.ComponentID) (int64, bool) {
	e, ok := t.Get(idx)
	if !ok {
		return 0, false
	}
	slot, ok := t.catalog.ComponentSlot(id)
	if !ok {
		return 0, false
	}
	return e.Observed[slot], true
}

// State returns the current blob of state id for idx; nil if never set.
func (t *Table) State(idx types.Index, id types.StateID) ([]byte, bool) {
	e, ok := t.Get(idx)
	if !ok {
		return nil, false
	}
	slot, ok := t.catalog.StateSlot(id)
	if !ok {
		return nil, false
	}
	return e.States[slot], true
}

// Values returns idx's observed components as (id, value) pairs in catalog
// order.
func (t *Table) Values(idx types.Index) []types.ComponentValue {
	e, ok := t.Get(idx)
	if !ok {
		return nil
	}
	out := make([]types.ComponentValue, len(e.Observed))
	for i, v := range e.Observed {
		out[i] = types.ComponentValue{ID: t.catalog.Components[i], Value: v}
	}
	return out
}

// Synced returns the live, bootstrapped indices in ascending order.
func (t *Table) Synced() []types.Index {
	var out []types.Index
	for i := range t.entities {
		if t.entities[i].Live && t.entities[i].Synced {
			out = append(out, types.Index(i))
		}
	}
	return out
}

// Joining returns the live indices whose bootstrap has not gone out yet.
func (t *Table) Joining() []types.Index {
	var out []types.Index
	for i := range t.entities {
		if t.entities[i].Live && !t.entities[i].Synced {
			out = append(out, types.Index(i))
		}
	}
	return out
}

// setState stores data for slot and reports whether it differs from the
// previous blob. The digest check short-circuits the common unchanged case
// for large blobs.
func (e *Entity) setState(slot int, data []byte) bool {
	sum := xxhash.Sum64(data)
	old := e.States[slot]
	if old != nil && e.digests[slot] == sum && bytes.Equal(old, data) {
		return false
	}
	e.States[slot] = append(make([]byte, 0, len(data)), data...)
	e.digests[slot] = sum
	e.dirty[slot] = true
	return true
}

// TakeDirty returns the state slots changed since the last call and clears
// the marks.
func (e *Entity) TakeDirty() []int {
	var out []int
	for slot, d := range e.dirty {
		if d {
			out = append(out, slot)
			e.dirty[slot] = false
		}
	}
	return out
}
