// Package client applies the server's snapshots and ticks to a local copy of
// the room and notifies render/session consumers once a message is fully
// applied.
package client

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/entity-sync/internal/delta"
	"github.com/DoyleJ11/entity-sync/internal/tick"
	"github.com/DoyleJ11/entity-sync/internal/transform"
	"github.com/DoyleJ11/entity-sync/pkg/types"
)

var (
	ErrNoSnapshot     = errors.New("client: tick before snapshot")
	ErrTimeWentBack   = errors.New("client: server time did not advance")
	ErrBadBootstrap   = errors.New("client: malformed bootstrap state")
	ErrHistoryMissing = delta.ErrIndexHistoryMissing
)

// Consumer receives notifications after a snapshot or tick is completely
// applied. Calls happen on the goroutine that calls Apply*.
type Consumer interface {
	Left(idx types.Index)
	Joined(idx types.Index)
	Updated(res ApplyResult)
}

type StateChange struct {
	Index types.Index
	ID    types.StateID
}

type ApplyResult struct {
	ServerTime   uint64
	IndicesCount uint32
	Removed      []types.Index
	Joined       []types.Index
	Components   []types.ComponentID
	States       []StateChange
	// UnknownGroups counts component or state groups skipped because the id
	// was never declared.
	UnknownGroups int
	// NeedsResync is set when residuals or blobs arrived for an index without
	// a history; the rest of the message was applied.
	NeedsResync bool
}

type entry struct {
	live   bool
	states [][]byte
}

// Reconciler is the client's mirror of a room. It is not safe for concurrent
// use.
type Reconciler struct {
	catalog    types.Catalog
	dec        *delta.Decoder
	entries    []entry
	self       types.Index
	serverTime uint64
	ready      bool
	consumer   Consumer
}

func NewReconciler(consumer Consumer) *Reconciler {
	return &Reconciler{consumer: consumer}
}

func (r *Reconciler) Ready() bool            { return r.ready }
func (r *Reconciler) Self() types.Index      { return r.self }
func (r *Reconciler) ServerTime() uint64     { return r.serverTime }
func (r *Reconciler) Catalog() types.Catalog { return r.catalog }

func (r *Reconciler) entry(idx types.Index) *entry {
	if int(idx) >= len(r.entries) {
		grown := make([]entry, max(int(idx)+1, 2*len(r.entries)))
		copy(grown, r.entries)
		r.entries = grown
	}
	return &r.entries[idx]
}

func (r *Reconciler) isLive(idx types.Index) bool {
	return int(idx) < len(r.entries) && r.entries[idx].live
}

// Live returns the bootstrapped indices in ascending order.
func (r *Reconciler) Live() []types.Index {
	var out []types.Index
	for i := range r.entries {
		if r.entries[i].live {
			out = append(out, types.Index(i))
		}
	}
	return out
}

func (r *Reconciler) Value(idx types.Index, id types.ComponentID) (int64, bool) {
	if r.dec == nil || !r.isLive(idx) {
		return 0, false
	}
	e, ok := r.dec.Entry(id, idx)
	return e.Value, ok
}

func (r *Reconciler) State(idx types.Index, id types.StateID) ([]byte, bool) {
	if !r.isLive(idx) {
		return nil, false
	}
	slot, ok := r.catalog.StateSlot(id)
	if !ok {
		return nil, false
	}
	b := r.entries[idx].states[slot]
	return b, b != nil
}

// Transform rebuilds the render transform of idx from its components.
func (r *Reconciler) Transform(idx types.Index) (transform.Transform, bool) {
	if !r.isLive(idx) {
		return transform.Transform{}, false
	}
	return transform.FromComponents(func(id types.ComponentID) (int64, bool) {
		return r.Value(idx, id)
	}), true
}

func (r *Reconciler) spawn(idx types.Index) *entry {
	e := r.entry(idx)
	*e = entry{live: true, states: make([][]byte, len(r.catalog.States))}
	return e
}

func (r *Reconciler) despawn(idx types.Index) {
	if r.dec != nil {
		r.dec.Drop(idx)
	}
	if int(idx) < len(r.entries) {
		r.entries[idx] = entry{}
	}
}

// ApplySnapshot replaces the whole mirror.
func (r *Reconciler) ApplySnapshot(s tick.Snapshot) error {
	for _, se := range s.Entries {
		if len(se.Values) != len(s.Components) {
			return fmt.Errorf("client: snapshot entry %d has %d values", se.Index, len(se.Values))
		}
	}
	prev := r.Live()

	r.catalog = types.Catalog{Components: s.Components, States: s.States}.Clone()
	r.dec = delta.NewDecoder(r.catalog.Components)
	r.entries = nil
	for _, se := range s.Entries {
		e := r.spawn(se.Index)
		for i, id := range r.catalog.Components {
			_ = r.dec.SeedWithDelta(id, se.Index, se.Values[i].Value, se.Values[i].Delta)
		}
		for _, st := range se.States {
			if slot, ok := r.catalog.StateSlot(st.ID); ok {
				e.states[slot] = st.Data
			}
		}
	}
	r.self = s.Self
	r.serverTime = s.ServerTime
	r.ready = true

	if r.consumer == nil {
		return nil
	}
	res := ApplyResult{ServerTime: s.ServerTime, Components: r.catalog.Components}
	for _, idx := range prev {
		if !r.isLive(idx) {
			res.Removed = append(res.Removed, idx)
			r.consumer.Left(idx)
		}
	}
	for _, idx := range r.Live() {
		res.Joined = append(res.Joined, idx)
		r.consumer.Joined(idx)
	}
	r.consumer.Updated(res)
	return nil
}

type bootstrap struct {
	idx    types.Index
	values []types.ComponentValue
}

// ApplyTick applies removals, then component residuals, then state blobs.
// Fatal errors (tick before snapshot, time going backwards, malformed
// bootstrap) leave the mirror untouched; the connection must be torn down.
// An error matching ErrHistoryMissing is recoverable: everything else in the
// tick was applied and the caller should request a resync.
func (r *Reconciler) ApplyTick(t tick.Tick) (ApplyResult, error) {
	if !r.ready {
		return ApplyResult{}, ErrNoSnapshot
	}
	if t.ServerTime <= r.serverTime {
		return ApplyResult{}, fmt.Errorf("%w: %d after %d", ErrTimeWentBack, t.ServerTime, r.serverTime)
	}

	// Validate before touching anything.
	removed := make(map[types.Index]bool, len(t.Removed))
	for _, idx := range t.Removed {
		removed[idx] = true
	}
	var base []types.Index
	for _, idx := range r.Live() {
		if !removed[idx] {
			base = append(base, idx)
		}
	}
	var boots []bootstrap
	for _, g := range t.States {
		if g.ID != types.StateBootstrap {
			continue
		}
		for _, u := range g.Updates {
			values, err := tick.DecodeBootstrap(u.Data)
			if err != nil {
				return ApplyResult{}, fmt.Errorf("%w: index %d: %v", ErrBadBootstrap, u.Index, err)
			}
			boots = append(boots, bootstrap{idx: u.Index, values: values})
		}
	}

	res := ApplyResult{ServerTime: t.ServerTime, IndicesCount: t.IndicesCount}
	var missing error

	// Phase 1: removals.
	for _, idx := range t.Removed {
		if r.isLive(idx) {
			r.despawn(idx)
			res.Removed = append(res.Removed, idx)
		}
	}

	// Phase 2: residuals, aligned with the surviving indices.
	for _, g := range t.Components {
		if _, ok := r.catalog.ComponentSlot(g.ID); !ok {
			res.UnknownGroups++
			continue
		}
		if _, err := r.dec.DecodeGroup(g.ID, base, g.DeltaDeltas); err != nil {
			missing = errors.Join(missing, err)
			continue
		}
		res.Components = append(res.Components, g.ID)
	}

	// Phase 3: bootstraps first, then declared states.
	for _, b := range boots {
		r.spawn(b.idx)
		for _, id := range r.catalog.Components {
			_ = r.dec.Seed(id, b.idx, 0)
		}
		for _, cv := range b.values {
			_ = r.dec.Seed(cv.ID, b.idx, cv.Value)
		}
		res.Joined = append(res.Joined, b.idx)
	}
	for _, g := range t.States {
		if g.ID == types.StateBootstrap {
			continue
		}
		slot, ok := r.catalog.StateSlot(g.ID)
		if !ok {
			res.UnknownGroups++
			continue
		}
		for _, u := range g.Updates {
			if !r.isLive(u.Index) {
				missing = errors.Join(missing, fmt.Errorf("%w: state %d index %d", ErrHistoryMissing, g.ID, u.Index))
				continue
			}
			r.entries[u.Index].states[slot] = u.Data
			res.States = append(res.States, StateChange{Index: u.Index, ID: g.ID})
		}
	}
	r.serverTime = t.ServerTime
	res.NeedsResync = missing != nil

	if r.consumer != nil {
		for _, idx := range res.Removed {
			r.consumer.Left(idx)
		}
		for _, idx := range res.Joined {
			r.consumer.Joined(idx)
		}
		r.consumer.Updated(res)
	}
	return res, missing
}
