// Package index hands out small entity indices and recycles them.
//
// A released index is parked until Flush reports it (the caller puts it in
// the next tick's removed list); only then does it become eligible again, so
// no receiver can see an index reused before it saw the index removed.
package index

import (
	"container/heap"
	"errors"
	"fmt"
	"slices"

	"github.com/DoyleJ11/entity-sync/pkg/types"
)

var ErrNotLive = errors.New("index: not live")

type minHeap []types.Index

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(types.Index)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Allocator is not safe for concurrent use; the session loop owns it.
type Allocator struct {
	free    minHeap
	pending []types.Index
	live    []bool
	next    types.Index
	count   int
}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// Allocate returns the smallest eligible index.
func (a *Allocator) Allocate() types.Index {
	var idx types.Index
	if a.free.Len() > 0 {
		idx = heap.Pop(&a.free).(types.Index)
	} else {
		idx = a.next
		a.next++
		a.live = append(a.live, false)
	}
	a.live[idx] = true
	a.count++
	return idx
}

// Release parks idx until the next Flush.
func (a *Allocator) Release(idx types.Index) error {
	if !a.IsLive(idx) {
		return fmt.Errorf("%w: %d", ErrNotLive, idx)
	}
	a.live[idx] = false
	a.count--
	a.pending = append(a.pending, idx)
	return nil
}

// Flush returns the indices released since the previous Flush, ascending,
// and makes them eligible for Allocate.
func (a *Allocator) Flush() []types.Index {
	if len(a.pending) == 0 {
		return nil
	}
	out := a.pending
	a.pending = nil
	slices.Sort(out)
	for _, idx := range out {
		heap.Push(&a.free, idx)
	}
	return out
}

func (a *Allocator) IsLive(idx types.Index) bool {
	return int(idx) < len(a.live) && a.live[idx]
}

// Live returns the assigned indices in ascending order.
func (a *Allocator) Live() []types.Index {
	out := make([]types.Index, 0, a.count)
	for i, ok := range a.live {
		if ok {
			out = append(out, types.Index(i))
		}
	}
	return out
}

func (a *Allocator) Count() int { return a.count }

// Pending reports how many released indices wait for Flush.
func (a *Allocator) Pending() int { return len(a.pending) }
