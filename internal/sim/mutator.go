package sim

import (
	"sync/atomic"
	"unsafe"

	"github.com/card-refine/internal/gc/barrier"
	"github.com/card-refine/internal/gc/gcthread"
	"github.com/card-refine/internal/gc/tlab"
)

// Mutator is one simulated application thread: it bump-allocates from its
// TLAB and performs reference writes, some of which land in old regions
// and go through the post-write barrier.
type Mutator struct {
	thread *gcthread.Thread
	bs     *barrier.Set
	heap   *Heap

	useTLAB   bool
	tlabBytes uintptr

	// Cheap xorshift state; the workload must be allocation-free apart
	// from the heap itself.
	rng uint64

	allocated       uint64
	writes          uint64
	tlabRefillStats tlab.AllocStats

	// resume wakes the mutator after a heap-exhaustion pause.
	resume chan struct{}
}

// NewMutator creates a mutator running on t.
func NewMutator(t *gcthread.Thread, bs *barrier.Set, heap *Heap, useTLAB bool, tlabBytes uintptr, seed uint64) *Mutator {
	if seed == 0 {
		seed = 0x9E3779B97F4A7C15
	}
	return &Mutator{
		thread:    t,
		bs:        bs,
		heap:      heap,
		useTLAB:   useTLAB,
		tlabBytes: tlabBytes,
		rng:       seed,
		resume:    make(chan struct{}, 1),
	}
}

// Thread returns the mutator's thread object.
func (m *Mutator) Thread() *gcthread.Thread {
	return m.thread
}

// Writes returns the number of reference writes performed.
func (m *Mutator) Writes() uint64 {
	return m.writes
}

func (m *Mutator) next() uint64 {
	m.rng ^= m.rng << 13
	m.rng ^= m.rng >> 7
	m.rng ^= m.rng << 17
	return m.rng
}

// Step performs one allocate-and-write unit of work. Returns false when
// the heap is exhausted and a collection is needed.
func (m *Mutator) Step() bool {
	const objSize = 64

	var obj uintptr
	if m.useTLAB {
		obj = m.thread.TLAB().Allocate(objSize)
		if obj == 0 {
			start, end := m.heap.AllocateWindow(m.tlabBytes)
			if start == 0 {
				return false
			}
			m.thread.TLAB().Retire(&m.tlabRefillStats)
			m.thread.TLAB().Fill(start, end)
			obj = m.thread.TLAB().Allocate(objSize)
		}
	} else {
		start, _ := m.heap.AllocateWindow(objSize)
		if start == 0 {
			return false
		}
		obj = start
	}
	m.allocated += objSize

	// Store a reference into the new object: young target, barrier
	// filtered out or logged depending on mode.
	m.writeRef(obj, obj)

	// Occasionally store into an old region, producing a cross-region
	// reference that must be tracked.
	if m.next()%4 == 0 {
		if old := m.heap.RandomOldAddr(m.next()); old != 0 {
			m.writeRef(old, obj)
		}
	}
	m.writes++
	return true
}

// writeRef simulates `*(field at addr) = value` followed by the
// post-write barrier. The store is atomic because unrelated mutators may
// pick the same old-region slot.
func (m *Mutator) writeRef(addr, value uintptr) {
	atomic.StoreUintptr((*uintptr)(unsafe.Pointer(addr)), value)
	m.bs.WriteRefFieldPost(m.thread, addr)
}
