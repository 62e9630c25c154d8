package qbuf

import (
	"runtime"
	"sync/atomic"
)

const (
	inactiveEpoch  = ^uint64(0)
	numReaderSlots = 64
)

// GlobalCounter is an epoch-based rendezvous used to order lock-free stack
// pops against buffer reclamation. Readers bracket a pop in a critical
// section; a writer that wants to reuse popped nodes first calls
// WriteSynchronize, which waits until every critical section that began
// before the call has exited. This keeps a concurrent pop from observing a
// node whose links are being rewritten for reuse (the ABA hazard).
//
// Entering and exiting a critical section takes no locks: a reader claims
// one of a fixed set of slots with a single compare-and-swap. The slot
// count bounds the number of concurrent readers, not the number of threads.
type GlobalCounter struct {
	global atomic.Uint64
	slots  [numReaderSlots]readerSlot
}

type readerSlot struct {
	epoch atomic.Uint64
	_     [56]byte // keep slots off each other's cache lines
}

// NewGlobalCounter creates a counter with all reader slots idle.
func NewGlobalCounter() *GlobalCounter {
	g := &GlobalCounter{}
	for i := range g.slots {
		g.slots[i].epoch.Store(inactiveEpoch)
	}
	return g
}

// CriticalSection is an open reader section; it must be closed with Exit.
type CriticalSection struct {
	slot *readerSlot
}

// Enter opens a reader critical section.
func (g *GlobalCounter) Enter() CriticalSection {
	for {
		epoch := g.global.Load()
		for i := range g.slots {
			if g.slots[i].epoch.CompareAndSwap(inactiveEpoch, epoch) {
				return CriticalSection{slot: &g.slots[i]}
			}
		}
		runtime.Gosched()
	}
}

// Exit closes the critical section.
func (cs CriticalSection) Exit() {
	cs.slot.epoch.Store(inactiveEpoch)
}

// WriteSynchronize returns after every critical section that was open when
// it was called has exited.
func (g *GlobalCounter) WriteSynchronize() {
	target := g.global.Add(1)
	for i := range g.slots {
		for {
			e := g.slots[i].epoch.Load()
			if e == inactiveEpoch || e >= target {
				break
			}
			runtime.Gosched()
		}
	}
}
