package qbuf

import (
	"sync/atomic"
)

// Number of released nodes that accumulate on the pending list before a
// transfer to the free list is attempted.
const pendingTransferThreshold = 10

// Allocator hands out buffer nodes of a fixed capacity, recycling released
// nodes through a free list.
//
// Allocate and Release are safe under concurrent mutator calls. Release
// never reads or writes buffer contents; it only touches the node header.
// Released nodes park on a pending list and move to the free list only
// after an epoch synchronization, so a node can never be handed out again
// while a stale popper might still dereference it.
type Allocator struct {
	name     string
	capacity uintptr

	counter      *GlobalCounter
	freeList     Stack
	pendingList  Stack
	pendingCount atomic.Int64
	transferring atomic.Bool
}

// NewAllocator creates an allocator of buffers with the given capacity in
// entries. The name appears in diagnostics only.
func NewAllocator(name string, capacity uintptr) *Allocator {
	if capacity == 0 {
		panic("qbuf: zero buffer capacity")
	}
	return &Allocator{
		name:     name,
		capacity: capacity,
		counter:  NewGlobalCounter(),
	}
}

// Name returns the allocator's diagnostic name.
func (a *Allocator) Name() string {
	return a.name
}

// BufferCapacity returns the entry capacity of buffers from this allocator.
func (a *Allocator) BufferCapacity() uintptr {
	return a.capacity
}

// Counter returns the epoch counter guarding node reclamation. Structures
// that pop this allocator's nodes from their own lock-free stacks enter
// critical sections on it.
func (a *Allocator) Counter() *GlobalCounter {
	return a.counter
}

// Allocate returns an empty node: index == capacity, ready to fill
// downward. The node comes from the free list when possible, otherwise
// fresh storage is allocated.
func (a *Allocator) Allocate() *BufferNode {
	cs := a.counter.Enter()
	node := a.freeList.Pop()
	cs.Exit()
	if node == nil {
		node = &BufferNode{
			tag: a,
			buf: make([]uintptr, a.capacity),
		}
	}
	node.index = a.capacity
	return node
}

// Release returns node to the pool. The node must have come from this
// allocator and must be unlinked.
func (a *Allocator) Release(node *BufferNode) {
	if node == nil || node.tag != a {
		panic("qbuf: release of foreign buffer node")
	}
	if node.Next() != nil {
		panic("qbuf: release of linked buffer node")
	}
	a.pendingList.Push(node)
	if a.pendingCount.Add(1) >= pendingTransferThreshold {
		a.tryTransferPending()
	}
}

// tryTransferPending moves the pending list to the free list. Only one
// thread transfers at a time; others simply skip. The epoch
// synchronization makes any in-flight Pop of previously freed nodes
// complete before those nodes can circulate again.
func (a *Allocator) tryTransferPending() {
	if !a.transferring.CompareAndSwap(false, true) {
		return
	}
	defer a.transferring.Store(false)

	chain := a.pendingList.PopAll()
	if chain == nil {
		return
	}
	count := int64(0)
	for n := chain; n != nil; n = n.Next() {
		count++
	}
	a.pendingCount.Add(-count)

	a.counter.WriteSynchronize()

	for chain != nil {
		next := chain.Next()
		chain.next.Store(nil)
		a.freeList.Push(chain)
		chain = next
	}
}
