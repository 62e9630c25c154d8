// Package barrier wires the write-barrier queues together: it owns the
// buffer allocators and queue sets, runs the post-write barrier paths, and
// manages per-thread queue lifecycles.
package barrier

import (
	"github.com/card-refine/internal/gc/card"
	"github.com/card-refine/internal/gc/dcq"
	"github.com/card-refine/internal/gc/gcthread"
	"github.com/card-refine/internal/gc/membar"
	"github.com/card-refine/internal/gc/qbuf"
	"github.com/card-refine/internal/gc/wcq"
)

// Options sizes the barrier's buffer allocators and configures the
// written-card queues.
type Options struct {
	// WrittenCardBufferSize is the entry capacity of written-card buffers.
	WrittenCardBufferSize uintptr
	// UpdateBufferSize is the entry capacity of dirty-card buffers.
	UpdateBufferSize uintptr
	// WrittenCard configures the written-card queue set.
	WrittenCard wcq.Options
}

// Set owns the queue sets and runs the barrier slow paths.
type Set struct {
	ct       *card.Table
	registry *gcthread.Registry

	writtenCardAllocator *qbuf.Allocator
	dirtyCardAllocator   *qbuf.Allocator

	wcqs *wcq.Set
	dcqs *dcq.Set
}

// NewSet creates a barrier set over the given card table and thread
// registry.
func NewSet(ct *card.Table, registry *gcthread.Registry, opts Options) *Set {
	wcAlloc := qbuf.NewAllocator("WC Buffer Allocator", opts.WrittenCardBufferSize)
	dcAlloc := qbuf.NewAllocator("DC Buffer Allocator", opts.UpdateBufferSize)
	dcqs := dcq.NewSet(dcAlloc)
	return &Set{
		ct:                   ct,
		registry:             registry,
		writtenCardAllocator: wcAlloc,
		dirtyCardAllocator:   dcAlloc,
		wcqs:                 wcq.NewSet(wcAlloc, ct, dcqs, opts.WrittenCard),
		dcqs:                 dcqs,
	}
}

// CardTable returns the card table.
func (b *Set) CardTable() *card.Table {
	return b.ct
}

// Registry returns the thread registry.
func (b *Set) Registry() *gcthread.Registry {
	return b.registry
}

// WrittenCardQueueSet returns the written-card queue set.
func (b *Set) WrittenCardQueueSet() *wcq.Set {
	return b.wcqs
}

// DirtyCardQueueSet returns the dirty-card queue set.
func (b *Set) DirtyCardQueueSet() *dcq.Set {
	return b.dcqs
}

// ============================================================================
// Post-write barrier
// ============================================================================

// WriteRefFieldPost runs the post-write barrier for a reference store to
// addr by thread t. With written-card queues enabled this is the logging
// path the generated barrier implements; each filter decides what, if
// anything, to append. Without them it is the classic card-dirtying
// barrier.
func (b *Set) WriteRefFieldPost(t *gcthread.Thread, addr uintptr) {
	if !b.wcqs.UseQueues() {
		p := b.ct.ByteFor(addr)
		if card.AtomicLoad(p) != card.YoungCard {
			b.WriteRefFieldPostSlow(t, p)
		}
		return
	}
	switch b.wcqs.FilterMechanism() {
	case wcq.FilterNone:
		b.wcqs.Append(t, addr)
	case wcq.FilterYoung:
		p := b.ct.ByteFor(addr)
		if card.AtomicLoad(p) == card.YoungCard {
			return
		}
		b.wcqs.Append(t, card.EntryUintptr(p))
	case wcq.FilterPrevious:
		cardIndex := b.ct.IndexFor(addr)
		q := t.WrittenCardQueue()
		if q.LastRecorded() == cardIndex {
			return
		}
		b.wcqs.Append(t, cardIndex)
	}
}

// WriteRefFieldPostSlow dirties the card at p and enqueues it, unless some
// other thread already did. The caller has established that the card is
// not young.
func (b *Set) WriteRefFieldPostSlow(t *gcthread.Thread, p *card.Value) {
	if card.AtomicLoad(p) == card.YoungCard {
		panic("barrier: slow path invoked without filtering")
	}
	// The reference store must be visible before the card value is
	// examined.
	membar.StoreLoad()
	if card.AtomicLoad(p) != card.DirtyCard {
		card.AtomicStore(p, card.DirtyCard)
		stats := t.RefinementStats()
		stats.DirtiedCards++
		b.dcqs.Enqueue(t.DirtyCardQueue(), card.EntryUintptr(p), stats)
	}
}

// Invalidate dirties and enqueues every non-young, non-dirty card covering
// [start, end). Used for bulk updates such as array copies.
func (b *Set) Invalidate(t *gcthread.Thread, start, end uintptr) {
	if start >= end {
		return
	}
	first := b.ct.IndexFor(start)
	last := b.ct.IndexFor(end - 1)
	if card.AtomicLoad(b.ct.EntryFor(first)) == card.YoungCard {
		// Young ranges never span regions, so the whole range is young.
		return
	}
	membar.StoreLoad()
	stats := t.RefinementStats()
	for c := first; c <= last; c++ {
		p := b.ct.EntryFor(c)
		if card.AtomicLoad(p) != card.DirtyCard {
			card.AtomicStore(p, card.DirtyCard)
			stats.DirtiedCards++
			b.dcqs.Enqueue(t.DirtyCardQueue(), card.EntryUintptr(p), stats)
		}
	}
}

// MakeParsable flushes any deferred card marks for t. The simulation keeps
// no deferred marks, but the retirement task calls this before
// concatenating logs per the barrier contract.
func (b *Set) MakeParsable(t *gcthread.Thread) {
}

// ============================================================================
// Thread lifecycle
// ============================================================================

// OnThreadCreate registers t's barrier state.
func (b *Set) OnThreadCreate(t *gcthread.Thread) {
	b.registry.Register(t)
}

// OnThreadAttach checks the queues are in their pristine state before the
// thread starts running mutator code.
func (b *Set) OnThreadAttach(t *gcthread.Thread) {
	if b.wcqs.UseQueues() && !t.WrittenCardQueue().IsEmpty() {
		panic("barrier: written card queue not empty at attach")
	}
	if !t.DirtyCardQueue().IsEmpty() {
		panic("barrier: dirty card queue not empty at attach")
	}
}

// OnThreadDetach drains t's queues: written cards are dirtied into the
// thread's dirty-card queue, which is then flushed to the global set, and
// the thread's refinement stats are recorded as detached.
func (b *Set) OnThreadDetach(t *gcthread.Thread) {
	stats := t.RefinementStats()
	if b.wcqs.UseQueues() {
		q := t.WrittenCardQueue()
		q.MarkCardsDirty(t.DirtyCardQueue(), stats)
		q.DiscardBuffer()
	}
	b.dcqs.FlushQueue(t.DirtyCardQueue(), stats)
	b.dcqs.RecordDetachedRefinementStats(*stats)
	stats.Reset()
}

// OnThreadDestroy unregisters t. The queues must already be empty.
func (b *Set) OnThreadDestroy(t *gcthread.Thread) {
	if b.wcqs.UseQueues() && !t.WrittenCardQueue().IsEmpty() {
		panic("barrier: written card queue not empty at destroy")
	}
	b.registry.Unregister(t)
}

// AbandonPostBarrierLogsAndStats drops all post-barrier state: every
// thread's written- and dirty-card queue is reset, per-thread stats are
// cleared, and both global completed-buffer lists are emptied. Safepoint
// only.
func (b *Set) AbandonPostBarrierLogsAndStats() {
	b.registry.ThreadsDo(func(t *gcthread.Thread) {
		if b.wcqs.UseQueues() {
			t.WrittenCardQueue().Reset()
		}
		b.dcqs.ResetQueue(t.DirtyCardQueue())
		t.RefinementStats().Reset()
	})
	if b.wcqs.UseQueues() {
		b.wcqs.AbandonCompletedBuffers()
	}
	b.dcqs.AbandonCompletedBuffersAndStats()
}
