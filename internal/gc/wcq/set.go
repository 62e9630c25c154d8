package wcq

import (
	"sync/atomic"
	"unsafe"

	"github.com/card-refine/internal/gc/card"
	"github.com/card-refine/internal/gc/dcq"
	"github.com/card-refine/internal/gc/membar"
	"github.com/card-refine/internal/gc/qbuf"
	"github.com/card-refine/internal/gc/refine"
)

// Owner provides the overflow handlers access to the per-thread barrier
// structures. The thread type implements it.
type Owner interface {
	WrittenCardQueue() *WrittenCardQueue
	DirtyCardQueue() *dcq.DirtyCardQueue
	RefinementStats() *refine.Stats
}

// Options fixes the process-wide written-card queue configuration.
type Options struct {
	// UseQueues enables written-card queues; when false every queue is
	// inert and the overflow entry points return immediately.
	UseQueues bool
	// UseInline stores entries in a fixed array inside each queue instead
	// of external buffers.
	UseInline bool
	// DeferDirtying hands filled buffers to refinement threads instead of
	// dirtying in the mutator, unless MutatorShouldMarkCardsDirty is set.
	DeferDirtying bool
	// FilterMechanism selects the barrier's filtering mode.
	FilterMechanism Filter
}

// Set is the global written-card queue set: the buffer allocator, the
// lock-free list of completed buffers with its published card count, and
// the deferred-dirtying switch.
type Set struct {
	allocator *qbuf.Allocator
	ct        *card.Table
	dcqs      *dcq.Set

	useQueues     bool
	useInline     bool
	deferDirtying bool
	filter        Filter

	mutatorShouldMarkCardsDirty atomic.Bool
	numCards                    atomic.Uint64
	bufferList                  qbuf.Stack
}

// NewSet creates a written-card queue set drawing buffers from allocator
// and dirtying cards in ct through dcqs.
func NewSet(allocator *qbuf.Allocator, ct *card.Table, dcqs *dcq.Set, opts Options) *Set {
	return &Set{
		allocator:     allocator,
		ct:            ct,
		dcqs:          dcqs,
		useQueues:     opts.UseQueues,
		useInline:     opts.UseInline,
		deferDirtying: opts.DeferDirtying,
		filter:        opts.FilterMechanism,
	}
}

// UseQueues reports whether written-card queues are enabled.
func (s *Set) UseQueues() bool {
	return s.useQueues
}

// UseInline reports whether queues store entries inline.
func (s *Set) UseInline() bool {
	return s.useInline
}

// DeferDirtying reports whether filled buffers are handed to refinement
// threads.
func (s *Set) DeferDirtying() bool {
	return s.deferDirtying
}

// FilterMechanism returns the process-wide filter mode.
func (s *Set) FilterMechanism() Filter {
	return s.filter
}

// BufferCapacity returns the entry capacity of external buffers.
func (s *Set) BufferCapacity() uintptr {
	return s.allocator.BufferCapacity()
}

// Allocator returns the buffer allocator backing this set.
func (s *Set) Allocator() *qbuf.Allocator {
	return s.allocator
}

// NumCards returns the published count of cards pending in completed
// buffers. Always at least the actual count.
func (s *Set) NumCards() uint64 {
	return s.numCards.Load()
}

// MutatorShouldMarkCardsDirty reports whether mutators dirty cards
// themselves on overflow in deferred mode.
func (s *Set) MutatorShouldMarkCardsDirty() bool {
	return s.mutatorShouldMarkCardsDirty.Load()
}

// SetMutatorShouldMarkCardsDirty flips the deferred-dirtying switch. Only
// flipped at safepoint boundaries.
func (s *Set) SetMutatorShouldMarkCardsDirty(v bool) {
	s.mutatorShouldMarkCardsDirty.Store(v)
}

// EnqueueCompletedBuffer pushes a filled buffer onto the lock-free list.
// The card count is added before the node is linked so that a concurrent
// observer's count never underestimates and the decrement during take
// never underflows.
func (s *Set) EnqueueCompletedBuffer(node *qbuf.BufferNode) {
	if !s.deferDirtying {
		panic("wcq: completed buffer enqueue without deferred dirtying")
	}
	s.numCards.Add(uint64(node.Size()))
	s.bufferList.Push(node)
}

// TakeCompletedBuffer pops one completed buffer, or returns nil. The pop
// runs inside an epoch critical section so the node cannot be reclaimed
// under a concurrent popper.
func (s *Set) TakeCompletedBuffer() *qbuf.BufferNode {
	cs := s.allocator.Counter().Enter()
	node := s.bufferList.Pop()
	cs.Exit()
	if node != nil {
		s.numCards.Add(^uint64(node.Size() - 1))
	}
	return node
}

// MarkCardsDirty takes one completed buffer, applies the filter transform,
// dirties the clean cards into dcqueue, and releases the buffer. Returns
// true if a buffer was processed.
func (s *Set) MarkCardsDirty(dcqueue *dcq.DirtyCardQueue, stats *refine.Stats) bool {
	node := s.TakeCompletedBuffer()
	if node == nil {
		return false
	}
	if node.IsEmpty() {
		panic("wcq: empty completed written buffer")
	}
	entries := node.Entries()
	switch s.filter {
	case FilterNone:
		s.markCardsDirtyNoneFiltered(entries, dcqueue, stats)
	case FilterYoung:
		s.markCardsDirtyYoungFiltered(entries, dcqueue, stats)
	case FilterPrevious:
		s.markCardsDirtyPreviousFiltered(entries[:len(entries)-1], dcqueue, stats)
	default:
		panic("wcq: unknown filter mechanism")
	}
	s.allocator.Release(node)
	return true
}

// AbandonCompletedBuffers detaches and deallocates every completed buffer
// and resets the published card count. Safepoint only.
func (s *Set) AbandonCompletedBuffers() {
	chain := s.bufferList.PopAll()
	for chain != nil {
		next := chain.Next()
		chain.SetNext(nil)
		s.allocator.Release(chain)
		chain = next
	}
	s.numCards.Store(0)
}

// ============================================================================
// Filter transforms
// ============================================================================

// The transforms rewrite the written buffer in place into card-table entry
// pointers, then feed it to enqueueCleanCards. No time tracking here:
// clock access is expensive relative to the processing, and this path is
// very time critical.

// markCardsDirtyNoneFiltered converts raw written addresses. Sequential
// runs of the same card are dropped.
func (s *Set) markCardsDirtyNoneFiltered(written []uintptr, dcqueue *dcq.DirtyCardQueue, stats *refine.Stats) bool {
	previous := NoMatchingCard
	kept := 0
	for _, addr := range written {
		cardIndex := addr >> s.ct.Shift()
		if previous == cardIndex {
			continue
		}
		previous = cardIndex
		p := s.ct.EntryFor(cardIndex)
		written[kept] = uintptr(unsafe.Pointer(p))
		kept++
	}
	stats.WrittenCardsFiltered += uint64(len(written) - kept)
	return enqueueCleanCardsHelper(s, written[:kept], dcqueue, stats)
}

// markCardsDirtyYoungFiltered handles buffers that already contain card
// entry pointers which were recently read for the young-gen check.
func (s *Set) markCardsDirtyYoungFiltered(written []uintptr, dcqueue *dcq.DirtyCardQueue, stats *refine.Stats) bool {
	return enqueueCleanCardsHelper(s, written, dcqueue, stats)
}

// markCardsDirtyPreviousFiltered converts card indices. Sequential
// duplicates were already dropped by the barrier.
func (s *Set) markCardsDirtyPreviousFiltered(written []uintptr, dcqueue *dcq.DirtyCardQueue, stats *refine.Stats) bool {
	for i, cardIndex := range written {
		p := s.ct.EntryFor(cardIndex)
		written[i] = uintptr(unsafe.Pointer(p))
	}
	return enqueueCleanCardsHelper(s, written, dcqueue, stats)
}

func enqueueCleanCardsHelper(s *Set, written []uintptr, dcqueue *dcq.DirtyCardQueue, stats *refine.Stats) bool {
	return len(written) > 0 && s.enqueueCleanCards(written, dcqueue, stats)
}

// enqueueCleanCards dirties each clean card in written and bulk-appends its
// entry pointer to dcqueue, deferring the index update to the end of the
// batch. A full buffer mid-batch falls back to the normal enqueue for one
// card, then the batch resumes. Returns true if such a flush happened.
func (s *Set) enqueueCleanCards(written []uintptr, dcqueue *dcq.DirtyCardQueue, stats *refine.Stats) bool {
	flushed := false
	dirtied := uint64(0)
	filtered := uint64(0)
	dirtyBuffer := dcqueue.Buffer()
	dirtyIndex := dcqueue.Index()
	for _, e := range written {
		p := (*card.Value)(unsafe.Pointer(e))
		if card.AtomicLoad(p) != card.CleanCard {
			filtered++
			continue
		}
		// Card is clean: set it dirty and enqueue it.
		card.AtomicStore(p, card.DirtyCard)
		dirtied++
		if dirtyIndex > 0 {
			dirtyIndex--
			dirtyBuffer[dirtyIndex] = e
		} else {
			// Queue full (or not yet allocated). The normal enqueue deals
			// with the full buffer and then adds the card. Installing a
			// first buffer in an empty queue is not a flush.
			hadBuffer := dcqueue.Node() != nil
			if hadBuffer {
				dcqueue.SetIndex(dirtyIndex)
			}
			s.dcqs.Enqueue(dcqueue, e, stats)
			dirtyBuffer = dcqueue.Buffer()
			dirtyIndex = dcqueue.Index()
			if hadBuffer {
				flushed = true
			}
		}
	}
	if dirtied+filtered != uint64(len(written)) {
		panic("wcq: card accounting mismatch")
	}
	stats.WrittenCardsDirtied += dirtied
	stats.WrittenCardsFiltered += filtered
	// Finish recent bulk enqueues.
	if dcqueue.Node() != nil {
		dcqueue.SetIndex(dirtyIndex)
	}
	return flushed
}

// ============================================================================
// Overflow entry points
// ============================================================================

// The write barrier's fast path appends until the queue runs out of slots,
// then calls the entry point matching the configured storage and filter.
// The nine names below are the dispatch targets; each guards against the
// feature being disabled.

type markerFunc func(*Set, []uintptr, *dcq.DirtyCardQueue, *refine.Stats) bool

func markNone(s *Set, w []uintptr, d *dcq.DirtyCardQueue, st *refine.Stats) bool {
	return s.markCardsDirtyNoneFiltered(w, d, st)
}

func markYoung(s *Set, w []uintptr, d *dcq.DirtyCardQueue, st *refine.Stats) bool {
	return s.markCardsDirtyYoungFiltered(w, d, st)
}

func markPrevious(s *Set, w []uintptr, d *dcq.DirtyCardQueue, st *refine.Stats) bool {
	return s.markCardsDirtyPreviousFiltered(w, d, st)
}

func (s *Set) handleFullBufferInline(t Owner, sizeAdjust uintptr, marker markerFunc) {
	if !s.useQueues {
		return
	}
	q := t.WrittenCardQueue()
	if q.Index() != 0 {
		panic("wcq: written card queue not full")
	}
	dcqueue := t.DirtyCardQueue()
	stats := t.RefinementStats()
	bufsize := uintptr(inlineBufferSize) - sizeAdjust
	stats.WrittenCards += uint64(bufsize)
	q.SetIndex(bufsize)
	// The stores being tracked must happen-before the conditional dirty
	// marking.
	membar.Full()
	if marker(s, q.inlineBuffer[:bufsize], dcqueue, stats) {
		s.dcqs.MutatorRefineCompletedBuffer(stats)
	}
}

// handleFullIndirectInitialBuffer promotes a full initial buffer: a real
// buffer is allocated, the initial entries are copied to its tail, and the
// queue is rebased. Returns false if the current buffer is not the initial
// one.
func (s *Set) handleFullIndirectInitialBuffer(q *WrittenCardQueue) bool {
	if q.indirect.node != nil {
		return false
	}
	node := s.allocator.Allocate()
	index := node.Capacity() - initialBufferSize
	// In Previous mode the initial buffer's trailing slot is the sentinel;
	// the copy lands it in the new buffer's trailing slot.
	copy(node.Buffer()[index:], q.indirect.initial[:])
	q.indirect.node = node
	q.SetIndex(index)
	return true
}

func (s *Set) handleFullBufferIndirect(t Owner, sizeAdjust uintptr, marker markerFunc) {
	if !s.useQueues {
		return
	}
	q := t.WrittenCardQueue()
	if q.Index() != 0 {
		panic("wcq: written card queue not full")
	}
	if s.handleFullIndirectInitialBuffer(q) {
		return
	}
	dcqueue := t.DirtyCardQueue()
	stats := t.RefinementStats()
	node := q.indirect.node
	bufsize := node.Capacity() - sizeAdjust
	stats.WrittenCards += uint64(bufsize)
	q.SetIndex(bufsize)
	// The stores being tracked must happen-before the conditional dirty
	// marking.
	membar.Full()
	if marker(s, node.Buffer()[:bufsize], dcqueue, stats) {
		s.dcqs.MutatorRefineCompletedBuffer(stats)
	}
}

func (s *Set) handleFullBufferDeferred(t Owner, sizeAdjust uintptr, marker markerFunc) {
	if !s.useQueues {
		return
	}
	q := t.WrittenCardQueue()
	if q.Index() != 0 {
		panic("wcq: written card queue not full")
	}
	if s.MutatorShouldMarkCardsDirty() {
		s.handleFullBufferIndirect(t, sizeAdjust, marker)
		return
	}
	if s.handleFullIndirectInitialBuffer(q) {
		return
	}

	newNode := s.allocator.Allocate()
	bufsize := newNode.Capacity() - sizeAdjust
	oldNode := q.indirect.node
	oldNode.SetIndex(0)
	stats := t.RefinementStats()
	stats.WrittenCards += uint64(oldNode.Size())
	s.EnqueueCompletedBuffer(oldNode)
	q.indirect.node = newNode
	q.SetIndex(bufsize)
	if sizeAdjust != 0 {
		if sizeAdjust != 1 || s.filter != FilterPrevious {
			panic("wcq: unexpected size adjustment")
		}
		newNode.Buffer()[bufsize] = NoMatchingCard
	}
}

// HandleFullBufferInlineNone is the overflow entry point for inline
// storage with no filtering.
func (s *Set) HandleFullBufferInlineNone(t Owner) {
	s.handleFullBufferInline(t, 0, markNone)
}

// HandleFullBufferInlineYoung is the overflow entry point for inline
// storage with young filtering.
func (s *Set) HandleFullBufferInlineYoung(t Owner) {
	s.handleFullBufferInline(t, 0, markYoung)
}

// HandleFullBufferInlinePrevious is the overflow entry point for inline
// storage with previous-card filtering.
func (s *Set) HandleFullBufferInlinePrevious(t Owner) {
	s.handleFullBufferInline(t, 1, markPrevious)
}

// HandleFullBufferIndirectNone is the overflow entry point for indirect
// storage with no filtering.
func (s *Set) HandleFullBufferIndirectNone(t Owner) {
	s.handleFullBufferIndirect(t, 0, markNone)
}

// HandleFullBufferIndirectYoung is the overflow entry point for indirect
// storage with young filtering.
func (s *Set) HandleFullBufferIndirectYoung(t Owner) {
	s.handleFullBufferIndirect(t, 0, markYoung)
}

// HandleFullBufferIndirectPrevious is the overflow entry point for
// indirect storage with previous-card filtering.
func (s *Set) HandleFullBufferIndirectPrevious(t Owner) {
	s.handleFullBufferIndirect(t, 1, markPrevious)
}

// HandleFullBufferDeferredNone is the overflow entry point for deferred
// dirtying with no filtering.
func (s *Set) HandleFullBufferDeferredNone(t Owner) {
	s.handleFullBufferDeferred(t, 0, markNone)
}

// HandleFullBufferDeferredYoung is the overflow entry point for deferred
// dirtying with young filtering.
func (s *Set) HandleFullBufferDeferredYoung(t Owner) {
	s.handleFullBufferDeferred(t, 0, markYoung)
}

// HandleFullBufferDeferredPrevious is the overflow entry point for
// deferred dirtying with previous-card filtering.
func (s *Set) HandleFullBufferDeferredPrevious(t Owner) {
	s.handleFullBufferDeferred(t, 1, markPrevious)
}

// HandleFullBuffer dispatches to the entry point matching the configured
// storage and filter. The generated barrier calls the nine entry points
// directly; runtime callers go through this.
func (s *Set) HandleFullBuffer(t Owner) {
	switch {
	case s.useInline:
		switch s.filter {
		case FilterNone:
			s.HandleFullBufferInlineNone(t)
		case FilterYoung:
			s.HandleFullBufferInlineYoung(t)
		case FilterPrevious:
			s.HandleFullBufferInlinePrevious(t)
		}
	case s.deferDirtying:
		switch s.filter {
		case FilterNone:
			s.HandleFullBufferDeferredNone(t)
		case FilterYoung:
			s.HandleFullBufferDeferredYoung(t)
		case FilterPrevious:
			s.HandleFullBufferDeferredPrevious(t)
		}
	default:
		switch s.filter {
		case FilterNone:
			s.HandleFullBufferIndirectNone(t)
		case FilterYoung:
			s.HandleFullBufferIndirectYoung(t)
		case FilterPrevious:
			s.HandleFullBufferIndirectPrevious(t)
		}
	}
}

// Append records value in t's written-card queue, running the overflow
// handler first when the queue is full. The barrier fast path does the
// same inline; this is the runtime path.
func (s *Set) Append(t Owner, value uintptr) {
	q := t.WrittenCardQueue()
	if q.indexInBytes == 0 {
		s.HandleFullBuffer(t)
	}
	q.indexInBytes -= elementSize
	q.buffer()[q.indexInBytes/elementSize] = value
}
