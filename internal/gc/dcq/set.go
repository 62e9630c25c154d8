package dcq

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/card-refine/internal/gc/qbuf"
	"github.com/card-refine/internal/gc/refine"
	"github.com/card-refine/pkg/utils"
)

// RefineFunc processes the cards of one completed buffer into
// remembered-set updates. The entries are card-table entry pointers. The
// actual refinement work lives outside this package; the default function
// only counts the cards as refined.
type RefineFunc func(entries []uintptr, stats *refine.Stats)

// Set is the global dirty-card queue set: the completed-buffer list fed by
// per-thread queues, the mutator self-refinement threshold, and the paused
// buffers that accumulate across safepoint boundaries.
type Set struct {
	allocator *qbuf.Allocator

	completed qbuf.Stack
	numCards  atomic.Uint64

	// Pending completed buffers above this many cards make an enqueueing
	// mutator refine one buffer itself. MaxUint64 disables self-service.
	mutatorRefinementThreshold atomic.Uint64

	pausedMu sync.Mutex
	paused   []*qbuf.BufferNode

	detachedMu    sync.Mutex
	detachedStats refine.Stats

	refiner RefineFunc
	clock   utils.Clock
}

// NewSet creates a dirty-card queue set drawing buffers from allocator.
func NewSet(allocator *qbuf.Allocator) *Set {
	s := &Set{
		allocator: allocator,
		clock:     utils.NewRealClock(),
	}
	s.mutatorRefinementThreshold.Store(math.MaxUint64)
	s.refiner = func(entries []uintptr, stats *refine.Stats) {
		stats.RefinedCards += uint64(len(entries))
	}
	return s
}

// SetRefiner installs the refinement function invoked for completed
// buffers. Must be called before concurrent use.
func (s *Set) SetRefiner(fn RefineFunc) {
	s.refiner = fn
}

// SetClock replaces the clock used for refinement timing; for tests.
func (s *Set) SetClock(c utils.Clock) {
	s.clock = c
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

// MutatorRefinementThreshold returns the self-service threshold.
func (s *Set) MutatorRefinementThreshold() uint64 {
	return s.mutatorRefinementThreshold.Load()
}

// SetMutatorRefinementThreshold sets the self-service threshold.
// math.MaxUint64 disables mutator self-refinement.
func (s *Set) SetMutatorRefinementThreshold(v uint64) {
	s.mutatorRefinementThreshold.Store(v)
}

// Enqueue appends a card-table entry pointer to q, installing a fresh
// buffer and publishing the full one first when necessary.
func (s *Set) Enqueue(q *DirtyCardQueue, cardPtr uintptr, stats *refine.Stats) {
	if q.node == nil {
		q.node = s.allocator.Allocate()
	} else if q.node.Index() == 0 {
		s.EnqueueCompletedBuffer(q.node)
		q.node = s.allocator.Allocate()
		s.MutatorRefineCompletedBuffer(stats)
	}
	idx := q.node.Index() - 1
	q.node.Buffer()[idx] = cardPtr
	q.node.SetIndex(idx)
}

// EnqueueCompletedBuffer publishes a filled buffer to the completed list.
// The card count is added before the node is linked so that a concurrent
// observer's count never underestimates.
func (s *Set) EnqueueCompletedBuffer(node *qbuf.BufferNode) {
	s.numCards.Add(uint64(node.Size()))
	s.completed.Push(node)
}

// TakeCompletedBuffer removes one completed buffer, or returns nil.
func (s *Set) TakeCompletedBuffer() *qbuf.BufferNode {
	cs := s.allocator.Counter().Enter()
	node := s.completed.Pop()
	cs.Exit()
	if node != nil {
		s.numCards.Add(^uint64(node.Size() - 1))
	}
	return node
}

// RefineCompletedBuffer takes one completed buffer, refines it, and
// releases it. Returns false if no buffer was available.
func (s *Set) RefineCompletedBuffer(stats *refine.Stats) bool {
	node := s.TakeCompletedBuffer()
	if node == nil {
		return false
	}
	start := s.clock.Now()
	s.refiner(node.Entries(), stats)
	stats.RefinementTime += s.clock.Since(start)
	s.allocator.Release(node)
	return true
}

// MutatorRefineCompletedBuffer makes the calling mutator refine one
// completed buffer if the pending count exceeds the self-service
// threshold.
func (s *Set) MutatorRefineCompletedBuffer(stats *refine.Stats) {
	if s.NumCards() > s.MutatorRefinementThreshold() {
		s.RefineCompletedBuffer(stats)
	}
}

// FlushQueue publishes q's buffer, partial or full, to the completed list
// and detaches it from the queue. Empty buffers are returned to the
// allocator instead. stats is not updated: cards are counted when they
// are dirtied, not when their buffer is flushed.
func (s *Set) FlushQueue(q *DirtyCardQueue, stats *refine.Stats) {
	node := q.node
	if node == nil {
		return
	}
	q.node = nil
	if node.IsEmpty() {
		s.allocator.Release(node)
		return
	}
	s.EnqueueCompletedBuffer(node)
}

// ResetQueue empties q without publishing its contents.
func (s *Set) ResetQueue(q *DirtyCardQueue) {
	if q.node != nil {
		q.node.SetIndex(q.node.Capacity())
	}
}

// PauseCompletedBuffer parks a buffer on the paused list. Used by
// refinement threads interrupted at a safepoint boundary; the buffers
// rejoin the completed list at the next EnqueueAllPausedBuffers.
func (s *Set) PauseCompletedBuffer(node *qbuf.BufferNode) {
	s.pausedMu.Lock()
	s.paused = append(s.paused, node)
	s.pausedMu.Unlock()
}

// EnqueueAllPausedBuffers moves every paused buffer to the completed list.
// Called serially at a safepoint, before any parallel sub-task runs, so no
// other thread is mutating either list.
func (s *Set) EnqueueAllPausedBuffers() {
	s.pausedMu.Lock()
	paused := s.paused
	s.paused = nil
	s.pausedMu.Unlock()
	for _, node := range paused {
		s.EnqueueCompletedBuffer(node)
	}
}

// AbandonCompletedBuffersAndStats drops all completed buffers and the
// detached-thread stats. Safepoint only.
func (s *Set) AbandonCompletedBuffersAndStats() {
	chain := s.completed.PopAll()
	for chain != nil {
		next := chain.Next()
		chain.SetNext(nil)
		s.allocator.Release(chain)
		chain = next
	}
	s.numCards.Store(0)
	s.detachedMu.Lock()
	s.detachedStats.Reset()
	s.detachedMu.Unlock()
}

// RecordDetachedRefinementStats folds the stats of a detaching thread into
// the set, so they survive the thread.
func (s *Set) RecordDetachedRefinementStats(stats refine.Stats) {
	s.detachedMu.Lock()
	s.detachedStats.Add(stats)
	s.detachedMu.Unlock()
}

// GetAndResetDetachedRefinementStats returns the accumulated stats of
// detached threads and clears them.
func (s *Set) GetAndResetDetachedRefinementStats() refine.Stats {
	s.detachedMu.Lock()
	defer s.detachedMu.Unlock()
	result := s.detachedStats
	s.detachedStats.Reset()
	return result
}
