// Package wcq implements the per-thread written-card queues and their
// global set. The write barrier appends compact records of written
// locations; overflow handlers either transform them into dirty cards
// immediately or hand whole buffers to refinement threads.
package wcq

import (
	"unsafe"

	"github.com/card-refine/internal/gc/dcq"
	"github.com/card-refine/internal/gc/qbuf"
	"github.com/card-refine/internal/gc/refine"
)

// Filter selects what the write barrier stores in the queue.
type Filter int

const (
	// FilterNone stores raw written addresses, after barrier precision.
	FilterNone Filter = 0
	// FilterYoung stores card-table entry pointers; the barrier has
	// already filtered out writes to the young generation.
	FilterYoung Filter = 1
	// FilterPrevious stores card indices; the barrier has already dropped
	// sequential writes to the same card.
	FilterPrevious Filter = 2
)

// NoMatchingCard is the sentinel stored in the trailing slot of a
// Previous-filter buffer. It matches no valid card index, so the barrier's
// previous-entry comparison is valid even on an empty queue.
const NoMatchingCard = ^uintptr(0)

const (
	inlineBufferSize  = 36
	initialBufferSize = 2
	elementSize       = unsafe.Sizeof(uintptr(0))
)

// WrittenCardQueue is the per-thread log of written cards.
//
// The layout depends on the set's buffer mode. In inline mode entries live
// in a fixed array inside the queue. In indirect mode they live in an
// external buffer; until the first overflow the tiny initial array stands
// in for it (indirect.node == nil means the initial array is current).
//
// indexInBytes is the fill cursor in bytes, always pointer-size aligned;
// the queue fills downward, so empty means index == capacity. With the
// Previous filter the trailing slot holds NoMatchingCard and the effective
// capacity is one less.
type WrittenCardQueue struct {
	set          *Set
	indexInBytes uintptr
	inlineBuffer [inlineBufferSize]uintptr
	indirect     struct {
		node    *qbuf.BufferNode
		initial [initialBufferSize]uintptr
	}
}

// NewWrittenCardQueue creates an empty queue belonging to set. With
// written-card queues disabled the queue is inert.
func NewWrittenCardQueue(set *Set) *WrittenCardQueue {
	q := &WrittenCardQueue{set: set}
	if set.useQueues {
		q.Reset()
	}
	return q
}

// buffer returns the current entry storage.
func (q *WrittenCardQueue) buffer() []uintptr {
	if q.set.useInline {
		return q.inlineBuffer[:]
	}
	if q.indirect.node == nil {
		return q.indirect.initial[:]
	}
	return q.indirect.node.Buffer()
}

// rawCapacity is the slot count of the current storage, sentinel included.
func (q *WrittenCardQueue) rawCapacity() uintptr {
	if q.set.useInline {
		return inlineBufferSize
	}
	if q.indirect.node == nil {
		return initialBufferSize
	}
	return q.indirect.node.Capacity()
}

// CurrentCapacity returns the effective capacity: the slot count minus the
// sentinel slot in Previous mode.
func (q *WrittenCardQueue) CurrentCapacity() uintptr {
	capacity := q.rawCapacity()
	if q.set.filter == FilterPrevious {
		capacity--
	}
	return capacity
}

// Index returns the fill cursor in elements.
func (q *WrittenCardQueue) Index() uintptr {
	return q.indexInBytes / elementSize
}

// SetIndex sets the fill cursor in elements.
func (q *WrittenCardQueue) SetIndex(i uintptr) {
	if i > q.CurrentCapacity() {
		panic("wcq: index out of range")
	}
	q.indexInBytes = i * elementSize
}

// Size returns the number of recorded entries.
func (q *WrittenCardQueue) Size() uintptr {
	return q.CurrentCapacity() - q.Index()
}

// IsEmpty returns true if no entries are recorded.
func (q *WrittenCardQueue) IsEmpty() bool {
	return q.Index() == q.CurrentCapacity()
}

// LastRecorded returns the most recently appended entry, or the sentinel
// when the queue is empty in Previous mode. The barrier's duplicate check
// reads this.
func (q *WrittenCardQueue) LastRecorded() uintptr {
	return q.buffer()[q.Index()]
}

// Reset empties the queue and, in Previous mode, rewrites the trailing
// sentinel.
func (q *WrittenCardQueue) Reset() {
	capacity := q.CurrentCapacity()
	q.SetIndex(capacity)
	if q.set.filter == FilterPrevious {
		q.buffer()[capacity] = NoMatchingCard
	}
}

// MarkCardsDirty transforms the recorded entries according to the filter,
// dirties the clean ones, and appends them to dcqueue. Returns true if the
// dirty-card queue was flushed because of a full buffer.
func (q *WrittenCardQueue) MarkCardsDirty(dcqueue *dcq.DirtyCardQueue, stats *refine.Stats) bool {
	buf := q.buffer()
	capacity := q.rawCapacity()
	idx := q.Index()
	if capacity <= idx {
		if capacity != idx || q.set.filter == FilterPrevious {
			panic("wcq: fill cursor past capacity")
		}
		return false
	}
	entries := buf[idx:capacity]
	switch q.set.filter {
	case FilterNone:
		q.SetIndex(capacity)
		return q.set.markCardsDirtyNoneFiltered(entries, dcqueue, stats)
	case FilterYoung:
		q.SetIndex(capacity)
		return q.set.markCardsDirtyYoungFiltered(entries, dcqueue, stats)
	case FilterPrevious:
		q.SetIndex(capacity - 1)
		entries = entries[:len(entries)-1]
		if len(entries) == 0 {
			return false
		}
		return q.set.markCardsDirtyPreviousFiltered(entries, dcqueue, stats)
	}
	panic("wcq: unknown filter mechanism")
}

// DiscardBuffer returns an indirect queue's external buffer to the
// allocator and reinstalls the initial buffer. The queue must be empty.
// Used at thread detach.
func (q *WrittenCardQueue) DiscardBuffer() {
	if !q.set.useQueues || q.set.useInline {
		return
	}
	if !q.IsEmpty() {
		panic("wcq: discarding non-empty queue")
	}
	if node := q.indirect.node; node != nil {
		q.indirect.node = nil
		q.set.allocator.Release(node)
	}
	q.Reset()
}
