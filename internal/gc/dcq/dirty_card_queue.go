// Package dcq implements the per-thread dirty-card queues and their global
// set. The queues log card-table entry pointers for cards that have been
// dirtied; refinement consumes completed buffers from the set.
package dcq

import (
	"github.com/card-refine/internal/gc/qbuf"
)

// DirtyCardQueue is a thread-local, fill-downward log of card-table entry
// pointers. The buffer is allocated lazily on first enqueue and published
// to the set when full.
type DirtyCardQueue struct {
	node *qbuf.BufferNode
}

// Node returns the current buffer node, or nil if none is installed.
func (q *DirtyCardQueue) Node() *qbuf.BufferNode {
	return q.node
}

// Buffer returns the entry storage of the current buffer, or nil if no
// buffer is installed. Used by the bulk-enqueue path, which writes entries
// directly and defers the index update.
func (q *DirtyCardQueue) Buffer() []uintptr {
	if q.node == nil {
		return nil
	}
	return q.node.Buffer()
}

// Index returns the fill cursor of the current buffer; 0 when no buffer is
// installed, so callers treat a missing buffer as a full one.
func (q *DirtyCardQueue) Index() uintptr {
	if q.node == nil {
		return 0
	}
	return q.node.Index()
}

// SetIndex sets the fill cursor. Must not be called without a buffer.
func (q *DirtyCardQueue) SetIndex(i uintptr) {
	q.node.SetIndex(i)
}

// Size returns the number of enqueued cards in the current buffer.
func (q *DirtyCardQueue) Size() uintptr {
	if q.node == nil {
		return 0
	}
	return q.node.Size()
}

// IsEmpty returns true if no cards are pending in the queue.
func (q *DirtyCardQueue) IsEmpty() bool {
	return q.node == nil || q.node.IsEmpty()
}
