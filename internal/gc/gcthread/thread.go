// Package gcthread provides the thread objects the collector hangs its
// per-thread barrier state off, the registry enumerating them, and the
// chunked claimer used by parallel safepoint tasks.
//
// Goroutines stand in for native threads. A Thread object is the safe
// "current thread" handle: all thread-local barrier data lives on it and is
// reached through the object rather than through goroutine-local storage,
// which also keeps the data reachable from crash-protection unwinding.
package gcthread

import (
	"github.com/card-refine/internal/gc/dcq"
	"github.com/card-refine/internal/gc/refine"
	"github.com/card-refine/internal/gc/tlab"
	"github.com/card-refine/internal/gc/wcq"
	"github.com/card-refine/pkg/collections"
)

// Kind classifies registered threads.
type Kind int

const (
	// KindJava threads run mutator code and carry full barrier state.
	KindJava Kind = iota
	// KindNonJava threads are VM-internal; they never append to a
	// written-card queue but may carry a dirty-card queue.
	KindNonJava
	// KindConcurrentRefine threads are the refinement workers; their
	// dirty-card queues are flushed by a dedicated retirement sub-task.
	KindConcurrentRefine
)

// Thread carries the per-thread barrier structures.
type Thread struct {
	name string
	kind Kind

	entry collections.ListEntry[Thread]

	writtenCardQueue *wcq.WrittenCardQueue
	dirtyCardQueue   dcq.DirtyCardQueue
	refinementStats  refine.Stats
	tlab             tlab.TLAB

	protection *crashProtection
}

// NewThread creates a thread of the given kind. The written-card queue is
// created against wcqs (inert if queues are disabled).
func NewThread(name string, kind Kind, wcqs *wcq.Set) *Thread {
	return &Thread{
		name:             name,
		kind:             kind,
		writtenCardQueue: wcq.NewWrittenCardQueue(wcqs),
	}
}

// Name returns the thread's name.
func (t *Thread) Name() string {
	return t.name
}

// Kind returns the thread's kind.
func (t *Thread) Kind() Kind {
	return t.kind
}

// IsJava reports whether this is a mutator thread.
func (t *Thread) IsJava() bool {
	return t.kind == KindJava
}

// WrittenCardQueue returns the thread's written-card queue.
func (t *Thread) WrittenCardQueue() *wcq.WrittenCardQueue {
	return t.writtenCardQueue
}

// DirtyCardQueue returns the thread's dirty-card queue.
func (t *Thread) DirtyCardQueue() *dcq.DirtyCardQueue {
	return &t.dirtyCardQueue
}

// RefinementStats returns the thread's refinement statistics accumulator.
func (t *Thread) RefinementStats() *refine.Stats {
	return &t.refinementStats
}

// TLAB returns the thread's allocation buffer.
func (t *Thread) TLAB() *tlab.TLAB {
	return &t.tlab
}

func threadEntry(t *Thread) *collections.ListEntry[Thread] {
	return &t.entry
}
