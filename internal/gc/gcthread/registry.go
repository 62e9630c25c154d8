package gcthread

import (
	"sync"
	"sync/atomic"

	"github.com/card-refine/pkg/collections"
)

// Registry tracks every live thread. Registration and removal happen at
// thread create/destroy; enumeration happens at safepoints, so a plain
// reader-writer lock suffices.
type Registry struct {
	mu   sync.RWMutex
	list *collections.List[Thread]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{list: collections.NewList(threadEntry)}
}

// Register adds t to the registry.
func (r *Registry) Register(t *Thread) {
	r.mu.Lock()
	r.list.PushBack(t)
	r.mu.Unlock()
}

// Unregister removes t from the registry.
func (r *Registry) Unregister(t *Thread) {
	r.mu.Lock()
	r.list.Remove(t)
	r.mu.Unlock()
}

// Len returns the number of registered threads.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list.Len()
}

// ThreadsDo calls f for every registered thread.
func (r *Registry) ThreadsDo(f func(*Thread)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.list.Do(f)
}

// NonJavaThreadsDo calls f for every registered non-mutator thread,
// excluding concurrent-refine threads.
func (r *Registry) NonJavaThreadsDo(f func(*Thread)) {
	r.ThreadsDo(func(t *Thread) {
		if t.kind == KindNonJava {
			f(t)
		}
	})
}

// ConcurrentRefineThreadsDo calls f for every refinement worker thread.
func (r *Registry) ConcurrentRefineThreadsDo(f func(*Thread)) {
	r.ThreadsDo(func(t *Thread) {
		if t.kind == KindConcurrentRefine {
			f(t)
		}
	})
}

// JavaThreadsSnapshot returns the current mutator threads as a slice, for
// claiming by parallel workers.
func (r *Registry) JavaThreadsSnapshot() []*Thread {
	r.mu.RLock()
	defer r.mu.RUnlock()
	threads := make([]*Thread, 0, r.list.Len())
	r.list.Do(func(t *Thread) {
		if t.IsJava() {
			threads = append(threads, t)
		}
	})
	return threads
}

// JavaThreadsListClaimer parcels the mutator threads out to parallel
// workers in fixed-size chunks. Claiming is a single atomic add, so
// workers can pull chunks concurrently without coordination.
type JavaThreadsListClaimer struct {
	threads []*Thread
	chunk   uint
	next    atomic.Uint64
}

// NewJavaThreadsListClaimer snapshots the registry's mutator threads and
// serves them in chunks of the given size.
func NewJavaThreadsListClaimer(r *Registry, chunk uint) *JavaThreadsListClaimer {
	if chunk == 0 {
		panic("gcthread: zero claim chunk")
	}
	return &JavaThreadsListClaimer{
		threads: r.JavaThreadsSnapshot(),
		chunk:   chunk,
	}
}

// Length returns the number of threads being served.
func (c *JavaThreadsListClaimer) Length() uint {
	return uint(len(c.threads))
}

// Claim returns the next chunk of threads, or nil when all are claimed.
func (c *JavaThreadsListClaimer) Claim() []*Thread {
	start := (c.next.Add(1) - 1) * uint64(c.chunk)
	if start >= uint64(len(c.threads)) {
		return nil
	}
	end := start + uint64(c.chunk)
	if end > uint64(len(c.threads)) {
		end = uint64(len(c.threads))
	}
	return c.threads[start:end]
}

// Apply claims chunks until exhausted, calling f for every thread.
func (c *JavaThreadsListClaimer) Apply(f func(*Thread)) {
	for chunk := c.Claim(); chunk != nil; chunk = c.Claim() {
		for _, t := range chunk {
			f(t)
		}
	}
}
