// Package membar provides explicit memory ordering barriers.
//
// Go's memory model only orders operations through synchronization
// primitives. The write-barrier paths need two orderings that plain code
// does not give: application stores must happen-before the clean-to-dirty
// card transition, and a card-value compare must be ordered after preceding
// stores. Both are expressed here as full barriers built from an atomic
// read-modify-write, which all supported architectures implement with a
// fully ordered instruction.
package membar

import "sync/atomic"

var guard atomic.Uint64

// Full is a full two-way barrier: no load or store moves across it in
// either direction.
func Full() {
	guard.Add(0)
}

// StoreLoad orders preceding stores before subsequent loads. Implemented as
// a full barrier; StoreLoad is the only ordering that cannot be had cheaper.
func StoreLoad() {
	guard.Add(0)
}
