// Package collections provides the generic data structures shared across
// the module.
package collections

import "math/bits"

// ============================================================================
// Bitset - fixed-size boolean set
// ============================================================================

// Bitset is a fixed-size boolean set using one bit per element. It tracks
// the young-region set and similar dense index sets; callers provide their
// own synchronization.
type Bitset struct {
	words []uint64
	size  int
}

// NewBitset creates a bitset holding indices [0, size).
func NewBitset(size int) *Bitset {
	if size <= 0 {
		size = 64
	}
	return &Bitset{
		words: make([]uint64, (size+63)/64),
		size:  size,
	}
}

// Size returns the index capacity.
func (b *Bitset) Size() int {
	return b.size
}

// Set sets the bit at index i.
func (b *Bitset) Set(i int) {
	b.words[i/64] |= 1 << (uint(i) % 64)
}

// Clear clears the bit at index i.
func (b *Bitset) Clear(i int) {
	b.words[i/64] &^= 1 << (uint(i) % 64)
}

// Test reports whether the bit at index i is set.
func (b *Bitset) Test(i int) bool {
	return b.words[i/64]&(1<<(uint(i)%64)) != 0
}

// Count returns the number of set bits.
func (b *Bitset) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// ClearAll clears every bit.
func (b *Bitset) ClearAll() {
	for i := range b.words {
		b.words[i] = 0
	}
}

// ForEachSet calls fn for every set index in ascending order.
func (b *Bitset) ForEachSet(fn func(i int)) {
	for wi, w := range b.words {
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			fn(wi*64 + bit)
			w &= w - 1
		}
	}
}
