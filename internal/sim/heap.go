// Package sim provides the simulated regionized heap and mutator workload
// used to drive the write-barrier queues and refinement control end to
// end, both from the CLI and from integration tests.
package sim

import (
	"sync"
	"unsafe"

	"github.com/card-refine/internal/gc/card"
	"github.com/card-refine/internal/gc/refine"
	"github.com/card-refine/pkg/collections"
	"github.com/card-refine/pkg/config"
)

// Heap is a regionized slab of memory with a card table. Mutators
// bump-allocate TLAB windows out of young regions; old regions are the
// targets of cross-region reference writes. A pause promotes the young
// regions to old and collects the oldest old regions back onto the free
// list once more than half the heap is old.
type Heap struct {
	slab        []byte
	base        uintptr
	regionBytes uintptr
	numRegions  uint

	ct *card.Table

	mu          sync.Mutex
	free        []uint
	old         []uint
	youngSet    *collections.Bitset
	allocCursor uintptr
	allocLimit  uintptr

	// Cumulative regions handed out, for the allocation-rate sample.
	totalAllocated uint
}

// NewHeap allocates the slab and card table described by cfg.
func NewHeap(cfg config.HeapConfig) *Heap {
	slab := make([]byte, cfg.HeapBytes)
	base := uintptr(unsafe.Pointer(&slab[0]))
	numRegions := uint(cfg.HeapBytes / cfg.RegionBytes)
	h := &Heap{
		slab:        slab,
		base:        base,
		regionBytes: uintptr(cfg.RegionBytes),
		numRegions:  numRegions,
		ct:          card.NewTable(base, uintptr(cfg.HeapBytes), uintptr(cfg.CardShift)),
		youngSet:    collections.NewBitset(int(numRegions)),
	}
	for i := uint(0); i < numRegions; i++ {
		h.free = append(h.free, i)
	}
	return h
}

// CardTable returns the heap's card table.
func (h *Heap) CardTable() *card.Table {
	return h.ct
}

// Base returns the heap's start address.
func (h *Heap) Base() uintptr {
	return h.base
}

// RegionBytes returns the region size.
func (h *Heap) RegionBytes() uint64 {
	return uint64(h.regionBytes)
}

// NumRegions returns the region count.
func (h *Heap) NumRegions() uint {
	return h.numRegions
}

// regionIndex returns the region covering addr.
func (h *Heap) regionIndex(addr uintptr) uint {
	return uint((addr - h.base) / h.regionBytes)
}

// regionStart returns the first address of region i.
func (h *Heap) regionStart(i uint) uintptr {
	return h.base + uintptr(i)*h.regionBytes
}

// AvailableBytes returns the bytes in free regions; the refinement
// controller divides this by the allocation rate.
func (h *Heap) AvailableBytes() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return uint64(len(h.free)) * uint64(h.regionBytes)
}

// AllocatedRegions returns the cumulative number of regions handed out.
func (h *Heap) AllocatedRegions() uint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totalAllocated
}

// AllocateWindow carves a TLAB window of the given size out of the current
// young region, starting a fresh young region when the current one is
// exhausted. Returns (0, 0) when no free region remains and a GC is
// required.
func (h *Heap) AllocateWindow(size uintptr) (start, end uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.allocLimit-h.allocCursor < size {
		if len(h.free) == 0 {
			return 0, 0
		}
		region := h.free[len(h.free)-1]
		h.free = h.free[:len(h.free)-1]
		h.youngSet.Set(int(region))
		h.totalAllocated++
		h.allocCursor = h.regionStart(region)
		h.allocLimit = h.allocCursor + h.regionBytes
		// Young region cards never need tracking.
		h.ct.SetYoungRange(h.allocCursor, h.allocLimit)
	}
	start = h.allocCursor
	h.allocCursor += size
	return start, h.allocCursor
}

// IsYoung reports whether addr lies in a young region.
func (h *Heap) IsYoung(addr uintptr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.youngSet.Test(int(h.regionIndex(addr)))
}

// OldRegionCount returns the number of old regions.
func (h *Heap) OldRegionCount() uint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return uint(len(h.old))
}

// RandomOldAddr returns an address inside an old region, or 0 if none
// exists yet. seed selects deterministically among regions and offsets.
func (h *Heap) RandomOldAddr(seed uint64) uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.old) == 0 {
		return 0
	}
	region := h.old[seed%uint64(len(h.old))]
	offset := uintptr(seed>>16) % h.regionBytes &^ 7
	return h.regionStart(region) + offset
}

// PromoteYoung runs the heap side of a pause: young regions become old
// with their cards returned to clean, and when more than half the heap is
// old the oldest regions are collected back onto the free list. The
// allocation window is discarded so the next TLAB starts a fresh young
// region.
func (h *Heap) PromoteYoung() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.youngSet.ForEachSet(func(i int) {
		h.cleanRegionCards(uint(i))
		h.old = append(h.old, uint(i))
	})
	h.youngSet.ClearAll()
	h.allocCursor = 0
	h.allocLimit = 0

	for uint(len(h.old)) > h.numRegions/2 {
		region := h.old[0]
		h.old = h.old[1:]
		h.cleanRegionCards(region)
		h.free = append(h.free, region)
	}
}

func (h *Heap) cleanRegionCards(region uint) {
	start := h.regionStart(region)
	for c := h.ct.IndexFor(start); c < h.ct.IndexFor(start+h.regionBytes-1)+1; c++ {
		card.AtomicStore(h.ct.EntryFor(c), card.CleanCard)
	}
}

// refineEntries is the simulation's refinement function: a dirty card is
// "refined" by scanning it (not modeled) and returning it to clean. Cards
// some other thread already refined count as precleaned.
func (h *Heap) refineEntries(entries []uintptr, stats *refine.Stats) {
	for _, e := range entries {
		p := card.EntryFromUintptr(e)
		if card.AtomicLoad(p) == card.DirtyCard {
			card.AtomicStore(p, card.CleanCard)
			stats.RefinedCards++
		} else {
			stats.PrecleanedCards++
		}
	}
}
