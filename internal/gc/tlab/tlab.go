// Package tlab implements thread-local allocation buffers and their
// retirement statistics.
package tlab

// TLAB is a thread-local allocation buffer: a bump-pointer window over the
// heap owned by one mutator thread.
type TLAB struct {
	start uintptr
	top   uintptr
	end   uintptr

	retires        uint64
	allocatedBytes uint64
}

// Fill installs a new window [start, end). Any previous window must have
// been retired.
func (t *TLAB) Fill(start, end uintptr) {
	t.start = start
	t.top = start
	t.end = end
}

// Allocate bump-allocates size bytes, returning 0 when the window is
// exhausted.
func (t *TLAB) Allocate(size uintptr) uintptr {
	if t.end-t.top < size {
		return 0
	}
	p := t.top
	t.top += size
	return p
}

// IsActive reports whether the TLAB currently has a window.
func (t *TLAB) IsActive() bool {
	return t.end != 0
}

// Used returns the bytes allocated from the current window.
func (t *TLAB) Used() uintptr {
	return t.top - t.start
}

// Unused returns the bytes remaining in the current window.
func (t *TLAB) Unused() uintptr {
	return t.end - t.top
}

// Retire gives up the current window, folding its usage into stats.
func (t *TLAB) Retire(stats *AllocStats) {
	if !t.IsActive() {
		return
	}
	t.retires++
	t.allocatedBytes += uint64(t.Used())
	stats.Retires++
	stats.AllocatedBytes += uint64(t.Used())
	stats.UnusedBytes += uint64(t.Unused())
	t.start = 0
	t.top = 0
	t.end = 0
}

// AllocStats summarizes TLAB retirement across threads. A plain value;
// sums are built with Update.
type AllocStats struct {
	Retires        uint64
	AllocatedBytes uint64
	UnusedBytes    uint64
}

// Update accumulates other into s.
func (s *AllocStats) Update(other AllocStats) {
	s.Retires += other.Retires
	s.AllocatedBytes += other.AllocatedBytes
	s.UnusedBytes += other.UnusedBytes
}

// Reset zeroes the stats.
func (s *AllocStats) Reset() {
	*s = AllocStats{}
}
