package wcq

import "unsafe"

// Byte offsets of the queue fields a generated write barrier references
// directly: the fill cursor, the inline entry array, and the indirect
// buffer pointer.
const (
	OffsetOfIndexInBytes   = unsafe.Offsetof(WrittenCardQueue{}.indexInBytes)
	OffsetOfInlineBuffer   = unsafe.Offsetof(WrittenCardQueue{}.inlineBuffer)
	OffsetOfIndirectBuffer = unsafe.Offsetof(WrittenCardQueue{}.indirect) +
		unsafe.Offsetof(WrittenCardQueue{}.indirect.node)
)

func init() {
	// The cursor must stay pointer-aligned for the barrier's unscaled
	// addressing of the entry slots.
	if OffsetOfIndexInBytes%elementSize != 0 || OffsetOfInlineBuffer%elementSize != 0 {
		panic("wcq: queue layout violates barrier alignment assumptions")
	}
}
