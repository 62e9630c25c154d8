package collections

// ============================================================================
// Intrusive List - doubly-linked list with embedded links
// ============================================================================

// ListEntry is the link embedded in elements of an intrusive List.
//
// The owner field distinguishes an entry embedded in an element from the
// list's root sentinel: the sentinel has a nil owner. This is the explicit
// tagged form of the usual container-of trick; it costs one word per entry
// and avoids any pointer arithmetic.
type ListEntry[T any] struct {
	prev, next *ListEntry[T]
	owner      *T
}

// InList reports whether the entry is currently linked into a list.
func (e *ListEntry[T]) InList() bool {
	return e.next != nil
}

// List is an intrusive doubly-linked list.
//
// Elements embed a ListEntry and the list is parameterized by a function
// extracting that entry from an element. An element may be in at most one
// list per embedded entry. The zero List is not ready for use; construct
// with NewList.
type List[T any] struct {
	root    ListEntry[T]
	entryOf func(*T) *ListEntry[T]
	length  int
}

// NewList creates a list whose elements link through the entry returned by
// entryOf.
func NewList[T any](entryOf func(*T) *ListEntry[T]) *List[T] {
	l := &List[T]{entryOf: entryOf}
	l.root.prev = &l.root
	l.root.next = &l.root
	return l
}

// Len returns the number of elements in the list.
func (l *List[T]) Len() int {
	return l.length
}

// IsEmpty returns true if the list has no elements.
func (l *List[T]) IsEmpty() bool {
	return l.length == 0
}

// Front returns the first element, or nil if the list is empty.
func (l *List[T]) Front() *T {
	return l.root.next.owner
}

// Back returns the last element, or nil if the list is empty.
func (l *List[T]) Back() *T {
	return l.root.prev.owner
}

// PushBack appends x to the list. x must not already be in a list through
// the same entry.
func (l *List[T]) PushBack(x *T) {
	l.insertBefore(x, &l.root)
}

// PushFront prepends x to the list.
func (l *List[T]) PushFront(x *T) {
	l.insertBefore(x, l.root.next)
}

func (l *List[T]) insertBefore(x *T, at *ListEntry[T]) {
	e := l.entryOf(x)
	if e.InList() {
		panic("collections: element already in an intrusive list")
	}
	e.owner = x
	e.prev = at.prev
	e.next = at
	at.prev.next = e
	at.prev = e
	l.length++
}

// Remove unlinks x from the list. x must be in this list.
func (l *List[T]) Remove(x *T) {
	e := l.entryOf(x)
	if !e.InList() {
		panic("collections: element not in an intrusive list")
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev = nil
	e.next = nil
	e.owner = nil
	l.length--
}

// Next returns the element after x, or nil if x is the last element.
func (l *List[T]) Next(x *T) *T {
	return l.entryOf(x).next.owner
}

// Prev returns the element before x, or nil if x is the first element.
func (l *List[T]) Prev(x *T) *T {
	return l.entryOf(x).prev.owner
}

// Do calls f for each element in order. f must not add or remove elements.
func (l *List[T]) Do(f func(*T)) {
	for e := l.root.next; e != &l.root; e = e.next {
		f(e.owner)
	}
}
