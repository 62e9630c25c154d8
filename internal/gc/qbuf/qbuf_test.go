package qbuf

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferNode_FillDownward(t *testing.T) {
	a := NewAllocator("test", 8)
	node := a.Allocate()

	require.Equal(t, uintptr(8), node.Capacity())
	assert.Equal(t, uintptr(8), node.Index())
	assert.True(t, node.IsEmpty())
	assert.Equal(t, uintptr(0), node.Size())

	node.SetIndex(5)
	assert.Equal(t, uintptr(3), node.Size())
	assert.Len(t, node.Entries(), 3)
}

func TestAllocator_Recycles(t *testing.T) {
	a := NewAllocator("test", 4)
	nodes := make([]*BufferNode, 0, pendingTransferThreshold+2)
	for i := 0; i < cap(nodes); i++ {
		nodes = append(nodes, a.Allocate())
	}
	for _, n := range nodes {
		n.SetIndex(0)
		a.Release(n)
	}
	// Enough releases ran to trigger a pending-to-free transfer; a new
	// allocation must come back empty regardless of its prior fill.
	got := a.Allocate()
	assert.True(t, got.IsEmpty())
}

func TestAllocator_RejectsForeignNode(t *testing.T) {
	a := NewAllocator("a", 4)
	b := NewAllocator("b", 4)
	node := a.Allocate()
	assert.Panics(t, func() { b.Release(node) })
}

func TestStack_PushPop(t *testing.T) {
	a := NewAllocator("test", 4)
	var s Stack

	n1 := a.Allocate()
	n2 := a.Allocate()
	s.Push(n1)
	s.Push(n2)

	cs := a.Counter().Enter()
	got := s.Pop()
	cs.Exit()
	assert.Same(t, n2, got)
	assert.Nil(t, got.Next())

	cs = a.Counter().Enter()
	assert.Same(t, n1, s.Pop())
	assert.Nil(t, s.Pop())
	cs.Exit()
	assert.True(t, s.IsEmpty())
}

func TestStack_PopAll(t *testing.T) {
	a := NewAllocator("test", 4)
	var s Stack
	for i := 0; i < 3; i++ {
		s.Push(a.Allocate())
	}
	chain := s.PopAll()
	assert.True(t, s.IsEmpty())

	count := 0
	for n := chain; n != nil; n = n.Next() {
		count++
	}
	assert.Equal(t, 3, count)
}

func TestStack_ConcurrentPushPop(t *testing.T) {
	a := NewAllocator("test", 4)
	var s Stack

	const producers = 4
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				s.Push(a.Allocate())
			}
		}()
	}
	wg.Wait()

	var popped atomic.Int64
	var popWG sync.WaitGroup
	for c := 0; c < 4; c++ {
		popWG.Add(1)
		go func() {
			defer popWG.Done()
			for {
				cs := a.Counter().Enter()
				n := s.Pop()
				cs.Exit()
				if n == nil {
					return
				}
				popped.Add(1)
				a.Release(n)
			}
		}()
	}
	popWG.Wait()

	assert.Equal(t, int64(producers*perProducer), popped.Load())
	assert.True(t, s.IsEmpty())
}

func TestGlobalCounter_Synchronize(t *testing.T) {
	g := NewGlobalCounter()

	// With no readers a synchronize returns immediately.
	g.WriteSynchronize()

	cs := g.Enter()
	done := make(chan struct{})
	go func() {
		g.WriteSynchronize()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WriteSynchronize returned while a critical section was open")
	default:
	}

	cs.Exit()
	<-done
}
