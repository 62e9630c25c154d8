package gcthread

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/card-refine/internal/gc/card"
	"github.com/card-refine/internal/gc/dcq"
	"github.com/card-refine/internal/gc/qbuf"
	"github.com/card-refine/internal/gc/wcq"
)

func newTestWCQS() *wcq.Set {
	ct := card.NewTable(0, 1<<16, 9)
	return wcq.NewSet(qbuf.NewAllocator("wc", 64), ct, dcq.NewSet(qbuf.NewAllocator("dc", 64)), wcq.Options{
		UseQueues: true,
		UseInline: true,
	})
}

func registryWith(n int, kind Kind, wcqs *wcq.Set) *Registry {
	r := NewRegistry()
	for i := 0; i < n; i++ {
		r.Register(NewThread(fmt.Sprintf("t-%d", i), kind, wcqs))
	}
	return r
}

func TestRegistry_KindFiltering(t *testing.T) {
	wcqs := newTestWCQS()
	r := NewRegistry()
	r.Register(NewThread("java", KindJava, wcqs))
	r.Register(NewThread("vm", KindNonJava, wcqs))
	r.Register(NewThread("refine", KindConcurrentRefine, wcqs))

	assert.Equal(t, 3, r.Len())

	count := map[Kind]int{}
	r.ThreadsDo(func(th *Thread) { count[th.Kind()]++ })
	assert.Equal(t, map[Kind]int{KindJava: 1, KindNonJava: 1, KindConcurrentRefine: 1}, count)

	nonJava := 0
	r.NonJavaThreadsDo(func(th *Thread) { nonJava++ })
	assert.Equal(t, 1, nonJava)

	refiners := 0
	r.ConcurrentRefineThreadsDo(func(th *Thread) { refiners++ })
	assert.Equal(t, 1, refiners)

	assert.Len(t, r.JavaThreadsSnapshot(), 1)
}

func TestClaimer_CoversAllThreadsOnce(t *testing.T) {
	wcqs := newTestWCQS()
	r := registryWith(1003, KindJava, wcqs)
	claimer := NewJavaThreadsListClaimer(r, 250)
	require.Equal(t, uint(1003), claimer.Length())

	seen := make(map[*Thread]int)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimer.Apply(func(th *Thread) {
				mu.Lock()
				seen[th]++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1003)
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}
}

func TestClaimer_ChunkSizes(t *testing.T) {
	wcqs := newTestWCQS()
	r := registryWith(600, KindJava, wcqs)
	claimer := NewJavaThreadsListClaimer(r, 250)

	assert.Len(t, claimer.Claim(), 250)
	assert.Len(t, claimer.Claim(), 250)
	assert.Len(t, claimer.Claim(), 100)
	assert.Nil(t, claimer.Claim())
}

func TestCrashProtection_NormalCompletion(t *testing.T) {
	th := NewThread("t", KindJava, newTestWCQS())
	ran := false
	assert.True(t, th.CallWithCrashProtection(func() {
		ran = true
		assert.True(t, th.IsCrashProtected())
	}))
	assert.True(t, ran)
	assert.False(t, th.IsCrashProtected())
}

func TestCrashProtection_PanicAborts(t *testing.T) {
	th := NewThread("t", KindJava, newTestWCQS())
	completed := th.CallWithCrashProtection(func() {
		panic("simulated crash")
	})
	assert.False(t, completed)
	assert.False(t, th.IsCrashProtected())
}

func TestCrashProtection_Unwind(t *testing.T) {
	th := NewThread("t", KindJava, newTestWCQS())
	reached := false
	completed := th.CallWithCrashProtection(func() {
		th.UnwindIfProtected()
		reached = true
	})
	assert.False(t, completed)
	assert.False(t, reached)
}

func TestCrashProtection_Nesting(t *testing.T) {
	th := NewThread("t", KindJava, newTestWCQS())
	outerCompleted := th.CallWithCrashProtection(func() {
		innerCompleted := th.CallWithCrashProtection(func() {
			th.UnwindIfProtected()
		})
		assert.False(t, innerCompleted)
		// The unwind lands at the inner protector; the outer scope keeps
		// running.
		assert.True(t, th.IsCrashProtected())
	})
	assert.True(t, outerCompleted)
}

func TestCrashProtection_UnprotectedUnwindIsNoop(t *testing.T) {
	th := NewThread("t", KindJava, newTestWCQS())
	assert.NotPanics(t, func() { th.UnwindIfProtected() })
}
