package barrier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/card-refine/internal/gc/card"
	"github.com/card-refine/internal/gc/gcthread"
	"github.com/card-refine/internal/gc/refine"
	"github.com/card-refine/internal/gc/wcq"
)

func newTestBarrier(t *testing.T, wcOpts wcq.Options) (*Set, *card.Table) {
	t.Helper()
	ct := card.NewTable(0x10000, 0x10000, 9)
	bs := NewSet(ct, gcthread.NewRegistry(), Options{
		WrittenCardBufferSize: 64,
		UpdateBufferSize:      64,
		WrittenCard:           wcOpts,
	})
	return bs, ct
}

func attach(bs *Set, name string) *gcthread.Thread {
	th := gcthread.NewThread(name, gcthread.KindJava, bs.WrittenCardQueueSet())
	bs.OnThreadCreate(th)
	bs.OnThreadAttach(th)
	return th
}

func TestWriteRefFieldPost_ClassicBarrier(t *testing.T) {
	bs, ct := newTestBarrier(t, wcq.Options{UseQueues: false})
	th := attach(bs, "t")

	bs.WriteRefFieldPost(th, 0x10010)
	assert.Equal(t, card.DirtyCard, card.AtomicLoad(ct.ByteFor(0x10010)))
	assert.Equal(t, uintptr(1), th.DirtyCardQueue().Size())
	assert.Equal(t, uint64(1), th.RefinementStats().DirtiedCards)

	// An already dirty card is not enqueued again.
	bs.WriteRefFieldPost(th, 0x10020)
	assert.Equal(t, uintptr(1), th.DirtyCardQueue().Size())
}

func TestWriteRefFieldPost_YoungSkipped(t *testing.T) {
	bs, ct := newTestBarrier(t, wcq.Options{UseQueues: true, FilterMechanism: wcq.FilterYoung})
	th := attach(bs, "t")

	ct.SetYoungRange(0x10000, 0x10200)
	bs.WriteRefFieldPost(th, 0x10010)
	assert.True(t, th.WrittenCardQueue().IsEmpty())

	bs.WriteRefFieldPost(th, 0x10210)
	assert.Equal(t, uintptr(1), th.WrittenCardQueue().Size())
}

func TestWriteRefFieldPost_PreviousDropsDuplicates(t *testing.T) {
	bs, _ := newTestBarrier(t, wcq.Options{UseQueues: true, FilterMechanism: wcq.FilterPrevious})
	th := attach(bs, "t")

	bs.WriteRefFieldPost(th, 0x10010)
	bs.WriteRefFieldPost(th, 0x10018)
	bs.WriteRefFieldPost(th, 0x10040)
	assert.Equal(t, uintptr(1), th.WrittenCardQueue().Size())

	bs.WriteRefFieldPost(th, 0x10210)
	assert.Equal(t, uintptr(2), th.WrittenCardQueue().Size())
}

func TestInvalidate(t *testing.T) {
	bs, ct := newTestBarrier(t, wcq.Options{UseQueues: false})
	th := attach(bs, "t")

	bs.Invalidate(th, 0x10000, 0x10600)
	// Three cards dirtied and enqueued.
	assert.Equal(t, uintptr(3), th.DirtyCardQueue().Size())
	assert.Equal(t, card.DirtyCard, card.AtomicLoad(ct.ByteFor(0x10400)))
}

func TestOnThreadDetach_DrainsQueues(t *testing.T) {
	bs, ct := newTestBarrier(t, wcq.Options{UseQueues: true, FilterMechanism: wcq.FilterNone})
	th := attach(bs, "t")

	bs.WriteRefFieldPost(th, 0x10010)
	bs.WriteRefFieldPost(th, 0x10400)
	require.False(t, th.WrittenCardQueue().IsEmpty())

	bs.OnThreadDetach(th)

	assert.True(t, th.WrittenCardQueue().IsEmpty())
	assert.True(t, th.DirtyCardQueue().IsEmpty())
	assert.Equal(t, refine.Stats{}, *th.RefinementStats())
	// The written cards were dirtied on the way out and flushed globally.
	assert.Equal(t, card.DirtyCard, card.AtomicLoad(ct.ByteFor(0x10010)))
	assert.Equal(t, uint64(2), bs.DirtyCardQueueSet().NumCards())
	detached := bs.DirtyCardQueueSet().GetAndResetDetachedRefinementStats()
	assert.Equal(t, uint64(2), detached.WrittenCardsDirtied)

	bs.OnThreadDestroy(th)
	assert.Equal(t, 0, bs.Registry().Len())
}

func TestAbandonPostBarrierLogsAndStats(t *testing.T) {
	bs, _ := newTestBarrier(t, wcq.Options{UseQueues: true, DeferDirtying: true, FilterMechanism: wcq.FilterNone})
	th := attach(bs, "t")
	wcqs := bs.WrittenCardQueueSet()
	dcqs := bs.DirtyCardQueueSet()

	// Twenty dirty-card entries on the thread, plus completed written
	// buffers on the global list.
	for i := uintptr(0); i < 20; i++ {
		dcqs.Enqueue(th.DirtyCardQueue(), 0x1000+i, th.RefinementStats())
	}
	for i := 0; i < 2; i++ {
		node := wcqs.Allocator().Allocate()
		node.SetIndex(0)
		wcqs.EnqueueCompletedBuffer(node)
	}
	th.RefinementStats().RefinedCards = 5
	require.NotZero(t, wcqs.NumCards())

	bs.AbandonPostBarrierLogsAndStats()

	assert.True(t, th.DirtyCardQueue().IsEmpty())
	assert.True(t, th.WrittenCardQueue().IsEmpty())
	assert.Equal(t, uint64(0), wcqs.NumCards())
	assert.Equal(t, uint64(0), dcqs.NumCards())
	assert.Zero(t, th.RefinementStats().RefinedCards)
}
