package dcq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/card-refine/internal/gc/qbuf"
	"github.com/card-refine/internal/gc/refine"
)

func newTestSet(capacity uintptr) *Set {
	return NewSet(qbuf.NewAllocator("dc", capacity))
}

func TestEnqueue_FillsDownward(t *testing.T) {
	s := newTestSet(4)
	var q DirtyCardQueue
	var stats refine.Stats

	assert.True(t, q.IsEmpty())
	s.Enqueue(&q, 0x100, &stats)
	s.Enqueue(&q, 0x200, &stats)

	require.NotNil(t, q.Node())
	assert.Equal(t, uintptr(2), q.Size())
	assert.Equal(t, uintptr(2), q.Index())
	// Fill-downward: first entry in the last slot.
	assert.Equal(t, uintptr(0x100), q.Buffer()[3])
	assert.Equal(t, uintptr(0x200), q.Buffer()[2])
}

func TestEnqueue_PublishesFullBuffer(t *testing.T) {
	s := newTestSet(2)
	var q DirtyCardQueue
	var stats refine.Stats

	s.Enqueue(&q, 1, &stats)
	s.Enqueue(&q, 2, &stats)
	assert.Equal(t, uint64(0), s.NumCards())

	// Third enqueue publishes the full buffer and installs a fresh one.
	s.Enqueue(&q, 3, &stats)
	assert.Equal(t, uint64(2), s.NumCards())
	assert.Equal(t, uintptr(1), q.Size())
}

func TestFlushQueue(t *testing.T) {
	s := newTestSet(8)
	var q DirtyCardQueue
	var stats refine.Stats

	// Flushing an unallocated queue is a no-op.
	s.FlushQueue(&q, &stats)
	assert.Equal(t, uint64(0), s.NumCards())

	s.Enqueue(&q, 1, &stats)
	s.Enqueue(&q, 2, &stats)
	s.FlushQueue(&q, &stats)

	assert.Nil(t, q.Node())
	assert.True(t, q.IsEmpty())
	assert.Equal(t, uint64(2), s.NumCards())
}

func TestFlushQueue_EmptyBufferReleased(t *testing.T) {
	s := newTestSet(8)
	var q DirtyCardQueue
	var stats refine.Stats

	s.Enqueue(&q, 1, &stats)
	s.ResetQueue(&q)
	s.FlushQueue(&q, &stats)

	assert.Nil(t, q.Node())
	assert.Equal(t, uint64(0), s.NumCards())
}

func TestRefineCompletedBuffer(t *testing.T) {
	s := newTestSet(2)
	refined := []uintptr{}
	s.SetRefiner(func(entries []uintptr, stats *refine.Stats) {
		refined = append(refined, entries...)
		stats.RefinedCards += uint64(len(entries))
	})

	var q DirtyCardQueue
	var stats refine.Stats
	s.Enqueue(&q, 1, &stats)
	s.Enqueue(&q, 2, &stats)
	s.FlushQueue(&q, &stats)

	var workerStats refine.Stats
	assert.True(t, s.RefineCompletedBuffer(&workerStats))
	assert.Equal(t, uint64(0), s.NumCards())
	assert.Equal(t, uint64(2), workerStats.RefinedCards)
	assert.ElementsMatch(t, []uintptr{1, 2}, refined)

	assert.False(t, s.RefineCompletedBuffer(&workerStats))
}

func TestMutatorRefineThreshold(t *testing.T) {
	s := newTestSet(2)
	var q DirtyCardQueue
	var stats refine.Stats

	s.Enqueue(&q, 1, &stats)
	s.Enqueue(&q, 2, &stats)
	s.FlushQueue(&q, &stats)
	require.Equal(t, uint64(2), s.NumCards())

	// Threshold at MaxUint64 disables self-service.
	s.MutatorRefineCompletedBuffer(&stats)
	assert.Equal(t, uint64(2), s.NumCards())

	s.SetMutatorRefinementThreshold(1)
	s.MutatorRefineCompletedBuffer(&stats)
	assert.Equal(t, uint64(0), s.NumCards())

	assert.Equal(t, uint64(math.MaxUint64), NewSet(qbuf.NewAllocator("x", 2)).MutatorRefinementThreshold())
}

func TestPausedBuffers(t *testing.T) {
	s := newTestSet(2)
	node := s.Allocator().Allocate()
	node.SetIndex(0)

	s.PauseCompletedBuffer(node)
	assert.Equal(t, uint64(0), s.NumCards())

	s.EnqueueAllPausedBuffers()
	assert.Equal(t, uint64(2), s.NumCards())
	assert.Same(t, node, s.TakeCompletedBuffer())
}

func TestAbandonCompletedBuffersAndStats(t *testing.T) {
	s := newTestSet(2)
	var q DirtyCardQueue
	var stats refine.Stats
	s.Enqueue(&q, 1, &stats)
	s.Enqueue(&q, 2, &stats)
	s.FlushQueue(&q, &stats)
	s.RecordDetachedRefinementStats(refine.Stats{RefinedCards: 7})

	s.AbandonCompletedBuffersAndStats()
	assert.Equal(t, uint64(0), s.NumCards())
	assert.Nil(t, s.TakeCompletedBuffer())
	assert.Equal(t, refine.Stats{}, s.GetAndResetDetachedRefinementStats())
}

func TestDetachedStatsAccumulate(t *testing.T) {
	s := newTestSet(2)
	s.RecordDetachedRefinementStats(refine.Stats{DirtiedCards: 3})
	s.RecordDetachedRefinementStats(refine.Stats{DirtiedCards: 4})

	got := s.GetAndResetDetachedRefinementStats()
	assert.Equal(t, uint64(7), got.DirtiedCards)
	assert.Equal(t, refine.Stats{}, s.GetAndResetDetachedRefinementStats())
}
