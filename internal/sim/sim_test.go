package sim

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/card-refine/pkg/config"
	"github.com/card-refine/pkg/model"
	"github.com/card-refine/pkg/utils"
)

func testConfig(filter uint, inline, deferred bool) *config.Config {
	return &config.Config{
		Heap: config.HeapConfig{
			HeapBytes:   8 << 20,
			RegionBytes: 1 << 20,
			CardShift:   9,
		},
		Barrier: config.BarrierConfig{
			UseWrittenCardQueues:        true,
			UseInlineWrittenCardBuffers: inline,
			DeferDirtyingWrittenCards:   deferred,
			WrittenCardFilter:           filter,
			WrittenCardBufferSize:       128,
			UpdateBufferSize:            64,
			UseTLAB:                     true,
			TLABBytes:                   16 << 10,
		},
		Refinement: config.RefinementConfig{
			MaxWorkers:       2,
			TargetDirtyCards: 256,
			UpdatePeriodMS:   5,
		},
	}
}

type memorySink struct {
	mu      sync.Mutex
	records []*model.PauseRecord
}

func (s *memorySink) RecordPause(record *model.PauseRecord) error {
	s.mu.Lock()
	s.records = append(s.records, record)
	s.mu.Unlock()
	return nil
}

func TestHeap_WindowAllocation(t *testing.T) {
	h := NewHeap(testConfig(0, false, false).Heap)
	require.Equal(t, uint(8), h.NumRegions())
	assert.Equal(t, uint64(8<<20), h.AvailableBytes())

	start, end := h.AllocateWindow(4096)
	require.NotZero(t, start)
	assert.Equal(t, uintptr(4096), end-start)
	assert.True(t, h.IsYoung(start))
	assert.Equal(t, uint(1), h.AllocatedRegions())

	// The heap has a card table covering its regions.
	assert.NotZero(t, h.CardTable().NumCards())

	h.PromoteYoung()
	assert.False(t, h.IsYoung(start))
	assert.Equal(t, uint(1), h.OldRegionCount())
}

func TestHeap_ExhaustionSignalsGC(t *testing.T) {
	cfg := testConfig(0, false, false)
	cfg.Heap.HeapBytes = 2 << 20
	h := NewHeap(cfg.Heap)

	for {
		start, _ := h.AllocateWindow(1 << 20)
		if start == 0 {
			break
		}
	}
	assert.Zero(t, h.AvailableBytes())
}

func runSimulation(t *testing.T, filter uint, inline, deferred bool) (*Collector, *memorySink) {
	t.Helper()
	sink := &memorySink{}
	collector := NewCollector(testConfig(filter, inline, deferred), &utils.NullLogger{}, sink)
	writes := collector.Run(3, 150*time.Millisecond)
	assert.NotZero(t, writes)
	return collector, sink
}

func TestSimulation_EndToEnd(t *testing.T) {
	cases := []struct {
		name     string
		filter   uint
		inline   bool
		deferred bool
	}{
		{"InlineNone", 0, true, false},
		{"IndirectYoung", 1, false, false},
		{"DeferredNone", 0, false, true},
		{"DeferredPrevious", 2, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			collector, sink := runSimulation(t, tc.filter, tc.inline, tc.deferred)

			require.NotZero(t, collector.Pauses())
			assert.Len(t, sink.records, int(collector.Pauses()))

			// After the final pause every log is drained.
			assert.Equal(t, uint64(0), collector.Barrier().WrittenCardQueueSet().NumCards())

			// The workload produced cross-region writes that were tracked.
			total := uint64(0)
			for _, r := range sink.records {
				total += r.MutatorWrittenCards + r.FlushWrittenCards + r.MutatorDirtiedCards + r.FlushDirtiedCards
			}
			assert.NotZero(t, total)
		})
	}
}

func TestSimulation_TLABStatsPublished(t *testing.T) {
	collector, _ := runSimulation(t, 0, false, false)
	assert.NotZero(t, collector.TLABStats().Retires)
}
