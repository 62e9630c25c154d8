package refine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStats_AddSubIdentity(t *testing.T) {
	s := Stats{
		RefinementTime:      3 * time.Millisecond,
		RefinedCards:        10,
		DirtiedCards:        4,
		WrittenCards:        20,
		WrittenCardsDirtied: 12,
	}
	original := s
	delta := Stats{
		RefinementTime:       time.Millisecond,
		RefinedCards:         5,
		PrecleanedCards:      2,
		WrittenCardsFiltered: 1,
	}

	s.Add(delta)
	s.Sub(delta)
	assert.Equal(t, original, s)
}

func TestStats_Rates(t *testing.T) {
	var s Stats
	assert.Zero(t, s.RefinementRateMS())
	assert.Zero(t, s.WrittenCardsProcessingRateMS())

	s.RefinedCards = 500
	s.RefinementTime = 10 * time.Millisecond
	assert.InDelta(t, 50.0, s.RefinementRateMS(), 1e-9)

	s.WrittenCardsDirtied = 30
	s.WrittenCardsFiltered = 20
	s.WrittenCardsProcessingTime = 5 * time.Millisecond
	assert.Equal(t, uint64(50), s.WrittenCardsProcessed())
	assert.InDelta(t, 10.0, s.WrittenCardsProcessingRateMS(), 1e-9)
}

func TestStats_SumAndReset(t *testing.T) {
	a := Stats{RefinedCards: 1}
	b := Stats{RefinedCards: 2}
	sum := Sum(a, b)
	assert.Equal(t, uint64(3), sum.RefinedCards)

	sum.Reset()
	assert.Equal(t, Stats{}, sum)
}

// fixedRates returns constant predictions for controller tests.
type fixedRates struct {
	alloc    float64
	written  float64
	dirtied  float64
	dirtying float64
	refine   float64
}

func (f *fixedRates) PredictAllocRateMS() float64              { return f.alloc }
func (f *fixedRates) PredictWrittenCardsRateMS() float64       { return f.written }
func (f *fixedRates) PredictDirtiedCardsRateMS() float64       { return f.dirtied }
func (f *fixedRates) PredictConcurrentDirtyingRateMS() float64 { return f.dirtying }
func (f *fixedRates) PredictConcurrentRefineRateMS() float64   { return f.refine }

const testRegionBytes = 1 << 20

func TestController_ShortHorizon(t *testing.T) {
	// available/alloc-rate gives 4ms to the next GC; with a 5ms update
	// period the controller keeps the current threads regardless of other
	// inputs.
	rates := &fixedRates{alloc: 1.0, dirtying: 100, refine: 100, written: 1e9, dirtied: 1e9}
	c := NewThreadsNeeded(rates, testRegionBytes, true, 5.0)

	c.Update(3, 4*testRegionBytes, 1e6, 1e6, 0)
	assert.Equal(t, uint(3), c.ThreadsNeeded())
	assert.Equal(t, uint64(0), c.WrittenCardsDeactivationThreshold())
	assert.InDelta(t, 4.0, c.PredictedTimeUntilNextGCMS(), 1e-9)
}

func TestController_ShortHorizon_AtLeastOne(t *testing.T) {
	rates := &fixedRates{alloc: 1.0}
	c := NewThreadsNeeded(rates, testRegionBytes, true, 5.0)
	c.Update(0, testRegionBytes, 0, 0, 0)
	assert.Equal(t, uint(1), c.ThreadsNeeded())
}

func TestController_WarmUp(t *testing.T) {
	// All rates zero but space available: no data yet, request one thread.
	rates := &fixedRates{alloc: 1.0}
	c := NewThreadsNeeded(rates, testRegionBytes, true, 5.0)
	c.Update(7, 1000*testRegionBytes, 123, 456, 0)
	assert.Equal(t, uint(1), c.ThreadsNeeded())
}

func TestController_NoAllocEstimate(t *testing.T) {
	// Zero allocation rate means time-to-GC is 0, which is within the
	// update period: short-horizon behavior.
	rates := &fixedRates{}
	c := NewThreadsNeeded(rates, testRegionBytes, true, 5.0)
	c.Update(2, 1000*testRegionBytes, 0, 0, 0)
	assert.Equal(t, uint(2), c.ThreadsNeeded())
	assert.Zero(t, c.PredictedTimeUntilNextGCMS())
}

func TestController_OneHourClamp(t *testing.T) {
	// Tiny allocation rate over a huge heap: the raw prediction is days,
	// clamped to one hour.
	rates := &fixedRates{alloc: 1e-9, refine: 100}
	c := NewThreadsNeeded(rates, testRegionBytes, false, 5.0)
	c.Update(1, 1<<40, 0, 1000, 0)
	assert.InDelta(t, 3600*1000.0, c.PredictedTimeUntilNextGCMS(), 1e-6)
}

func TestController_RefinementNeed(t *testing.T) {
	// 10ms to GC. 10000 dirty cards over target, refine rate 100/ms:
	// one thread refines 1000 cards by then, so 10 threads are needed.
	rates := &fixedRates{alloc: 0.1, refine: 100}
	c := NewThreadsNeeded(rates, testRegionBytes, false, 1.0)
	c.Update(1, testRegionBytes, 0, 10000, 0)
	assert.Equal(t, uint(10), c.ThreadsNeeded())
	assert.Equal(t, uint64(10000), c.PredictedDirtyCardsAtNextGC())
}

func TestController_DirtyingNeedAndThreshold(t *testing.T) {
	// Deferred dirtying: the deactivation threshold is the cards one
	// thread processes in half an update period.
	rates := &fixedRates{alloc: 0.01, dirtying: 200, refine: 100}
	c := NewThreadsNeeded(rates, testRegionBytes, true, 4.0)
	c.Update(1, testRegionBytes, 500, 0, 100)
	assert.Equal(t, uint64(400), c.WrittenCardsDeactivationThreshold())
	assert.GreaterOrEqual(t, c.ThreadsNeeded(), uint(1))
}

func TestController_PredictedCards(t *testing.T) {
	// 10ms to GC with incoming rates: predictions accumulate pending +
	// incoming x time.
	rates := &fixedRates{alloc: 0.1, written: 50, dirtied: 30, refine: 1e9}
	c := NewThreadsNeeded(rates, testRegionBytes, false, 1.0)
	c.Update(1, testRegionBytes, 100, 200, 1<<40)
	assert.Equal(t, uint64(100+500), c.PredictedWrittenCardsAtNextGC())
	assert.Equal(t, uint64(200+300), c.PredictedDirtyCardsAtNextGC())
}

func TestMovingRates_Seeding(t *testing.T) {
	m := NewMovingRates()
	assert.Zero(t, m.PredictConcurrentRefineRateMS())

	m.ReportConcurrentRefineRateMS(100)
	assert.InDelta(t, 100.0, m.PredictConcurrentRefineRateMS(), 1e-9)

	// Subsequent samples move the average toward the new value.
	m.ReportConcurrentRefineRateMS(200)
	got := m.PredictConcurrentRefineRateMS()
	assert.Greater(t, got, 100.0)
	assert.Less(t, got, 200.0)
}
