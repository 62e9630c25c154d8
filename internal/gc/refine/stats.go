// Package refine holds the statistics and control policy for concurrent
// refinement: per-thread accumulators summable across threads, and the
// controller deciding how many refinement workers should run.
package refine

import "time"

// Stats accumulates per-thread refinement counters. It is a plain value:
// copy, add and subtract freely. Sums over thread sets are built with Add.
type Stats struct {
	// Time spent performing concurrent refinement.
	RefinementTime time.Duration
	// Cards refined into remembered-set updates.
	RefinedCards uint64
	// Cards skipped because another thread had already refined them.
	PrecleanedCards uint64
	// Cards marked dirty and in need of refinement.
	DirtiedCards uint64

	// The written-card fields are only used when written-card queues are
	// enabled.

	// Time spent processing written cards.
	WrittenCardsProcessingTime time.Duration
	// Written cards whose card was clean and became dirty.
	WrittenCardsDirtied uint64
	// Processed written cards discarded by filtering.
	WrittenCardsFiltered uint64
	// Written cards recorded by the barrier.
	WrittenCards uint64
}

// WrittenCardsProcessed returns the number of written cards processed, the
// sum of those dirtied and those filtered.
func (s *Stats) WrittenCardsProcessed() uint64 {
	return s.WrittenCardsDirtied + s.WrittenCardsFiltered
}

// RefinementRateMS returns the refinement rate in cards per millisecond,
// or 0 if no refinement time has been recorded.
func (s *Stats) RefinementRateMS() float64 {
	return ratePerMS(s.RefinedCards, s.RefinementTime)
}

// WrittenCardsProcessingRateMS returns the written-card processing rate in
// cards per millisecond, or 0 if no processing time has been recorded.
func (s *Stats) WrittenCardsProcessingRateMS() float64 {
	return ratePerMS(s.WrittenCardsProcessed(), s.WrittenCardsProcessingTime)
}

func ratePerMS(count uint64, d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	if ms == 0 {
		return 0
	}
	return float64(count) / ms
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.RefinementTime += other.RefinementTime
	s.RefinedCards += other.RefinedCards
	s.PrecleanedCards += other.PrecleanedCards
	s.DirtiedCards += other.DirtiedCards
	s.WrittenCardsProcessingTime += other.WrittenCardsProcessingTime
	s.WrittenCardsDirtied += other.WrittenCardsDirtied
	s.WrittenCardsFiltered += other.WrittenCardsFiltered
	s.WrittenCards += other.WrittenCards
}

// Sub removes other from s. (s.Add(t); s.Sub(t)) leaves s unchanged.
func (s *Stats) Sub(other Stats) {
	s.RefinementTime -= other.RefinementTime
	s.RefinedCards -= other.RefinedCards
	s.PrecleanedCards -= other.PrecleanedCards
	s.DirtiedCards -= other.DirtiedCards
	s.WrittenCardsProcessingTime -= other.WrittenCardsProcessingTime
	s.WrittenCardsDirtied -= other.WrittenCardsDirtied
	s.WrittenCardsFiltered -= other.WrittenCardsFiltered
	s.WrittenCards -= other.WrittenCards
}

// Sum returns the sum of the given stats values.
func Sum(stats ...Stats) Stats {
	var result Stats
	for i := range stats {
		result.Add(stats[i])
	}
	return result
}

// Reset zeroes all counters.
func (s *Stats) Reset() {
	*s = Stats{}
}
