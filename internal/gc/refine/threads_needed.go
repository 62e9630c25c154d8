package refine

import (
	"math"

	"github.com/card-refine/pkg/numcheck"
)

// ThreadsNeeded estimates how many concurrent refinement threads should be
// running to reach the target number of pending dirty cards by the time the
// next GC happens. Secondary goals, in order:
//
//  1. Minimize the number of refinement threads running at once.
//  2. Minimize the number of activations and deactivations for the
//     refinement threads that run.
//  3. Delay performing refinement work. Having more dirty cards waiting can
//     be beneficial: further writes to the same card create no more work.
type ThreadsNeeded struct {
	analytics      Analytics
	regionBytes    uint64
	deferDirtying  bool
	updatePeriodMS float64

	predictedTimeUntilNextGCMS    float64
	predictedWrittenCardsAtNextGC uint64
	predictedDirtyCardsAtNextGC   uint64

	writtenCardsDeactivationThreshold uint64
	threadsNeeded                     uint
}

// NewThreadsNeeded creates a controller. regionBytes is the heap region
// size; deferDirtying selects whether written-card dirtying is performed by
// refinement threads; updatePeriodMS is the controller's update period.
func NewThreadsNeeded(analytics Analytics, regionBytes uint64, deferDirtying bool, updatePeriodMS float64) *ThreadsNeeded {
	return &ThreadsNeeded{
		analytics:      analytics,
		regionBytes:    regionBytes,
		deferDirtying:  deferDirtying,
		updatePeriodMS: updatePeriodMS,
	}
}

// ThreadsNeeded returns the number of refinement threads that should be
// running, as of the last Update.
func (c *ThreadsNeeded) ThreadsNeeded() uint {
	return c.threadsNeeded
}

// WrittenCardsDeactivationThreshold returns the number of pending written
// cards below which an active refinement thread may deactivate itself.
func (c *ThreadsNeeded) WrittenCardsDeactivationThreshold() uint64 {
	return c.writtenCardsDeactivationThreshold
}

// PredictedTimeUntilNextGCMS returns the last predicted time until the next
// GC, for policy logging.
func (c *ThreadsNeeded) PredictedTimeUntilNextGCMS() float64 {
	return c.predictedTimeUntilNextGCMS
}

// PredictedWrittenCardsAtNextGC returns the last prediction of pending
// written cards at the next GC, for policy logging.
func (c *ThreadsNeeded) PredictedWrittenCardsAtNextGC() uint64 {
	return c.predictedWrittenCardsAtNextGC
}

// PredictedDirtyCardsAtNextGC returns the last prediction of pending dirty
// cards at the next GC, for policy logging.
func (c *ThreadsNeeded) PredictedDirtyCardsAtNextGC() uint64 {
	return c.predictedDirtyCardsAtNextGC
}

// Update recomputes the thread count and deactivation threshold.
//
// activeThreads is the number of refinement threads currently running,
// availableBytes the heap space left before the next GC is forced,
// numWrittenCards and numDirtyCards the current pending counts, and
// targetNumDirtyCards the number of dirty cards the policy wants left at
// the start of the next GC.
func (c *ThreadsNeeded) Update(activeThreads uint,
	availableBytes uint64,
	numWrittenCards uint64,
	numDirtyCards uint64,
	targetNumDirtyCards uint64) {

	// Estimate time until the next GC from the remaining allocatable bytes
	// and the allocation rate.
	allocRegionRate := c.analytics.PredictAllocRateMS()
	allocBytesRate := allocRegionRate * float64(c.regionBytes)
	if allocBytesRate == 0 {
		// A zero rate means no data yet to predict with; use a time of zero.
		c.predictedTimeUntilNextGCMS = 0
	} else {
		// With a large heap and a small allocation rate the raw prediction
		// can be large enough to cause overflow problems in later
		// calculations. One hour is still effectively forever here.
		const oneHourMS = 60.0 * 60.0 * 1000.0
		raw := float64(availableBytes) / allocBytesRate
		c.predictedTimeUntilNextGCMS = math.Min(raw, oneHourMS)
	}

	// Pending counts at the next GC if no further processing happens.
	incomingWrittenRate := c.analytics.PredictWrittenCardsRateMS()
	totalWrittenCards := c.predictCardsAtNextGC(numWrittenCards, incomingWrittenRate)
	c.predictedWrittenCardsAtNextGC = totalWrittenCards

	incomingDirtyRate := c.analytics.PredictDirtiedCardsRateMS()
	totalDirtyCards := c.predictCardsAtNextGC(numDirtyCards, incomingDirtyRate)
	c.predictedDirtyCardsAtNextGC = totalDirtyCards

	// Until better data says otherwise, never deactivate while any written
	// cards remain.
	c.writtenCardsDeactivationThreshold = 0

	// The thread-count calculation isn't very stable when time is short and
	// can start lots of threads for not much profit. In the last update
	// period, keep the current count, treating the calling thread as
	// running. Mutator dirtying and refinement are about to be activated,
	// so pending counts won't grow much more.
	if c.predictedTimeUntilNextGCMS <= c.updatePeriodMS {
		c.threadsNeeded = max(activeThreads, 1)
		return
	}

	// Per-thread processing rate estimates. With neither available, request
	// one running thread; some processing must happen for the prediction
	// machinery to warm up.
	dirtyingRate := c.analytics.PredictConcurrentDirtyingRateMS()
	refineRate := c.analytics.PredictConcurrentRefineRateMS()
	if dirtyingRate == 0 && refineRate == 0 {
		c.threadsNeeded = 1
		return
	}

	// Accumulator for the thread counts needed by each kind of processing.
	nthreads := 0.0

	// Cards that must be refined before the next GC to meet the goal.
	cardsToRefine := uint64(0)
	if totalDirtyCards > targetNumDirtyCards {
		cardsToRefine = totalDirtyCards - targetNumDirtyCards
	}
	if cardsToRefine > 0 {
		if refineRate == 0 {
			// No estimate; one thread covers this part until the prediction
			// machinery warms up.
			nthreads += 1.0
		} else {
			nthreads += c.estimateThreadsNeeded(cardsToRefine, refineRate)
		}
	}

	// Threads needed for written-card dirtying, only when that work is
	// deferred to refinement threads.
	if c.deferDirtying {
		// Deactivation limit: the cards one thread can process in half an
		// update period. With lots of pending written cards we keep threads
		// running to drive the number down quickly.
		c.writtenCardsDeactivationThreshold = uint64(dirtyingRate * (c.updatePeriodMS / 2.0))
		if dirtyingRate == 0 {
			nthreads += 1.0
		} else {
			// Drive pending written cards to near zero and keep them there:
			// written cards are cheap to process and having few pending
			// improves the dirty-card estimates. But also keep the number
			// of running threads low. Take the minimum of several
			// heuristics.

			// Continuously running threads needed to process all written
			// cards before the next GC.
			minimum := c.estimateThreadsNeeded(totalWrittenCards, dirtyingRate)

			// Threads needed to reach near zero pending in one update
			// period.
			periodCapacity := dirtyingRate * c.updatePeriodMS
			periodIncoming := incomingDirtyRate * c.updatePeriodMS
			periodTarget := float64(numWrittenCards) + periodIncoming
			periodThreads := periodTarget / periodCapacity

			nthreads += min(minimum+1.0, 2.0*minimum, periodThreads)
		}
	}

	// Rounding: always rounding up is contrary to delaying work, so usually
	// round to nearest; near the next GC drive toward the target and round
	// up. Always at least one: the calling thread is the primary refinement
	// thread and deactivates itself if it runs out of work.
	if nthreads <= 1.0 {
		nthreads = 1.0
	} else if c.predictedTimeUntilNextGCMS <= c.updatePeriodMS*5.0 {
		nthreads = math.Ceil(nthreads)
	} else {
		nthreads = math.Round(nthreads)
	}

	c.threadsNeeded = numcheck.CastFloatToInt[uint](math.Min(nthreads, math.MaxUint32))
}

func (c *ThreadsNeeded) predictCardsAtNextGC(numCards uint64, incomingRateMS float64) uint64 {
	incoming := uint64(incomingRateMS * c.predictedTimeUntilNextGCMS)
	return numCards + incoming
}

func (c *ThreadsNeeded) estimateThreadsNeeded(numCards uint64, processingRateMS float64) float64 {
	threadCapacity := processingRateMS * c.predictedTimeUntilNextGCMS
	return float64(numCards) / threadCapacity
}
