// Package refinectl runs the concurrent refinement workers: a pool of
// threads that drain the written-card and dirty-card queue sets, activated
// and parked according to the threads-needed controller.
package refinectl

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/card-refine/internal/gc/barrier"
	"github.com/card-refine/internal/gc/gcthread"
	"github.com/card-refine/internal/gc/refine"
	"github.com/card-refine/pkg/utils"
)

// Options configures the refinement control.
type Options struct {
	// MaxWorkers bounds the worker pool size.
	MaxWorkers uint
	// TargetDirtyCards is the pending dirty-card count the policy wants
	// left at the start of the next GC.
	TargetDirtyCards uint64
	// UpdatePeriod is the controller's update period.
	UpdatePeriod time.Duration
	// AvailableBytes reports the heap space left before the next GC is
	// forced.
	AvailableBytes func() uint64
	// Logger receives controller decisions; nil for none.
	Logger utils.Logger
}

// Control owns the refinement workers and periodically re-runs the
// threads-needed controller.
//
// Worker i is Active while i < threadsNeeded. An active worker that finds
// the refinement goal met and the pending written-card count at or below
// the deactivation threshold parks itself; a controller update that raises
// threadsNeeded wakes parked workers.
type Control struct {
	bs         *barrier.Set
	controller *refine.ThreadsNeeded
	opts       Options

	mu            sync.Mutex
	cond          *sync.Cond
	threadsNeeded uint
	threshold     uint64
	updateGen     uint64
	stopped       bool

	updateMu sync.Mutex

	active  atomic.Int64
	workers []*worker
	wg      sync.WaitGroup

	// Safepoint rendezvous: workers hold the read side while processing;
	// a pause holds the write side.
	safepoint sync.RWMutex
}

type worker struct {
	id     uint
	thread *gcthread.Thread
}

// NewControl creates the control and registers MaxWorkers refinement
// threads with the barrier set. Workers start parked; call Start to launch
// them.
func NewControl(bs *barrier.Set, controller *refine.ThreadsNeeded, opts Options) *Control {
	if opts.MaxWorkers == 0 {
		opts.MaxWorkers = 1
	}
	if opts.Logger == nil {
		opts.Logger = &utils.NullLogger{}
	}
	c := &Control{
		bs:         bs,
		controller: controller,
		opts:       opts,
	}
	c.cond = sync.NewCond(&c.mu)
	for i := uint(0); i < opts.MaxWorkers; i++ {
		t := gcthread.NewThread(fmt.Sprintf("refine-worker-%d", i), gcthread.KindConcurrentRefine, bs.WrittenCardQueueSet())
		bs.OnThreadCreate(t)
		c.workers = append(c.workers, &worker{id: i, thread: t})
	}
	return c
}

// Start launches the worker goroutines.
func (c *Control) Start() {
	for _, w := range c.workers {
		c.wg.Add(1)
		go c.run(w)
	}
}

// Stop parks and terminates all workers and waits for them to exit.
func (c *Control) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.cond.Broadcast()
	c.mu.Unlock()
	c.wg.Wait()
}

// GetAndResetWorkerStats sums and clears the refinement workers' stats.
// Must run at a safepoint, with the workers held out of their processing
// sections.
func (c *Control) GetAndResetWorkerStats() refine.Stats {
	var sum refine.Stats
	for _, w := range c.workers {
		stats := w.thread.RefinementStats()
		sum.Add(*stats)
		stats.Reset()
	}
	return sum
}

// ActiveThreads returns the number of workers currently active.
func (c *Control) ActiveThreads() uint {
	n := c.active.Load()
	if n < 0 {
		return 0
	}
	return uint(n)
}

// SafepointSynchronize blocks until every worker is outside its processing
// section and keeps them out. Pair with SafepointRelease.
func (c *Control) SafepointSynchronize() {
	c.safepoint.Lock()
}

// SafepointRelease lets workers resume after a pause.
func (c *Control) SafepointRelease() {
	c.safepoint.Unlock()
}

// UpdateOnce re-runs the controller and republishes the worker targets.
// Serialized: the periodic updater and a pause may both call it.
func (c *Control) UpdateOnce() {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()
	wcqs := c.bs.WrittenCardQueueSet()
	dcqs := c.bs.DirtyCardQueueSet()
	c.controller.Update(c.ActiveThreads(),
		c.opts.AvailableBytes(),
		wcqs.NumCards(),
		dcqs.NumCards(),
		c.opts.TargetDirtyCards)

	c.mu.Lock()
	c.threadsNeeded = c.controller.ThreadsNeeded()
	c.threshold = c.controller.WrittenCardsDeactivationThreshold()
	c.updateGen++
	c.cond.Broadcast()
	c.mu.Unlock()

	// When the pool cannot satisfy the demand, push the dirtying work back
	// onto the mutators until the backlog clears.
	if wcqs.UseQueues() && wcqs.DeferDirtying() {
		wcqs.SetMutatorShouldMarkCardsDirty(c.controller.ThreadsNeeded() > c.opts.MaxWorkers)
	}

	c.opts.Logger.Debug("refinement control: threads_needed=%d deactivation_threshold=%d predicted_gc_in=%.1fms",
		c.controller.ThreadsNeeded(),
		c.controller.WrittenCardsDeactivationThreshold(),
		c.controller.PredictedTimeUntilNextGCMS())
}

// RunPeriodicUpdates re-runs the controller every update period until stop
// is closed.
func (c *Control) RunPeriodicUpdates(stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.UpdatePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.UpdateOnce()
		}
	}
}

func (c *Control) run(w *worker) {
	defer c.wg.Done()
	for {
		if !c.waitActivation(w) {
			return
		}
		c.active.Add(1)
		c.process(w)
		c.active.Add(-1)
		// Deactivated: park until the next controller update wakes us.
		if !c.waitNextUpdate() {
			return
		}
	}
}

// waitActivation parks until the worker's index is within the needed
// count. Returns false when the control is stopping.
func (c *Control) waitActivation(w *worker) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.stopped && w.id >= c.threadsNeeded {
		c.cond.Wait()
	}
	return !c.stopped
}

// waitNextUpdate parks until the next UpdateOnce. Returns false when the
// control is stopping.
func (c *Control) waitNextUpdate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.updateGen
	for !c.stopped && c.updateGen == gen {
		c.cond.Wait()
	}
	return !c.stopped
}

// process drains queue-set work until the worker may deactivate: the
// written-card count is at or below the deactivation threshold and no
// dirty-card work remains.
func (c *Control) process(w *worker) {
	wcqs := c.bs.WrittenCardQueueSet()
	dcqs := c.bs.DirtyCardQueueSet()
	stats := w.thread.RefinementStats()
	for {
		c.mu.Lock()
		needed := c.threadsNeeded
		threshold := c.threshold
		stopped := c.stopped
		c.mu.Unlock()
		if stopped || w.id >= needed {
			return
		}

		c.safepoint.RLock()
		worked := false
		if wcqs.UseQueues() && wcqs.DeferDirtying() {
			start := time.Now()
			if wcqs.MarkCardsDirty(w.thread.DirtyCardQueue(), stats) {
				stats.WrittenCardsProcessingTime += time.Since(start)
				worked = true
			}
		}
		if !worked {
			worked = dcqs.RefineCompletedBuffer(stats)
		}
		c.safepoint.RUnlock()

		if !worked && wcqs.NumCards() <= threshold {
			// Refinement goal met and written backlog small: deactivate.
			return
		}
		if !worked {
			time.Sleep(100 * time.Microsecond)
		}
	}
}
