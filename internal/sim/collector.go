package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/card-refine/internal/gc/barrier"
	"github.com/card-refine/internal/gc/gcthread"
	"github.com/card-refine/internal/gc/pretask"
	"github.com/card-refine/internal/gc/refine"
	"github.com/card-refine/internal/gc/refinectl"
	"github.com/card-refine/internal/gc/tlab"
	"github.com/card-refine/internal/gc/wcq"
	"github.com/card-refine/pkg/config"
	"github.com/card-refine/pkg/utils"
)

// Collector assembles the whole system for a simulation run: heap, barrier
// set, mutator threads, refinement control, and the pause orchestration.
type Collector struct {
	cfg      *config.Config
	logger   utils.Logger
	heap     *Heap
	registry *gcthread.Registry
	bs       *barrier.Set

	rates      *refine.MovingRates
	controller *refine.ThreadsNeeded
	control    *refinectl.Control
	policy     *Policy

	mutators   []*Mutator
	phaseTimes *utils.PhaseTimes

	// world is the stop-the-world rendezvous: mutators hold the read side
	// around each step, a pause holds the write side.
	world sync.RWMutex

	pauses   uint64
	tlabSum  tlab.AllocStats
	tlabLock sync.Mutex
}

// NewCollector builds the system from cfg. sink may be nil.
func NewCollector(cfg *config.Config, logger utils.Logger, sink PauseSink) *Collector {
	heap := NewHeap(cfg.Heap)
	registry := gcthread.NewRegistry()
	bs := barrier.NewSet(heap.CardTable(), registry, barrier.Options{
		WrittenCardBufferSize: uintptr(cfg.Barrier.WrittenCardBufferSize),
		UpdateBufferSize:      uintptr(cfg.Barrier.UpdateBufferSize),
		WrittenCard: wcq.Options{
			UseQueues:       cfg.Barrier.UseWrittenCardQueues,
			UseInline:       cfg.Barrier.UseInlineWrittenCardBuffers,
			DeferDirtying:   cfg.Barrier.DeferDirtyingWrittenCards,
			FilterMechanism: wcq.Filter(cfg.Barrier.WrittenCardFilter),
		},
	})

	rates := refine.NewMovingRates()
	controller := refine.NewThreadsNeeded(rates, cfg.Heap.RegionBytes,
		cfg.Barrier.DeferDirtyingWrittenCards, float64(cfg.Refinement.UpdatePeriodMS))

	c := &Collector{
		cfg:        cfg,
		logger:     logger,
		heap:       heap,
		registry:   registry,
		bs:         bs,
		rates:      rates,
		controller: controller,
		phaseTimes: utils.NewPhaseTimes("Pre Evacuate Prepare"),
	}
	c.policy = NewPolicy(rates, controller, logger, sink, heap.AllocatedRegions)
	c.control = refinectl.NewControl(bs, controller, refinectl.Options{
		MaxWorkers:       cfg.Refinement.MaxWorkers,
		TargetDirtyCards: cfg.Refinement.TargetDirtyCards,
		UpdatePeriod:     time.Duration(cfg.Refinement.UpdatePeriodMS) * time.Millisecond,
		AvailableBytes:   heap.AvailableBytes,
		Logger:           logger,
	})

	// Refinement consumes dirty cards by re-cleaning them; the remembered
	// set itself is outside this simulation.
	bs.DirtyCardQueueSet().SetRefiner(heap.refineEntries)
	return c
}

// Barrier returns the barrier set.
func (c *Collector) Barrier() *barrier.Set {
	return c.bs
}

// Heap returns the simulated heap.
func (c *Collector) Heap() *Heap {
	return c.heap
}

// Control returns the refinement control.
func (c *Collector) Control() *refinectl.Control {
	return c.control
}

// PhaseTimes returns the pause phase-time recorder.
func (c *Collector) PhaseTimes() *utils.PhaseTimes {
	return c.phaseTimes
}

// Pauses returns the number of pauses run.
func (c *Collector) Pauses() uint64 {
	return c.pauses
}

// AttachMutator creates and registers one mutator thread.
func (c *Collector) AttachMutator(id int) *Mutator {
	t := gcthread.NewThread(fmt.Sprintf("mutator-%d", id), gcthread.KindJava, c.bs.WrittenCardQueueSet())
	c.bs.OnThreadCreate(t)
	c.bs.OnThreadAttach(t)
	m := NewMutator(t, c.bs, c.heap, c.cfg.Barrier.UseTLAB, uintptr(c.cfg.Barrier.TLABBytes), uint64(id+1)*0x9E3779B97F4A7C15)
	c.mutators = append(c.mutators, m)
	return m
}

// DetachMutator flushes and unregisters a mutator thread.
func (c *Collector) DetachMutator(m *Mutator) {
	c.bs.OnThreadDetach(m.Thread())
	c.bs.OnThreadDestroy(m.Thread())
}

// Pause runs one evacuation pause: mutators and refinement workers are
// brought to a stop, the retirement task drains every log, the young set
// is promoted, and the controller is re-armed for the next cycle.
func (c *Collector) Pause(gangWorkers uint) {
	c.world.Lock()
	defer c.world.Unlock()
	c.control.SafepointSynchronize()
	defer c.control.SafepointRelease()

	task := pretask.NewPreEvacuateBatchTask(c.bs, c.policy, c.phaseTimes, pretask.Options{
		UseTLAB:          c.cfg.Barrier.UseTLAB,
		PublishTLABStats: c.publishTLABStats,
	})
	if gangWorkers == 0 {
		gangWorkers = uint(task.WorkerCost())
	}
	task.Run(gangWorkers)
	task.Finish()
	c.policy.RecordRefinementThreadStats(c.control.GetAndResetWorkerStats())

	// "Evacuation": young regions promote to old, their cards go clean.
	c.heap.PromoteYoung()

	// Task construction left deferred mutator dirtying disabled; the
	// controller update decides whether the workers can keep up or the
	// mutators must dirty for themselves.
	c.control.UpdateOnce()
	c.pauses++
}

func (c *Collector) publishTLABStats(stats tlab.AllocStats) {
	c.tlabLock.Lock()
	c.tlabSum.Update(stats)
	c.tlabLock.Unlock()
}

// TLABStats returns the published TLAB retirement stats.
func (c *Collector) TLABStats() tlab.AllocStats {
	c.tlabLock.Lock()
	defer c.tlabLock.Unlock()
	return c.tlabSum
}

// Run drives numMutators mutator goroutines for the given duration,
// pausing whenever the heap fills. Returns the total number of reference
// writes performed.
func (c *Collector) Run(numMutators int, duration time.Duration) uint64 {
	c.control.Start()
	defer c.control.Stop()

	stopUpdates := make(chan struct{})
	go c.control.RunPeriodicUpdates(stopUpdates)
	defer close(stopUpdates)

	for i := 0; i < numMutators; i++ {
		c.AttachMutator(i)
	}

	var (
		wg        sync.WaitGroup
		stop      = make(chan struct{})
		needGC    = make(chan struct{}, 1)
		gcDone    = make(chan struct{})
		doneTimer = time.After(duration)
	)

	// Coordinator: serve GC requests until the run ends.
	go func() {
		defer close(gcDone)
		for {
			select {
			case <-stop:
				return
			case <-needGC:
				c.Pause(0)
				// Wake every mutator waiting for the pause.
				for _, m := range c.mutators {
					select {
					case m.resume <- struct{}{}:
					default:
					}
				}
			}
		}
	}()

	for _, m := range c.mutators {
		wg.Add(1)
		go func(m *Mutator) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				c.world.RLock()
				ok := m.Step()
				c.world.RUnlock()
				if !ok {
					select {
					case needGC <- struct{}{}:
					default:
					}
					select {
					case <-m.resume:
					case <-stop:
						return
					}
				}
			}
		}(m)
	}

	<-doneTimer
	close(stop)
	wg.Wait()
	<-gcDone

	// Final safepoint: drain everything and detach.
	c.Pause(0)
	total := uint64(0)
	for _, m := range c.mutators {
		total += m.Writes()
		c.DetachMutator(m)
	}
	c.mutators = nil
	return total
}
