// Package pretask implements the batched retirement task that runs at the
// start of every evacuation pause: it retires TLABs, drains every thread's
// written- and dirty-card logs into the global sets, and reports the
// accumulated refinement statistics to the policy.
package pretask

import (
	"math"

	"github.com/card-refine/internal/gc/barrier"
	"github.com/card-refine/internal/gc/dcq"
	"github.com/card-refine/internal/gc/gcthread"
	"github.com/card-refine/internal/gc/refine"
	"github.com/card-refine/internal/gc/tlab"
	"github.com/card-refine/pkg/gctask"
	"github.com/card-refine/pkg/utils"
)

// There is relatively little work to do per thread.
const threadsPerWorker = 250

// Options configures the retirement task.
type Options struct {
	// UseTLAB enables TLAB retirement during the sweep.
	UseTLAB bool
	// PublishTLABStats receives the summed TLAB stats; may be nil.
	PublishTLABStats func(tlab.AllocStats)
}

// flushDirtyCardQueue flushes any partial dirty-card buffer in the
// thread's queue to the global list.
func flushDirtyCardQueue(dcqs *dcq.Set, t *gcthread.Thread, stats *refine.Stats) {
	if !t.DirtyCardQueue().IsEmpty() {
		dcqs.FlushQueue(t.DirtyCardQueue(), stats)
	}
}

// collectRefinementStats accumulates and resets the thread's stats.
func collectRefinementStats(t *gcthread.Thread, accumulated *refine.Stats) {
	stats := t.RefinementStats()
	accumulated.Add(*stats)
	stats.Reset()
}

// ============================================================================
// Java thread sub-task
// ============================================================================

// javaThreadRetireTLABAndFlushLogs is the parallel sub-task sweeping the
// mutator threads, chunked by a claimer.
type javaThreadRetireTLABAndFlushLogs struct {
	bs      *barrier.Set
	opts    Options
	claimer *gcthread.JavaThreadsListClaimer

	// Per gang-worker statistics.
	localTLABStats []tlab.AllocStats
	localMutator   []refine.Stats
	localFlushLogs []refine.Stats
}

func newJavaThreadRetireTask(bs *barrier.Set, opts Options) *javaThreadRetireTLABAndFlushLogs {
	return &javaThreadRetireTLABAndFlushLogs{
		bs:      bs,
		opts:    opts,
		claimer: gcthread.NewJavaThreadsListClaimer(bs.Registry(), threadsPerWorker),
	}
}

func (s *javaThreadRetireTLABAndFlushLogs) Name() string {
	return "RetireTLABsAndFlushLogs"
}

func (s *javaThreadRetireTLABAndFlushLogs) SetMaxWorkers(n uint) {
	s.localTLABStats = make([]tlab.AllocStats, n)
	s.localMutator = make([]refine.Stats, n)
	s.localFlushLogs = make([]refine.Stats, n)
}

func (s *javaThreadRetireTLABAndFlushLogs) WorkerCost() float64 {
	return float64(s.claimer.Length()) / threadsPerWorker
}

func (s *javaThreadRetireTLABAndFlushLogs) DoWork(workerID uint) {
	var tlabStats tlab.AllocStats
	var mutatorStats refine.Stats
	var flushStats refine.Stats

	wcqs := s.bs.WrittenCardQueueSet()
	dcqs := s.bs.DirtyCardQueueSet()

	s.claimer.Apply(func(t *gcthread.Thread) {
		// Flushes deferred card marks, so must precede concatenating logs.
		s.bs.MakeParsable(t)
		if s.opts.UseTLAB {
			t.TLAB().Retire(&tlabStats)
		}

		if wcqs.UseQueues() {
			q := t.WrittenCardQueue()
			flushStats.WrittenCards += uint64(q.Size())
			q.MarkCardsDirty(t.DirtyCardQueue(), &flushStats)
		}
		flushDirtyCardQueue(dcqs, t, &flushStats)
		collectRefinementStats(t, &mutatorStats)
	})

	if wcqs.UseQueues() && wcqs.DeferDirtying() {
		// Drain the deferred completed buffers into a worker-local queue,
		// then flush it.
		var workerDCQ dcq.DirtyCardQueue
		for wcqs.MarkCardsDirty(&workerDCQ, &flushStats) {
		}
		dcqs.FlushQueue(&workerDCQ, &flushStats)
	}

	s.localTLABStats[workerID] = tlabStats
	s.localMutator[workerID] = mutatorStats
	s.localFlushLogs[workerID] = flushStats
}

func (s *javaThreadRetireTLABAndFlushLogs) tlabStats() tlab.AllocStats {
	var result tlab.AllocStats
	for i := range s.localTLABStats {
		result.Update(s.localTLABStats[i])
	}
	return result
}

func (s *javaThreadRetireTLABAndFlushLogs) mutatorRefinementStats() refine.Stats {
	return refine.Sum(s.localMutator...)
}

func (s *javaThreadRetireTLABAndFlushLogs) flushLogsRefinementStats() refine.Stats {
	return refine.Sum(s.localFlushLogs...)
}

// ============================================================================
// Non-Java thread sub-task
// ============================================================================

// nonJavaThreadFlushLogs is the serial sub-task sweeping VM-internal
// threads. Those threads never append to a written-card queue, so only
// their dirty-card queues need flushing.
type nonJavaThreadFlushLogs struct {
	bs           *barrier.Set
	mutatorStats refine.Stats
	flushStats   refine.Stats
}

func (s *nonJavaThreadFlushLogs) Name() string {
	return "NonJavaThreadFlushLogs"
}

func (s *nonJavaThreadFlushLogs) DoWork(workerID uint) {
	wcqs := s.bs.WrittenCardQueueSet()
	dcqs := s.bs.DirtyCardQueueSet()
	s.bs.Registry().NonJavaThreadsDo(func(t *gcthread.Thread) {
		if wcqs.UseQueues() && !t.WrittenCardQueue().IsEmpty() {
			panic("pretask: non-Java thread with non-empty written cards queue")
		}
		flushDirtyCardQueue(dcqs, t, &s.flushStats)
		collectRefinementStats(t, &s.mutatorStats)
	})
}

// ============================================================================
// Concurrent-refine thread sub-task
// ============================================================================

// concurrentRefineThreadFlushLogs is the serial sub-task flushing the
// dirty-card queues of the refinement workers. Only scheduled when
// deferred dirtying is active, because only then do refinement threads
// produce dirty cards of their own.
type concurrentRefineThreadFlushLogs struct {
	bs         *barrier.Set
	flushStats refine.Stats
}

func (s *concurrentRefineThreadFlushLogs) Name() string {
	return "ConcurrentRefineThreadFlushLogs"
}

func (s *concurrentRefineThreadFlushLogs) DoWork(workerID uint) {
	dcqs := s.bs.DirtyCardQueueSet()
	s.bs.Registry().ConcurrentRefineThreadsDo(func(t *gcthread.Thread) {
		dcqs.FlushQueue(t.DirtyCardQueue(), &s.flushStats)
	})
}

// ============================================================================
// The batched task
// ============================================================================

// PreEvacuateBatchTask is the pause-opening retirement task.
type PreEvacuateBatchTask struct {
	bs     *barrier.Set
	policy refine.Policy
	opts   Options

	javaRetireTask             *javaThreadRetireTLABAndFlushLogs
	nonJavaRetireTask          *nonJavaThreadFlushLogs
	concurrentRefineRetireTask *concurrentRefineThreadFlushLogs

	batch *gctask.BatchedTask
}

// NewPreEvacuateBatchTask prepares the task. Must be constructed at a
// safepoint: construction disables deferred mutator dirtying, turns off
// mutator self-refinement, and drains the paused dirty-card buffers, all
// of which assume no concurrent queue activity.
func NewPreEvacuateBatchTask(bs *barrier.Set, policy refine.Policy, phaseTimes *utils.PhaseTimes, opts Options) *PreEvacuateBatchTask {
	wcqs := bs.WrittenCardQueueSet()
	dcqs := bs.DirtyCardQueueSet()

	// Disable mutator refinement until concurrent refinement decides
	// otherwise.
	if wcqs.UseQueues() && wcqs.DeferDirtying() {
		wcqs.SetMutatorShouldMarkCardsDirty(false)
	}
	dcqs.SetMutatorRefinementThreshold(math.MaxUint64)

	// Flush all paused buffers to the global queue. Safe from ABA issues
	// because we're serially at a safepoint, so no other threads operate
	// on the paused lists or the global queue.
	dcqs.EnqueueAllPausedBuffers()

	task := &PreEvacuateBatchTask{
		bs:                bs,
		policy:            policy,
		opts:              opts,
		javaRetireTask:    newJavaThreadRetireTask(bs, opts),
		nonJavaRetireTask: &nonJavaThreadFlushLogs{bs: bs},
		batch:             gctask.NewBatchedTask("Pre Evacuate Prepare", phaseTimes),
	}

	task.batch.AddSerialTask(task.nonJavaRetireTask)
	if wcqs.UseQueues() && wcqs.DeferDirtying() {
		task.concurrentRefineRetireTask = &concurrentRefineThreadFlushLogs{bs: bs}
		task.batch.AddSerialTask(task.concurrentRefineRetireTask)
	}
	task.batch.AddParallelTask(task.javaRetireTask)
	return task
}

// WorkerCost returns the number of gang workers worth running.
func (p *PreEvacuateBatchTask) WorkerCost() float64 {
	return p.batch.WorkerCost()
}

// Run executes the retirement with the given gang size.
func (p *PreEvacuateBatchTask) Run(numWorkers uint) {
	p.batch.Run(numWorkers)
}

// Finish publishes TLAB stats, verifies all logs drained, and reports the
// summed refinement statistics to the policy.
func (p *PreEvacuateBatchTask) Finish() {
	if p.opts.PublishTLABStats != nil {
		p.opts.PublishTLABStats(p.javaRetireTask.tlabStats())
	}

	p.verifyEmptyDirtyCardLogs()

	dcqs := p.bs.DirtyCardQueueSet()
	mutatorStats := p.javaRetireTask.mutatorRefinementStats()
	mutatorStats.Add(p.nonJavaRetireTask.mutatorStats)
	mutatorStats.Add(dcqs.GetAndResetDetachedRefinementStats())

	flushStats := p.javaRetireTask.flushLogsRefinementStats()
	flushStats.Add(p.nonJavaRetireTask.flushStats)
	if p.concurrentRefineRetireTask != nil {
		flushStats.Add(p.concurrentRefineRetireTask.flushStats)
	}

	p.policy.RecordConcurrentRefinementStats(mutatorStats, flushStats)
}

func (p *PreEvacuateBatchTask) verifyEmptyDirtyCardLogs() {
	p.bs.Registry().ThreadsDo(func(t *gcthread.Thread) {
		if !t.DirtyCardQueue().IsEmpty() {
			panic("pretask: non-empty dirty card queue for thread " + t.Name())
		}
	})
}
