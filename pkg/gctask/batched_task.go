// Package gctask provides the batched task framework for safepoint work:
// a task is a sequence of serial sub-tasks followed by parallel sub-tasks
// executed by a gang of workers.
package gctask

import (
	"sync"

	"github.com/card-refine/pkg/utils"
)

// SubTask is one unit of a batched task.
//
// A serial sub-task's DoWork runs once, on the coordinating worker. A
// parallel sub-task's DoWork runs once per gang worker, concurrently; the
// sub-task partitions its own work, typically with a claimer.
type SubTask interface {
	// Name labels the sub-task in phase timing.
	Name() string
	// DoWork performs the sub-task's share of work for one worker.
	DoWork(workerID uint)
}

// WorkerCountAware is implemented by sub-tasks that size per-worker state
// up front.
type WorkerCountAware interface {
	SetMaxWorkers(n uint)
}

// CostAware is implemented by sub-tasks that can estimate how many workers
// they can profitably use.
type CostAware interface {
	// WorkerCost returns the number of workers worth running.
	WorkerCost() float64
}

// BatchedTask runs serial sub-tasks in registration order on the
// coordinator, then all parallel sub-tasks on a gang of workers. Sub-task
// durations are recorded into the pause's phase times.
type BatchedTask struct {
	name       string
	phaseTimes *utils.PhaseTimes
	serial     []SubTask
	parallel   []SubTask
}

// NewBatchedTask creates a batched task recording into phaseTimes.
func NewBatchedTask(name string, phaseTimes *utils.PhaseTimes) *BatchedTask {
	return &BatchedTask{
		name:       name,
		phaseTimes: phaseTimes,
	}
}

// Name returns the task's name.
func (b *BatchedTask) Name() string {
	return b.name
}

// AddSerialTask registers a sub-task to run serially on the coordinator.
func (b *BatchedTask) AddSerialTask(t SubTask) {
	b.serial = append(b.serial, t)
}

// AddParallelTask registers a sub-task to run on every gang worker.
func (b *BatchedTask) AddParallelTask(t SubTask) {
	b.parallel = append(b.parallel, t)
}

// WorkerCost returns the largest of the parallel sub-tasks' cost
// estimates. At least one worker is always worth running.
func (b *BatchedTask) WorkerCost() float64 {
	cost := 1.0
	for _, t := range b.parallel {
		if ca, ok := t.(CostAware); ok {
			if c := ca.WorkerCost(); c > cost {
				cost = c
			}
		}
	}
	return cost
}

// Run executes the task with the given gang size. Serial sub-tasks run
// first, in order, as worker 0; then every worker runs every parallel
// sub-task.
func (b *BatchedTask) Run(numWorkers uint) {
	if numWorkers == 0 {
		numWorkers = 1
	}
	for _, t := range b.parallel {
		if wa, ok := t.(WorkerCountAware); ok {
			wa.SetMaxWorkers(numWorkers)
		}
	}

	for _, t := range b.serial {
		task := t
		b.phaseTimes.Time(task.Name(), func() {
			task.DoWork(0)
		})
	}

	var wg sync.WaitGroup
	for worker := uint(0); worker < numWorkers; worker++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			for _, t := range b.parallel {
				task := t
				b.phaseTimes.Time(task.Name(), func() {
					task.DoWork(id)
				})
			}
		}(worker)
	}
	wg.Wait()
}
