// Package model defines the domain records exchanged between the collector
// policy, the repository, and the report storage.
package model

import "time"

// PauseRecord captures the refinement statistics of one evacuation pause.
type PauseRecord struct {
	ID        int64     `json:"id"`
	PauseSeq  uint64    `json:"pause_seq"`
	Timestamp time.Time `json:"timestamp"`

	// Mutator-side refinement work since the previous pause.
	MutatorRefinementTimeNS  int64  `json:"mutator_refinement_time_ns"`
	MutatorRefinedCards      uint64 `json:"mutator_refined_cards"`
	MutatorDirtiedCards      uint64 `json:"mutator_dirtied_cards"`
	MutatorWrittenCards      uint64 `json:"mutator_written_cards"`
	MutatorWrittenDirtied    uint64 `json:"mutator_written_dirtied"`
	MutatorWrittenFiltered   uint64 `json:"mutator_written_filtered"`
	MutatorWrittenProcTimeNS int64  `json:"mutator_written_proc_time_ns"`

	// Flush-logs work performed by the retirement task itself.
	FlushWrittenCards    uint64 `json:"flush_written_cards"`
	FlushWrittenDirtied  uint64 `json:"flush_written_dirtied"`
	FlushWrittenFiltered uint64 `json:"flush_written_filtered"`
	FlushDirtiedCards    uint64 `json:"flush_dirtied_cards"`

	// Controller state at the pause.
	ThreadsNeeded         uint    `json:"threads_needed"`
	DeactivationThreshold uint64  `json:"deactivation_threshold"`
	PredictedGCDistanceMS float64 `json:"predicted_gc_distance_ms"`
}

// PauseReport is the serializable archive form of a run's pauses.
type PauseReport struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Records     []PauseRecord `json:"records"`
}
