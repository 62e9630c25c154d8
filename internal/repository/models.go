package repository

import (
	"time"

	"github.com/card-refine/pkg/model"
)

// PauseRefinementStats represents the pause_refinement_stats table.
type PauseRefinementStats struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	PauseSeq  uint64    `gorm:"column:pause_seq;index"`
	Timestamp time.Time `gorm:"column:timestamp;autoCreateTime"`

	MutatorRefinementTimeNS  int64  `gorm:"column:mutator_refinement_time_ns"`
	MutatorRefinedCards      uint64 `gorm:"column:mutator_refined_cards"`
	MutatorDirtiedCards      uint64 `gorm:"column:mutator_dirtied_cards"`
	MutatorWrittenCards      uint64 `gorm:"column:mutator_written_cards"`
	MutatorWrittenDirtied    uint64 `gorm:"column:mutator_written_dirtied"`
	MutatorWrittenFiltered   uint64 `gorm:"column:mutator_written_filtered"`
	MutatorWrittenProcTimeNS int64  `gorm:"column:mutator_written_proc_time_ns"`

	FlushWrittenCards    uint64 `gorm:"column:flush_written_cards"`
	FlushWrittenDirtied  uint64 `gorm:"column:flush_written_dirtied"`
	FlushWrittenFiltered uint64 `gorm:"column:flush_written_filtered"`
	FlushDirtiedCards    uint64 `gorm:"column:flush_dirtied_cards"`

	ThreadsNeeded         uint    `gorm:"column:threads_needed"`
	DeactivationThreshold uint64  `gorm:"column:deactivation_threshold"`
	PredictedGCDistanceMS float64 `gorm:"column:predicted_gc_distance_ms"`
}

// TableName returns the table name for PauseRefinementStats.
func (PauseRefinementStats) TableName() string {
	return "pause_refinement_stats"
}

// ToModel converts the row to a model.PauseRecord.
func (r *PauseRefinementStats) ToModel() *model.PauseRecord {
	return &model.PauseRecord{
		ID:                       r.ID,
		PauseSeq:                 r.PauseSeq,
		Timestamp:                r.Timestamp,
		MutatorRefinementTimeNS:  r.MutatorRefinementTimeNS,
		MutatorRefinedCards:      r.MutatorRefinedCards,
		MutatorDirtiedCards:      r.MutatorDirtiedCards,
		MutatorWrittenCards:      r.MutatorWrittenCards,
		MutatorWrittenDirtied:    r.MutatorWrittenDirtied,
		MutatorWrittenFiltered:   r.MutatorWrittenFiltered,
		MutatorWrittenProcTimeNS: r.MutatorWrittenProcTimeNS,
		FlushWrittenCards:        r.FlushWrittenCards,
		FlushWrittenDirtied:      r.FlushWrittenDirtied,
		FlushWrittenFiltered:     r.FlushWrittenFiltered,
		FlushDirtiedCards:        r.FlushDirtiedCards,
		ThreadsNeeded:            r.ThreadsNeeded,
		DeactivationThreshold:    r.DeactivationThreshold,
		PredictedGCDistanceMS:    r.PredictedGCDistanceMS,
	}
}

// rowFromModel converts a model.PauseRecord to its table row.
func rowFromModel(m *model.PauseRecord) *PauseRefinementStats {
	return &PauseRefinementStats{
		ID:                       m.ID,
		PauseSeq:                 m.PauseSeq,
		Timestamp:                m.Timestamp,
		MutatorRefinementTimeNS:  m.MutatorRefinementTimeNS,
		MutatorRefinedCards:      m.MutatorRefinedCards,
		MutatorDirtiedCards:      m.MutatorDirtiedCards,
		MutatorWrittenCards:      m.MutatorWrittenCards,
		MutatorWrittenDirtied:    m.MutatorWrittenDirtied,
		MutatorWrittenFiltered:   m.MutatorWrittenFiltered,
		MutatorWrittenProcTimeNS: m.MutatorWrittenProcTimeNS,
		FlushWrittenCards:        m.FlushWrittenCards,
		FlushWrittenDirtied:      m.FlushWrittenDirtied,
		FlushWrittenFiltered:     m.FlushWrittenFiltered,
		FlushDirtiedCards:        m.FlushDirtiedCards,
		ThreadsNeeded:            m.ThreadsNeeded,
		DeactivationThreshold:    m.DeactivationThreshold,
		PredictedGCDistanceMS:    m.PredictedGCDistanceMS,
	}
}
