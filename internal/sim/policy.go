package sim

import (
	"time"

	"github.com/card-refine/internal/gc/refine"
	apperrors "github.com/card-refine/pkg/errors"
	"github.com/card-refine/pkg/model"
	"github.com/card-refine/pkg/utils"
)

// PauseSink receives one record per pause; the repository implements it.
type PauseSink interface {
	RecordPause(record *model.PauseRecord) error
}

// Policy retrains the analytics predictors from the per-pause refinement
// statistics and hands each pause's record to the sink.
type Policy struct {
	rates  *refine.MovingRates
	logger utils.Logger
	clock  utils.Clock
	sink   PauseSink

	controller *refine.ThreadsNeeded

	pauseSeq      uint64
	lastPause     time.Time
	lastRegions   uint
	regionCounter func() uint
}

// NewPolicy creates a policy feeding rates and reporting to sink (which
// may be nil). regionCounter reports the cumulative allocated regions, for
// the allocation-rate sample.
func NewPolicy(rates *refine.MovingRates, controller *refine.ThreadsNeeded, logger utils.Logger, sink PauseSink, regionCounter func() uint) *Policy {
	return &Policy{
		rates:         rates,
		logger:        logger,
		clock:         utils.NewRealClock(),
		sink:          sink,
		controller:    controller,
		regionCounter: regionCounter,
	}
}

// SetClock replaces the clock; for tests.
func (p *Policy) SetClock(c utils.Clock) {
	p.clock = c
}

// RecordRefinementThreadStats feeds the concurrent workers' own rates,
// gathered separately from the mutator and flush sweeps.
func (p *Policy) RecordRefinementThreadStats(stats refine.Stats) {
	if rate := stats.WrittenCardsProcessingRateMS(); rate > 0 {
		p.rates.ReportConcurrentDirtyingRateMS(rate)
	}
	if rate := stats.RefinementRateMS(); rate > 0 {
		p.rates.ReportConcurrentRefineRateMS(rate)
	}
}

// RecordConcurrentRefinementStats implements refine.Policy.
func (p *Policy) RecordConcurrentRefinementStats(mutatorStats, flushStats refine.Stats) {
	now := p.clock.Now()
	p.pauseSeq++

	if !p.lastPause.IsZero() {
		elapsedMS := float64(now.Sub(p.lastPause)) / float64(time.Millisecond)
		if elapsedMS > 0 {
			regions := p.regionCounter()
			p.rates.ReportAllocRateMS(float64(regions-p.lastRegions) / elapsedMS)
			p.lastRegions = regions

			written := mutatorStats.WrittenCards + flushStats.WrittenCards
			p.rates.ReportWrittenCardsRateMS(float64(written) / elapsedMS)

			dirtied := mutatorStats.DirtiedCards + mutatorStats.WrittenCardsDirtied
			p.rates.ReportDirtiedCardsRateMS(float64(dirtied) / elapsedMS)
		}
		if rate := mutatorStats.WrittenCardsProcessingRateMS(); rate > 0 {
			p.rates.ReportConcurrentDirtyingRateMS(rate)
		}
		if rate := mutatorStats.RefinementRateMS(); rate > 0 {
			p.rates.ReportConcurrentRefineRateMS(rate)
		}
	}
	p.lastPause = now

	record := &model.PauseRecord{
		PauseSeq:                 p.pauseSeq,
		Timestamp:                now,
		MutatorRefinementTimeNS:  mutatorStats.RefinementTime.Nanoseconds(),
		MutatorRefinedCards:      mutatorStats.RefinedCards,
		MutatorDirtiedCards:      mutatorStats.DirtiedCards,
		MutatorWrittenCards:      mutatorStats.WrittenCards,
		MutatorWrittenDirtied:    mutatorStats.WrittenCardsDirtied,
		MutatorWrittenFiltered:   mutatorStats.WrittenCardsFiltered,
		MutatorWrittenProcTimeNS: mutatorStats.WrittenCardsProcessingTime.Nanoseconds(),
		FlushWrittenCards:        flushStats.WrittenCards,
		FlushWrittenDirtied:      flushStats.WrittenCardsDirtied,
		FlushWrittenFiltered:     flushStats.WrittenCardsFiltered,
		FlushDirtiedCards:        flushStats.DirtiedCards,
	}
	if p.controller != nil {
		record.ThreadsNeeded = p.controller.ThreadsNeeded()
		record.DeactivationThreshold = p.controller.WrittenCardsDeactivationThreshold()
		record.PredictedGCDistanceMS = p.controller.PredictedTimeUntilNextGCMS()
	}

	p.logger.Info("pause %d: written=%d (dirtied=%d filtered=%d) flush_written=%d refined=%d",
		record.PauseSeq, record.MutatorWrittenCards, record.MutatorWrittenDirtied,
		record.MutatorWrittenFiltered, record.FlushWrittenCards, record.MutatorRefinedCards)

	if p.sink != nil {
		// A recording failure costs one record, never the pause.
		if err := apperrors.AtStage(apperrors.StageRecord, record.PauseSeq, p.sink.RecordPause(record)); err != nil {
			p.logger.Warn("%v", err)
		}
	}
}
