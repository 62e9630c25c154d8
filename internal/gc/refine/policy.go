package refine

// Policy consumes the refinement statistics gathered at each pause. The
// collector policy uses them to retrain the analytics predictors.
type Policy interface {
	// RecordConcurrentRefinementStats reports the mutator-side stats
	// (refinement work done by mutator threads since the last pause) and
	// the flush-logs stats (work done retiring the per-thread logs).
	RecordConcurrentRefinementStats(mutatorStats, flushStats Stats)
}
