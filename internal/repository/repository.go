// Package repository provides database persistence for per-pause
// refinement statistics.
package repository

import (
	"context"

	"github.com/card-refine/pkg/model"
)

// PauseRepository stores and retrieves pause records.
type PauseRepository interface {
	// CreatePause persists one pause record, filling in its ID.
	CreatePause(ctx context.Context, record *model.PauseRecord) error

	// ListPauses returns the most recent records, newest first.
	ListPauses(ctx context.Context, limit int) ([]*model.PauseRecord, error)

	// PauseCount returns the number of stored records.
	PauseCount(ctx context.Context) (int64, error)
}

// SinkAdapter adapts a PauseRepository to the policy's synchronous sink
// interface.
type SinkAdapter struct {
	Repo PauseRepository
}

// RecordPause implements the policy sink.
func (a *SinkAdapter) RecordPause(record *model.PauseRecord) error {
	return a.Repo.CreatePause(context.Background(), record)
}
