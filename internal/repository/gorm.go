package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/card-refine/pkg/model"
)

// GormPauseRepository implements PauseRepository using GORM.
type GormPauseRepository struct {
	db *gorm.DB
}

// NewGormPauseRepository creates a repository over an open database,
// migrating the schema.
func NewGormPauseRepository(db *gorm.DB) (*GormPauseRepository, error) {
	if err := db.AutoMigrate(&PauseRefinementStats{}); err != nil {
		return nil, fmt.Errorf("failed to migrate pause stats schema: %w", err)
	}
	return &GormPauseRepository{db: db}, nil
}

// CreatePause persists one pause record.
func (r *GormPauseRepository) CreatePause(ctx context.Context, record *model.PauseRecord) error {
	row := rowFromModel(record)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to insert pause record: %w", err)
	}
	record.ID = row.ID
	return nil
}

// ListPauses returns the most recent records, newest first.
func (r *GormPauseRepository) ListPauses(ctx context.Context, limit int) ([]*model.PauseRecord, error) {
	var rows []PauseRefinementStats
	err := r.db.WithContext(ctx).
		Order("pause_seq DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query pause records: %w", err)
	}

	result := make([]*model.PauseRecord, len(rows))
	for i := range rows {
		result[i] = rows[i].ToModel()
	}
	return result, nil
}

// PauseCount returns the number of stored records.
func (r *GormPauseRepository) PauseCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&PauseRefinementStats{}).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pause records: %w", err)
	}
	return count, nil
}
