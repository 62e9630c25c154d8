package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/card-refine/pkg/model"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func sampleRecord(seq uint64) *model.PauseRecord {
	return &model.PauseRecord{
		PauseSeq:              seq,
		Timestamp:             time.Now(),
		MutatorWrittenCards:   100 * seq,
		MutatorWrittenDirtied: 60 * seq,
		FlushWrittenCards:     10 * seq,
		ThreadsNeeded:         uint(seq),
	}
}

func TestGormPauseRepository_CreateAndList(t *testing.T) {
	repo, err := NewGormPauseRepository(setupTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("ListPauses_Empty", func(t *testing.T) {
		records, err := repo.ListPauses(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("CreatePause_FillsID", func(t *testing.T) {
		record := sampleRecord(1)
		require.NoError(t, repo.CreatePause(ctx, record))
		assert.NotZero(t, record.ID)
	})

	t.Run("ListPauses_NewestFirst", func(t *testing.T) {
		require.NoError(t, repo.CreatePause(ctx, sampleRecord(2)))
		require.NoError(t, repo.CreatePause(ctx, sampleRecord(3)))

		records, err := repo.ListPauses(ctx, 2)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, uint64(3), records[0].PauseSeq)
		assert.Equal(t, uint64(2), records[1].PauseSeq)
		assert.Equal(t, uint64(300), records[0].MutatorWrittenCards)
	})

	t.Run("PauseCount", func(t *testing.T) {
		count, err := repo.PauseCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})
}

func TestSinkAdapter(t *testing.T) {
	repo, err := NewGormPauseRepository(setupTestDB(t))
	require.NoError(t, err)

	sink := &SinkAdapter{Repo: repo}
	require.NoError(t, sink.RecordPause(sampleRecord(9)))

	count, err := repo.PauseCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRowModelRoundTrip(t *testing.T) {
	record := sampleRecord(5)
	record.ID = 42
	record.DeactivationThreshold = 777
	record.PredictedGCDistanceMS = 12.5

	got := rowFromModel(record).ToModel()
	assert.Equal(t, record, got)
}
