package repository

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/card-refine/pkg/config"
)

func TestNewGormDB_RejectsUnknownType(t *testing.T) {
	_, err := NewGormDB(&config.DatabaseConfig{Type: "mongodb"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestCreatePause_SQL(t *testing.T) {
	// Verify the insert the repository issues, against a mocked postgres
	// connection.
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	repo := &GormPauseRepository{db: db}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "pause_refinement_stats"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(17)))
	mock.ExpectCommit()

	record := sampleRecord(1)
	require.NoError(t, repo.CreatePause(t.Context(), record))
	assert.Equal(t, int64(17), record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
