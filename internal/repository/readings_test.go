package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/gitter-badger/DiaBLE/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *ReadingRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewReadingRepository(db, logger)

	return db, mock, repo
}

var noon = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSaveSeries_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	readings := []models.Reading{
		{ID: 2, Date: noon.Add(15 * time.Minute), Value: 110, Source: "Libre 2"},
		{ID: 1, Date: noon, Value: models.PendingValue, Source: "Libre 2"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM glucose_readings`).
		WithArgs("history", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	prep := mock.ExpectPrepare(`INSERT INTO glucose_readings`)
	prep.ExpectExec().
		WithArgs("history", 2, readings[0].Date, 110, "Libre 2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("history", 1, readings[1].Date, -1, "Libre 2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.SaveSeries(context.Background(), models.SourceHistory, readings)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSeries_EmptyOnlyDeletes(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM glucose_readings`).
		WithArgs("trend", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveSeries(context.Background(), models.SourceTrend, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSeries_UpsertFailureRollsBack(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM glucose_readings`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare(`INSERT INTO glucose_readings`).
		ExpectExec().
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.SaveSeries(context.Background(), models.SourceTrend, []models.Reading{{ID: 1, Date: noon, Value: 90}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert reading 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSeries_GroupsBySource(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"source", "reading_id", "reading_date", "value", "source_label"}).
		AddRow("history", 2, noon.Add(15*time.Minute), 110, "Libre 2").
		AddRow("history", 1, noon, 100, "Libre 2").
		AddRow("remote-sync", 28512000, noon, 104, "xDrip 1.2")

	mock.ExpectQuery(`SELECT source, reading_id`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	got, err := repo.LoadSeries(context.Background(), []models.Source{models.SourceHistory, models.SourceRemoteSync})
	require.NoError(t, err)
	require.Len(t, got[models.SourceHistory], 2)
	assert.Equal(t, 2, got[models.SourceHistory][0].ID)
	assert.Equal(t, 110, got[models.SourceHistory][0].Value)
	require.Len(t, got[models.SourceRemoteSync], 1)
	assert.Equal(t, "xDrip 1.2", got[models.SourceRemoteSync][0].Source)
	assert.Empty(t, got[models.SourceTrend])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSeries_QueryError(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT source, reading_id`).WillReturnError(errors.New("connection reset"))

	_, err := repo.LoadSeries(context.Background(), models.AllSources)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query glucose_readings")
}

func TestLoadConnectionState_NotFound(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT last_reading_date`).WillReturnError(sql.ErrNoRows)

	_, ok, err := repo.LoadConnectionState(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadConnectionState_NeverConnected(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"last_reading_date", "last_connection_date", "device_state", "status", "reading_interval_minutes"}).
		AddRow(noon, nil, "Disconnected", "", 5)
	mock.ExpectQuery(`SELECT last_reading_date`).WillReturnRows(rows)

	state, ok, err := repo.LoadConnectionState(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, state.LastReadingDate.Equal(noon))
	assert.True(t, state.NeverConnected())
	assert.Equal(t, models.DeviceStateDisconnected, state.DeviceState)
	assert.Equal(t, 5, state.ReadingIntervalMinutes)
}

func TestSaveConnectionState_NullsForNever(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO connection_state`).
		WithArgs(noon, nil, "Connected", "", 5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveConnectionState(context.Background(), models.ConnectionState{
		LastReadingDate:        noon,
		DeviceState:            models.DeviceStateConnected,
		ReadingIntervalMinutes: 5,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS glucose_readings`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
