package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gitter-badger/DiaBLE/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ReadingRepository PostgreSQL persistence for reading series and the connection record.
//
// Tables:
//   - glucose_readings(source, reading_id, reading_date, value, source_label), PK (source, reading_id)
//   - connection_state(id = 1, last_reading_date, last_connection_date, device_state, status, reading_interval_minutes)
type ReadingRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReadingRepository creates a repository
func NewReadingRepository(db *sql.DB, logger *zap.Logger) *ReadingRepository {
	return &ReadingRepository{
		db:     db,
		logger: logger,
	}
}

// SaveSeries makes the stored rows of source match readings:
// rows no longer in the series are deleted, the rest are upserted.
func (r *ReadingRepository) SaveSeries(ctx context.Context, source models.Source, readings []models.Reading) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(readings))
	for _, reading := range readings {
		ids = append(ids, int64(reading.ID))
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM glucose_readings WHERE source = $1 AND NOT (reading_id = ANY($2))`,
		string(source), pq.Array(ids),
	); err != nil {
		return fmt.Errorf("failed to delete evicted readings: %w", err)
	}

	if len(readings) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO glucose_readings (source, reading_id, reading_date, value, source_label)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (source, reading_id) DO UPDATE SET
				reading_date = EXCLUDED.reading_date,
				value = EXCLUDED.value,
				source_label = EXCLUDED.source_label
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, reading := range readings {
			if _, err := stmt.ExecContext(ctx, string(source), reading.ID, reading.Date, reading.Value, reading.Source); err != nil {
				return fmt.Errorf("failed to upsert reading %d: %w", reading.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit series: %w", err)
	}

	r.logger.Debug("Saved series",
		zap.String("source", string(source)),
		zap.Int("count", len(readings)),
	)
	return nil
}

// LoadSeries returns the stored readings of each requested source, newest first
func (r *ReadingRepository) LoadSeries(ctx context.Context, sources []models.Source) (map[models.Source][]models.Reading, error) {
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, string(s))
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT source, reading_id, reading_date, value, COALESCE(source_label, '')
		FROM glucose_readings
		WHERE source = ANY($1)
		ORDER BY source, reading_date DESC
	`, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("failed to query glucose_readings: %w", err)
	}
	defer rows.Close()

	result := make(map[models.Source][]models.Reading)
	for rows.Next() {
		var source string
		var reading models.Reading
		if err := rows.Scan(&source, &reading.ID, &reading.Date, &reading.Value, &reading.Source); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result[models.Source(source)] = append(result[models.Source(source)], reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return result, nil
}

// LoadConnectionState returns the stored record; ok is false when none exists yet
func (r *ReadingRepository) LoadConnectionState(ctx context.Context) (state models.ConnectionState, ok bool, err error) {
	var lastReading, lastConnection sql.NullTime
	var deviceState, status sql.NullString
	var interval sql.NullInt64

	err = r.db.QueryRowContext(ctx, `
		SELECT last_reading_date, last_connection_date, device_state, status, reading_interval_minutes
		FROM connection_state
		WHERE id = 1
	`).Scan(&lastReading, &lastConnection, &deviceState, &status, &interval)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.ConnectionState{}, false, nil
		}
		return models.ConnectionState{}, false, fmt.Errorf("failed to query connection_state: %w", err)
	}

	if lastReading.Valid {
		state.LastReadingDate = lastReading.Time
	}
	if lastConnection.Valid {
		state.LastConnectionDate = lastConnection.Time
	}
	state.DeviceState = models.DeviceState(deviceState.String)
	state.Status = status.String
	state.ReadingIntervalMinutes = int(interval.Int64)

	return state, true, nil
}

// SaveConnectionState upserts the single connection record
func (r *ReadingRepository) SaveConnectionState(ctx context.Context, state models.ConnectionState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO connection_state (id, last_reading_date, last_connection_date, device_state, status, reading_interval_minutes)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			last_reading_date = EXCLUDED.last_reading_date,
			last_connection_date = EXCLUDED.last_connection_date,
			device_state = EXCLUDED.device_state,
			status = EXCLUDED.status,
			reading_interval_minutes = EXCLUDED.reading_interval_minutes
	`,
		nullTime(state.LastReadingDate),
		nullTime(state.LastConnectionDate),
		string(state.DeviceState),
		state.Status,
		state.ReadingIntervalMinutes,
	)
	if err != nil {
		return fmt.Errorf("failed to save connection_state: %w", err)
	}
	return nil
}

// nullTime maps the zero "never" time to NULL
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
