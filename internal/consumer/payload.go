package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gitter-badger/DiaBLE/internal/models"
)

// Ingester accepts a batch of readings for one series
type Ingester interface {
	IngestReadings(ctx context.Context, source models.Source, readings []models.Reading) (int, error)
}

// StateUpdater applies a mutation to the connection record
type StateUpdater interface {
	UpdateConnection(ctx context.Context, fn func(*models.ConnectionState)) models.ConnectionState
}

// ReadingsPayload batch published by the acquisition layer:
//
//	{"source": "trend", "readings": [{"id": 101, "date": "2024-03-01T12:00:00Z", "value": 123, "source": "Libre 2"}]}
type ReadingsPayload struct {
	Source   models.Source    `json:"source"`
	Readings []models.Reading `json:"readings"`
}

// StatePayload connection update; absent fields leave the record unchanged
type StatePayload struct {
	DeviceState     *models.DeviceState `json:"device_state,omitempty"`
	Status          *string             `json:"status,omitempty"`
	LastConnection  *time.Time          `json:"last_connection,omitempty"`
	LastReading     *time.Time          `json:"last_reading,omitempty"`
	ReadingInterval *int                `json:"reading_interval,omitempty"`
}

// Apply copies the present fields into state
func (p StatePayload) Apply(state *models.ConnectionState) {
	if p.DeviceState != nil {
		state.DeviceState = *p.DeviceState
	}
	if p.Status != nil {
		state.Status = *p.Status
	}
	if p.LastConnection != nil {
		state.LastConnectionDate = *p.LastConnection
	}
	if p.LastReading != nil {
		state.LastReadingDate = *p.LastReading
	}
	if p.ReadingInterval != nil && *p.ReadingInterval > 0 {
		state.ReadingIntervalMinutes = *p.ReadingInterval
	}
}

// parseReadings decodes a batch; an object with "readings" or a bare array are both accepted
func parseReadings(payload []byte) (ReadingsPayload, error) {
	var batch ReadingsPayload
	if len(payload) > 0 && payload[0] == '[' {
		if err := json.Unmarshal(payload, &batch.Readings); err != nil {
			return ReadingsPayload{}, fmt.Errorf("failed to unmarshal readings: %w", err)
		}
		return batch, nil
	}
	if err := json.Unmarshal(payload, &batch); err != nil {
		return ReadingsPayload{}, fmt.Errorf("failed to unmarshal readings: %w", err)
	}
	return batch, nil
}
