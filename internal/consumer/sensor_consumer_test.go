package consumer

import (
	"testing"
	"time"

	"github.com/gitter-badger/DiaBLE/internal/config"
	"github.com/gitter-badger/DiaBLE/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSensorConsumer(f *fakeIngester) *SensorConsumer {
	return NewSensorConsumer(&config.Config{}, nil, f, f, zap.NewNop())
}

func TestHandleMessage_IngestsBatch(t *testing.T) {
	f := &fakeIngester{}
	c := newTestSensorConsumer(f)

	payload := []byte(`{"source":"trend","readings":[
		{"id":101,"date":"2024-03-01T12:00:00Z","value":123,"source":"Libre 2"},
		{"id":100,"date":"2024-03-01T11:59:00Z","value":-1}
	]}`)
	require.NoError(t, c.handleMessage("glucose/libre2-abc/readings", payload))

	calls := f.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, models.SourceTrend, calls[0].source)
	require.Len(t, calls[0].readings, 2)
	assert.Equal(t, "Libre 2", calls[0].readings[0].Source)
	// unlabelled reading takes the device from the topic
	assert.Equal(t, "libre2-abc", calls[0].readings[1].Source)
	assert.True(t, calls[0].readings[1].IsPending())
}

func TestHandleMessage_Rejects(t *testing.T) {
	f := &fakeIngester{}
	c := newTestSensorConsumer(f)

	assert.Error(t, c.handleMessage("glucose/x/readings", []byte(`not json`)))
	assert.Error(t, c.handleMessage("glucose/x/readings", []byte(`{"readings":[]}`)))
	assert.Error(t, c.handleMessage("glucose/x/readings", []byte(`{"source":"health-store","readings":[]}`)))
	assert.Error(t, c.handleMessage("glucose/x/readings", []byte(`{"source":"bogus","readings":[]}`)))
	assert.Empty(t, f.Calls())
}

func TestHandleState_PartialUpdate(t *testing.T) {
	f := &fakeIngester{state: models.ConnectionState{Status: "Libre 2", ReadingIntervalMinutes: 5}}
	c := newTestSensorConsumer(f)

	require.NoError(t, c.handleState("glucose/x/state", []byte(`{"device_state":"Connected","last_connection":"2024-03-01T12:00:00Z"}`)))

	assert.Equal(t, models.DeviceStateConnected, f.state.DeviceState)
	assert.True(t, f.state.LastConnectionDate.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Libre 2", f.state.Status)
	assert.Equal(t, 5, f.state.ReadingIntervalMinutes)

	require.NoError(t, c.handleState("glucose/x/state", []byte(`{"reading_interval":1,"status":"Scanning for sensor"}`)))
	assert.Equal(t, 1, f.state.ReadingIntervalMinutes)
	assert.Equal(t, "Scanning for sensor", f.state.Status)

	assert.Error(t, c.handleState("glucose/x/state", []byte(`{`)))
}

func TestParseReadings_BareArray(t *testing.T) {
	batch, err := parseReadings([]byte(`[{"id":1,"date":"2024-03-01T12:00:00Z","value":99}]`))
	require.NoError(t, err)
	assert.Equal(t, models.Source(""), batch.Source)
	require.Len(t, batch.Readings, 1)
	assert.Equal(t, 99, batch.Readings[0].Value)
}

func TestDeviceFromTopic(t *testing.T) {
	assert.Equal(t, "abc", deviceFromTopic("glucose/abc/readings"))
	assert.Equal(t, "", deviceFromTopic("glucose"))
}
