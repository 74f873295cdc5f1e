package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	rediscommon "github.com/gitter-badger/DiaBLE/common/redis"
	"github.com/gitter-badger/DiaBLE/internal/config"
	"github.com/gitter-badger/DiaBLE/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupHealthConsumer(t *testing.T, f *fakeIngester) (*HealthStreamConsumer, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{}
	cfg.HealthStore.Stream = "glucose:healthstore:stream"
	cfg.HealthStore.ConsumerGroup = "test-group"
	cfg.HealthStore.ConsumerName = "test-consumer"
	cfg.HealthStore.BatchSize = 10

	c := NewHealthStreamConsumer(cfg, client, f, zap.NewNop())
	c.block = 0
	return c, client
}

func TestHealthConsumer_ProcessesAndAcks(t *testing.T) {
	f := &fakeIngester{}
	c, client := setupHealthConsumer(t, f)
	ctx := context.Background()

	require.NoError(t, rediscommon.CreateConsumerGroup(ctx, client, c.stream, c.group))

	_, err := rediscommon.PublishJSONToStream(ctx, client, c.stream, ReadingsPayload{
		Readings: []models.Reading{
			{ID: 28488240, Date: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), Value: 104, Source: "Health 17.4"},
		},
	})
	require.NoError(t, err)
	_, err = rediscommon.PublishToStream(ctx, client, c.stream, map[string]interface{}{"other": "x"})
	require.NoError(t, err)

	require.NoError(t, c.consume(ctx))

	calls := f.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, models.SourceHealthStore, calls[0].source)
	assert.Equal(t, 104, calls[0].readings[0].Value)

	snap := c.Metrics().GetSnapshot()
	assert.Equal(t, int64(2), snap.MessagesProcessed)
	assert.Equal(t, int64(1), snap.MessagesSucceeded)
	assert.Equal(t, int64(1), snap.ErrorsParse)
	assert.Equal(t, int64(1), snap.ReadingsIngested)

	// both messages acknowledged
	pending, err := client.XPending(ctx, c.stream, c.group).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestHealthConsumer_IngestFailureCounted(t *testing.T) {
	f := &fakeIngester{err: errors.New("boom")}
	c, client := setupHealthConsumer(t, f)
	ctx := context.Background()

	require.NoError(t, rediscommon.CreateConsumerGroup(ctx, client, c.stream, c.group))
	_, err := rediscommon.PublishJSONToStream(ctx, client, c.stream, []models.Reading{{ID: 1, Value: 90}})
	require.NoError(t, err)

	require.NoError(t, c.consume(ctx))
	assert.Equal(t, int64(1), c.Metrics().GetSnapshot().ErrorsIngest)
}

func TestHealthConsumer_StartStopsOnCancel(t *testing.T) {
	f := &fakeIngester{}
	c, client := setupHealthConsumer(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	_, err := rediscommon.PublishJSONToStream(context.Background(), client, c.stream, []models.Reading{{ID: 7, Value: 88}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
