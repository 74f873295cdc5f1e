package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	rediscommon "github.com/gitter-badger/DiaBLE/common/redis"
	"github.com/gitter-badger/DiaBLE/internal/config"
	"github.com/gitter-badger/DiaBLE/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Metrics counters of the health-store consumer
type Metrics struct {
	mu sync.RWMutex

	MessagesProcessed int64
	MessagesSucceeded int64
	MessagesFailed    int64
	ReadingsIngested  int64

	ErrorsParse  int64
	ErrorsIngest int64

	LastProcessTime time.Time
	StartTime       time.Time
}

// GetSnapshot returns a copy of the counters
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesProcessed: m.MessagesProcessed,
		MessagesSucceeded: m.MessagesSucceeded,
		MessagesFailed:    m.MessagesFailed,
		ReadingsIngested:  m.ReadingsIngested,
		ErrorsParse:       m.ErrorsParse,
		ErrorsIngest:      m.ErrorsIngest,
		LastProcessTime:   m.LastProcessTime,
		StartTime:         m.StartTime,
	}
}

func (m *Metrics) incrementSucceeded(changed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesProcessed++
	m.MessagesSucceeded++
	m.ReadingsIngested += int64(changed)
	m.LastProcessTime = time.Now()
}

func (m *Metrics) incrementFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesProcessed++
	m.MessagesFailed++
	switch errorType {
	case "parse":
		m.ErrorsParse++
	case "ingest":
		m.ErrorsIngest++
	}
}

// HealthStreamConsumer reads health-store samples from a Redis Stream consumer group
type HealthStreamConsumer struct {
	redisClient  *redis.Client
	ingester     Ingester
	stream       string
	group        string
	consumerName string
	batchSize    int64
	block        time.Duration
	logger       *zap.Logger
	metrics      *Metrics
}

// NewHealthStreamConsumer creates the consumer
func NewHealthStreamConsumer(cfg *config.Config, redisClient *redis.Client, ingester Ingester, logger *zap.Logger) *HealthStreamConsumer {
	batch := cfg.HealthStore.BatchSize
	if batch <= 0 {
		batch = 10
	}
	return &HealthStreamConsumer{
		redisClient:  redisClient,
		ingester:     ingester,
		stream:       cfg.HealthStore.Stream,
		group:        cfg.HealthStore.ConsumerGroup,
		consumerName: cfg.HealthStore.ConsumerName,
		batchSize:    batch,
		block:        2 * time.Second,
		logger:       logger,
		metrics: &Metrics{
			StartTime: time.Now(),
		},
	}
}

// Metrics returns the live counters
func (c *HealthStreamConsumer) Metrics() *Metrics {
	return c.metrics
}

// Start creates the group and consumes until ctx is done
func (c *HealthStreamConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.group); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.stream, err)
	}

	c.logger.Info("Health stream consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.group),
		zap.String("consumer_name", c.consumerName),
	)

	metricsCtx, metricsCancel := context.WithCancel(ctx)
	defer metricsCancel()
	go c.reportMetrics(metricsCtx)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume health stream",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second
	}
}

// consume reads one batch, processes and acknowledges every message.
// Malformed messages are acknowledged too so they do not block the group.
func (c *HealthStreamConsumer) consume(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(ctx, c.redisClient, c.stream, c.group, c.consumerName, c.batchSize, c.block)
	if err != nil {
		return fmt.Errorf("failed to read from stream %s: %w", c.stream, err)
	}

	for _, msg := range messages {
		if err := c.processMessage(ctx, msg); err != nil {
			c.logger.Error("Failed to process message",
				zap.String("stream", c.stream),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
		if err := rediscommon.Ack(ctx, c.redisClient, c.stream, c.group, msg.ID); err != nil {
			c.logger.Warn("Failed to ack message", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
	return nil
}

// processMessage ingests the readings carried in the "data" field into the health-store series
func (c *HealthStreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		c.metrics.incrementFailed("parse")
		return fmt.Errorf("message %s has no data field", msg.ID)
	}

	batch, err := parseReadings([]byte(raw))
	if err != nil {
		c.metrics.incrementFailed("parse")
		return err
	}

	changed, err := c.ingester.IngestReadings(ctx, models.SourceHealthStore, batch.Readings)
	if err != nil {
		c.metrics.incrementFailed("ingest")
		return fmt.Errorf("failed to ingest health-store readings: %w", err)
	}
	c.metrics.incrementSucceeded(changed)

	c.logger.Debug("Processed health-store message",
		zap.String("message_id", msg.ID),
		zap.Int("received", len(batch.Readings)),
		zap.Int("changed", changed),
	)
	return nil
}

func (c *HealthStreamConsumer) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := c.metrics.GetSnapshot()
			c.logger.Info("Metrics report",
				zap.Int64("messages_processed", snapshot.MessagesProcessed),
				zap.Int64("messages_succeeded", snapshot.MessagesSucceeded),
				zap.Int64("messages_failed", snapshot.MessagesFailed),
				zap.Int64("readings_ingested", snapshot.ReadingsIngested),
				zap.Int64("errors_parse", snapshot.ErrorsParse),
				zap.Int64("errors_ingest", snapshot.ErrorsIngest),
				zap.Duration("uptime", time.Since(snapshot.StartTime)),
			)
		}
	}
}
