package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mqttcommon "github.com/gitter-badger/DiaBLE/common/mqtt"
	"github.com/gitter-badger/DiaBLE/internal/config"
	"github.com/gitter-badger/DiaBLE/internal/models"

	"go.uber.org/zap"
)

// SensorConsumer MQTT consumer for the sensor bridge topics
type SensorConsumer struct {
	config     *config.Config
	mqttClient *mqttcommon.Client
	ingester   Ingester
	states     StateUpdater
	logger     *zap.Logger
}

// NewSensorConsumer creates the sensor consumer
func NewSensorConsumer(
	cfg *config.Config,
	mqttClient *mqttcommon.Client,
	ingester Ingester,
	states StateUpdater,
	logger *zap.Logger,
) *SensorConsumer {
	return &SensorConsumer{
		config:     cfg,
		mqttClient: mqttClient,
		ingester:   ingester,
		states:     states,
		logger:     logger,
	}
}

// Start subscribes both topics and blocks until ctx is done
func (c *SensorConsumer) Start(ctx context.Context) error {
	qos := c.config.MQTT.QoS
	if err := c.mqttClient.Subscribe(c.config.Sensor.Topics.Readings, qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to readings topic: %w", err)
	}
	if err := c.mqttClient.Subscribe(c.config.Sensor.Topics.State, qos, c.handleState); err != nil {
		return fmt.Errorf("failed to subscribe to state topic: %w", err)
	}

	c.logger.Info("Sensor consumer started",
		zap.String("readings_topic", c.config.Sensor.Topics.Readings),
		zap.String("state_topic", c.config.Sensor.Topics.State),
	)

	<-ctx.Done()
	return nil
}

// Stop unsubscribes both topics
func (c *SensorConsumer) Stop() {
	if err := c.mqttClient.Unsubscribe(c.config.Sensor.Topics.Readings, c.config.Sensor.Topics.State); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("Sensor consumer stopped")
}

// handleMessage ingests one readings batch. Topic format: glucose/{device}/readings
func (c *SensorConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received readings",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	batch, err := parseReadings(payload)
	if err != nil {
		return err
	}
	if batch.Source == "" {
		return fmt.Errorf("missing source in message on %s", topic)
	}
	if batch.Source == models.SourceHealthStore || batch.Source == models.SourceRemoteSync {
		return fmt.Errorf("source %s is not fed by the sensor bridge", batch.Source)
	}

	// the device segment labels readings that arrive without one
	if device := deviceFromTopic(topic); device != "" {
		for i := range batch.Readings {
			if batch.Readings[i].Source == "" {
				batch.Readings[i].Source = device
			}
		}
	}

	changed, err := c.ingester.IngestReadings(context.Background(), batch.Source, batch.Readings)
	if err != nil {
		return fmt.Errorf("failed to ingest %s: %w", batch.Source, err)
	}

	c.logger.Debug("Ingested sensor readings",
		zap.String("source", string(batch.Source)),
		zap.Int("received", len(batch.Readings)),
		zap.Int("changed", changed),
	)
	return nil
}

// handleState applies one connection update. Topic format: glucose/{device}/state
func (c *SensorConsumer) handleState(topic string, payload []byte) error {
	var update StatePayload
	if err := json.Unmarshal(payload, &update); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}

	state := c.states.UpdateConnection(context.Background(), update.Apply)

	c.logger.Debug("Applied connection state",
		zap.String("topic", topic),
		zap.String("device_state", string(state.DeviceState)),
	)
	return nil
}

func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}
