package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gitter-badger/DiaBLE/common/database"
	mqttcommon "github.com/gitter-badger/DiaBLE/common/mqtt"
	rediscommon "github.com/gitter-badger/DiaBLE/common/redis"
	"github.com/gitter-badger/DiaBLE/internal/cache"
	"github.com/gitter-badger/DiaBLE/internal/config"
	"github.com/gitter-badger/DiaBLE/internal/consumer"
	"github.com/gitter-badger/DiaBLE/internal/freshness"
	httpapi "github.com/gitter-badger/DiaBLE/internal/http"
	"github.com/gitter-badger/DiaBLE/internal/models"
	"github.com/gitter-badger/DiaBLE/internal/nightscout"
	"github.com/gitter-badger/DiaBLE/internal/repository"
	"github.com/gitter-badger/DiaBLE/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChangeEvent published on the event stream after an ingest changed a series
type ChangeEvent struct {
	Source    models.Source `json:"source"`
	Changed   int           `json:"changed"`
	Count     int           `json:"count"`
	Timestamp int64         `json:"timestamp"`
}

// GlucoseService owns the reading store and freshness tracker and wires every producer and consumer to them
type GlucoseService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client

	readings *store.ReadingStore
	tracker  *freshness.Tracker
	ticker   *freshness.Ticker

	// serializes merge, persistence, cache and event per series
	ingestLocks map[models.Source]*sync.Mutex

	repo           *repository.ReadingRepository
	cacheManager   *cache.CacheManager
	sensorConsumer *consumer.SensorConsumer
	healthConsumer *consumer.HealthStreamConsumer
	nightscout     *nightscout.Client
	httpServer     *http.Server

	// only touched from the ticker goroutine
	lastStaleness models.Staleness
}

// NewGlucoseService connects the configured backends and assembles the service
func NewGlucoseService(cfg *config.Config, logger *zap.Logger) (*GlucoseService, error) {
	if cfg.HealthStore.ConsumerName == "" {
		cfg.HealthStore.ConsumerName = "glucose-aggregator-" + uuid.NewString()
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "glucose-aggregator-" + uuid.NewString()[:8]
	}

	var db *sql.DB
	if cfg.Persistence.Enabled {
		var err error
		db, err = database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	}

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	var mqttClient *mqttcommon.Client
	if cfg.Sensor.Enabled {
		var err error
		mqttClient, err = mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			database.Close(db)
			rediscommon.Close(redisClient)
			return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
		}
	}

	return newGlucoseService(cfg, logger, db, redisClient, mqttClient), nil
}

// newGlucoseService assembles the service from already connected backends; any of them may be nil
func newGlucoseService(cfg *config.Config, logger *zap.Logger, db *sql.DB, redisClient *redis.Client, mqttClient *mqttcommon.Client) *GlucoseService {
	s := &GlucoseService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		readings:    store.NewReadingStore(store.SpecsWithCaps(cfg.Glucose.SeriesCaps), logger),
		tracker:     freshness.NewTracker(cfg.Glucose.ReadingInterval, logger),
		ingestLocks: make(map[models.Source]*sync.Mutex, len(models.AllSources)),
	}
	for _, source := range models.AllSources {
		s.ingestLocks[source] = &sync.Mutex{}
	}

	tick := time.Duration(cfg.Glucose.TickInterval) * time.Second
	if tick <= 0 {
		tick = time.Second
	}
	s.ticker = freshness.NewTicker(s.tracker, tick, s.onTick, logger)

	if db != nil {
		s.repo = repository.NewReadingRepository(db, logger)
	}

	if redisClient != nil {
		if cfg.Cache.Enabled {
			ttl := time.Duration(cfg.Cache.TTL) * time.Second
			s.cacheManager = cache.NewCacheManager(cache.NewRedisKVStore(redisClient), cfg.Cache.KeyPrefix, ttl, logger)
		}
		if cfg.HealthStore.Enabled {
			s.healthConsumer = consumer.NewHealthStreamConsumer(cfg, redisClient, s, logger)
		}
	}

	if mqttClient != nil {
		s.sensorConsumer = consumer.NewSensorConsumer(cfg, mqttClient, s, s, logger)
	}

	if cfg.Nightscout.Enabled() {
		s.nightscout = nightscout.NewClient(&cfg.Nightscout, logger)
	}

	if cfg.HTTP.Addr != "" {
		handler := httpapi.NewGlucoseHandler(s.readings, s.tracker, s, logger)
		if mqttClient != nil {
			handler.SetBrokerStatus(mqttClient.IsConnected)
		}
		s.httpServer = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           httpapi.NewRouter(handler, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return s
}

// Readings exposes the store
func (s *GlucoseService) Readings() *store.ReadingStore {
	return s.readings
}

// Tracker exposes the freshness tracker
func (s *GlucoseService) Tracker() *freshness.Tracker {
	return s.tracker
}

// Start loads persisted state, starts every loop and blocks until ctx is done
func (s *GlucoseService) Start(ctx context.Context) error {
	s.logger.Info("Starting glucose aggregator service",
		zap.Bool("persistence", s.repo != nil),
		zap.Bool("cache", s.cacheManager != nil),
		zap.Bool("sensor", s.sensorConsumer != nil),
		zap.Bool("health_store", s.healthConsumer != nil),
		zap.Bool("nightscout", s.nightscout != nil),
		zap.String("http_addr", s.config.HTTP.Addr),
	)

	if err := s.loadPersisted(ctx); err != nil {
		s.logger.Error("Failed to load persisted state", zap.Error(err))
	}

	s.ticker.Start(ctx)

	errChan := make(chan error, 4)

	if s.healthConsumer != nil {
		go func() {
			if err := s.healthConsumer.Start(ctx); err != nil {
				errChan <- fmt.Errorf("health consumer: %w", err)
			}
		}()
	}

	if s.sensorConsumer != nil {
		go func() {
			if err := s.sensorConsumer.Start(ctx); err != nil {
				errChan <- fmt.Errorf("sensor consumer: %w", err)
			}
		}()
	}

	if s.nightscout != nil {
		go s.startNightscoutSync(ctx)
	}

	if s.httpServer != nil {
		go func() {
			s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return err
	}
}

// Stop shuts every component down and releases the connections
func (s *GlucoseService) Stop(ctx context.Context) error {
	s.ticker.Stop()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shut down HTTP server", zap.Error(err))
		}
	}

	if s.sensorConsumer != nil {
		s.sensorConsumer.Stop()
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}

	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	s.logger.Info("Glucose aggregator service stopped")
	return nil
}

// IngestReadings merges readings into the store, then persists, caches and announces the change.
// Calls for the same source run one at a time so the last persisted snapshot is never older than the store.
// Only the store can fail the call; downstream failures are logged.
func (s *GlucoseService) IngestReadings(ctx context.Context, source models.Source, readings []models.Reading) (int, error) {
	if mu, ok := s.ingestLocks[source]; ok {
		mu.Lock()
		defer mu.Unlock()
	}

	changed, err := s.readings.Ingest(source, readings)
	if err != nil {
		return 0, err
	}
	if changed == 0 {
		return 0, nil
	}

	if source == models.SourceTrend {
		s.advanceLastReading(ctx, readings)
	}

	snapshot := s.readings.Snapshot(source)

	if s.repo != nil {
		if err := s.repo.SaveSeries(ctx, source, snapshot); err != nil {
			s.logger.Error("Failed to persist series", zap.String("source", string(source)), zap.Error(err))
		}
	}

	if s.cacheManager != nil {
		if ns, ok := s.readings.Lookup(source); ok {
			if err := s.cacheManager.UpdateSeriesCache(ctx, ns); err != nil {
				s.logger.Warn("Failed to update series cache", zap.String("source", string(source)), zap.Error(err))
			}
		}
	}

	if s.redisClient != nil && s.config.Events.Stream != "" {
		event := ChangeEvent{
			Source:    source,
			Changed:   changed,
			Count:     len(snapshot),
			Timestamp: time.Now().Unix(),
		}
		if _, err := rediscommon.PublishJSONToStream(ctx, s.redisClient, s.config.Events.Stream, event); err != nil {
			s.logger.Warn("Failed to publish change event", zap.Error(err))
		}
	}

	return changed, nil
}

// UpdateConnection applies fn to the connection record and persists the result
func (s *GlucoseService) UpdateConnection(ctx context.Context, fn func(*models.ConnectionState)) models.ConnectionState {
	state := s.tracker.Update(fn)

	if s.repo != nil {
		if err := s.repo.SaveConnectionState(ctx, state); err != nil {
			s.logger.Error("Failed to persist connection state", zap.Error(err))
		}
	}
	return state
}

// advanceLastReading moves the last reading date forward to the newest filled trend reading
func (s *GlucoseService) advanceLastReading(ctx context.Context, readings []models.Reading) {
	var newest time.Time
	for _, r := range readings {
		if !r.IsPending() && r.Date.After(newest) {
			newest = r.Date
		}
	}
	if newest.IsZero() || !newest.After(s.tracker.State().LastReadingDate) {
		return
	}
	s.UpdateConnection(ctx, func(state *models.ConnectionState) {
		if newest.After(state.LastReadingDate) {
			state.LastReadingDate = newest
		}
	})
}

// loadPersisted seeds the store and the tracker from the repository
func (s *GlucoseService) loadPersisted(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	if err := s.repo.EnsureSchema(ctx); err != nil {
		return err
	}

	series, err := s.repo.LoadSeries(ctx, models.AllSources)
	if err != nil {
		return fmt.Errorf("failed to load series: %w", err)
	}
	for source, readings := range series {
		if err := s.readings.Load(source, readings); err != nil {
			s.logger.Warn("Skipping persisted series", zap.String("source", string(source)), zap.Error(err))
			continue
		}
		s.logger.Info("Loaded persisted series",
			zap.String("source", string(source)),
			zap.Int("count", s.readings.Count(source)),
		)
	}

	state, ok, err := s.repo.LoadConnectionState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load connection state: %w", err)
	}
	if ok {
		s.tracker.Update(func(current *models.ConnectionState) {
			interval := current.ReadingIntervalMinutes
			*current = state
			if current.ReadingIntervalMinutes <= 0 {
				current.ReadingIntervalMinutes = interval
			}
		})
	}
	return nil
}

// onTick caches the tick result and warns once when readings turn stale
func (s *GlucoseService) onTick(f models.Freshness) {
	if s.cacheManager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.cacheManager.UpdateFreshnessCache(ctx, f); err != nil {
			s.logger.Warn("Failed to update freshness cache", zap.Error(err))
		}
		cancel()
	}

	if f.Staleness == models.StalenessStale && s.lastStaleness != models.StalenessStale {
		s.logger.Warn("Glucose readings are stale",
			zap.Time("reading_date", f.ReadingDate),
			zap.Int("countdown", f.Countdown),
			zap.String("device_state", string(f.DeviceState)),
		)
	}
	s.lastStaleness = f.Staleness
}
