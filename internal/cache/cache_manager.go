package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gitter-badger/DiaBLE/internal/models"
	"github.com/gitter-badger/DiaBLE/internal/store"

	"go.uber.org/zap"
)

// SeriesPanel cached form of one series, what a display needs to render a panel
type SeriesPanel struct {
	Source    models.Source    `json:"source"`
	Label     string           `json:"label"`
	Color     string           `json:"color"`
	Count     int              `json:"count"`
	Readings  []models.Reading `json:"readings"`
	UpdatedAt int64            `json:"updated_at"`
}

// CacheManager writes series and freshness snapshots for out-of-process readers.
//
// Keys:
//   - {prefix}series:{source}
//   - {prefix}freshness
type CacheManager struct {
	kv     KVStore
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewCacheManager creates a cache manager; ttl 0 means no expiry
func NewCacheManager(kv KVStore, prefix string, ttl time.Duration, logger *zap.Logger) *CacheManager {
	return &CacheManager{
		kv:     kv,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *CacheManager) seriesKey(source models.Source) string {
	return fmt.Sprintf("%sseries:%s", c.prefix, source)
}

func (c *CacheManager) freshnessKey() string {
	return c.prefix + "freshness"
}

// UpdateSeriesCache stores the current snapshot of one series
func (c *CacheManager) UpdateSeriesCache(ctx context.Context, ns store.NamedSeries) error {
	readings := ns.Snapshot()
	panel := SeriesPanel{
		Source:    ns.Source(),
		Label:     ns.Label(),
		Color:     ns.ColorHint(),
		Count:     len(readings),
		Readings:  readings,
		UpdatedAt: time.Now().Unix(),
	}

	jsonData, err := json.Marshal(panel)
	if err != nil {
		return fmt.Errorf("failed to marshal series: %w", err)
	}

	key := c.seriesKey(ns.Source())
	if err := c.kv.Set(ctx, key, string(jsonData), c.ttl); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	c.logger.Debug("Updated series cache",
		zap.String("source", string(ns.Source())),
		zap.String("key", key),
		zap.Int("count", panel.Count),
	)
	return nil
}

// GetSeriesCache reads a cached series; ErrCacheMiss when absent
func (c *CacheManager) GetSeriesCache(ctx context.Context, source models.Source) (*SeriesPanel, error) {
	val, err := c.kv.Get(ctx, c.seriesKey(source))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get series cache: %w", err)
	}

	var panel SeriesPanel
	if err := json.Unmarshal([]byte(val), &panel); err != nil {
		return nil, fmt.Errorf("failed to unmarshal series cache: %w", err)
	}
	return &panel, nil
}

// UpdateFreshnessCache stores the latest tick result
func (c *CacheManager) UpdateFreshnessCache(ctx context.Context, f models.Freshness) error {
	jsonData, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal freshness: %w", err)
	}
	if err := c.kv.Set(ctx, c.freshnessKey(), string(jsonData), c.ttl); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// GetFreshnessCache reads the cached tick result; ErrCacheMiss when absent
func (c *CacheManager) GetFreshnessCache(ctx context.Context) (*models.Freshness, error) {
	val, err := c.kv.Get(ctx, c.freshnessKey())
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get freshness cache: %w", err)
	}

	var f models.Freshness
	if err := json.Unmarshal([]byte(val), &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal freshness cache: %w", err)
	}
	return &f, nil
}
