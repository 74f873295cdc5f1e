// Package nightscout pulls glucose entries from a Nightscout site for the remote-sync series.
package nightscout

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/gitter-badger/DiaBLE/common/config"
	"github.com/gitter-badger/DiaBLE/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Entry one Nightscout SGV entry as returned by /api/v1/entries.json
type Entry struct {
	ID         string `json:"_id"`
	Type       string `json:"type"`
	SGV        int    `json:"sgv"`
	Date       int64  `json:"date"` // unix millis
	DateString string `json:"dateString"`
	Device     string `json:"device"`
	Direction  string `json:"direction"`
}

// Time entry timestamp
func (e Entry) Time() time.Time {
	return time.UnixMilli(e.Date).UTC()
}

// Reading converts the entry; the id is minutes since epoch, unique at Nightscout's cadence.
// Entries from different uploaders within the same minute share an id and merge into one reading.
func (e Entry) Reading() models.Reading {
	return models.Reading{
		ID:     int(e.Date / 60000),
		Date:   e.Time(),
		Value:  e.SGV,
		Source: e.Device,
	}
}

// ToReadings keeps sensor glucose entries with a usable value
func ToReadings(entries []Entry) []models.Reading {
	readings := make([]models.Reading, 0, len(entries))
	for _, e := range entries {
		if e.Type != "" && e.Type != "sgv" {
			continue
		}
		if e.SGV <= 0 || e.Date <= 0 {
			continue
		}
		readings = append(readings, e.Reading())
	}
	return readings
}

// Client Nightscout REST client
type Client struct {
	httpClient *resty.Client
	count      int
	logger     *zap.Logger
}

// NewClient creates a client for cfg.BaseURL
func NewClient(cfg *config.NightscoutConfig, logger *zap.Logger) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")

	if cfg.APISecret != "" {
		httpClient.SetHeader("api-secret", HashSecret(cfg.APISecret))
	}
	if cfg.Token != "" {
		httpClient.SetQueryParam("token", cfg.Token)
	}

	count := cfg.Count
	if count <= 0 {
		count = 288
	}

	return &Client{
		httpClient: httpClient,
		count:      count,
		logger:     logger,
	}
}

// HashSecret Nightscout expects the SHA-1 hex digest of API_SECRET
func HashSecret(secret string) string {
	sum := sha1.Sum([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// FetchEntries returns the most recent entries, newest first
func (c *Client) FetchEntries(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("count", strconv.Itoa(c.count)).
		SetResult(&entries).
		Get("/api/v1/entries.json")
	if err != nil {
		c.logger.Error("Nightscout API call failed", zap.Error(err))
		return nil, fmt.Errorf("failed to call Nightscout API: %w", err)
	}

	if resp.IsError() {
		c.logger.Error("Nightscout API returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return nil, fmt.Errorf("Nightscout API error: status %d", resp.StatusCode())
	}

	c.logger.Debug("Fetched Nightscout entries", zap.Int("entry_count", len(entries)))
	return entries, nil
}

// FetchReadings fetches entries and converts them to readings
func (c *Client) FetchReadings(ctx context.Context) ([]models.Reading, error) {
	entries, err := c.FetchEntries(ctx)
	if err != nil {
		return nil, err
	}
	return ToReadings(entries), nil
}
