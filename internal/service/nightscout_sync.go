package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gitter-badger/DiaBLE/internal/models"

	"go.uber.org/zap"
)

// startNightscoutSync polls the remote-sync cloud: once on start, then every poll interval
func (s *GlucoseService) startNightscoutSync(ctx context.Context) {
	interval := time.Duration(s.config.Nightscout.PollInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Starting Nightscout sync",
		zap.String("base_url", s.config.Nightscout.BaseURL),
		zap.Duration("interval", interval),
	)

	if err := s.syncNightscout(ctx); err != nil {
		s.logger.Error("Failed to sync Nightscout on startup", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.syncNightscout(ctx); err != nil {
				s.logger.Error("Failed to sync Nightscout", zap.Error(err))
			}
		}
	}
}

// syncNightscout fetches the latest entries and ingests them into remote-sync
func (s *GlucoseService) syncNightscout(ctx context.Context) error {
	readings, err := s.nightscout.FetchReadings(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch entries: %w", err)
	}

	changed, err := s.IngestReadings(ctx, models.SourceRemoteSync, readings)
	if err != nil {
		return err
	}

	s.logger.Debug("Nightscout sync completed",
		zap.Int("fetched", len(readings)),
		zap.Int("changed", changed),
	)
	return nil
}
