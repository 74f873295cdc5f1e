// Package freshness turns the connection state into a per-second countdown
// to the next expected reading and a staleness classification.
package freshness

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gitter-badger/DiaBLE/internal/models"

	"go.uber.org/zap"
)

// DefaultReadingInterval minutes between sensor readings when none is configured
const DefaultReadingInterval = 5

// Tracker holds the ConnectionState written by the connection layer and
// computes Freshness from it. It never changes the device state on its own.
type Tracker struct {
	mu     sync.RWMutex
	state  models.ConnectionState
	latest atomic.Pointer[models.Freshness]
	logger *zap.Logger
}

// NewTracker starts with "never" timestamps
func NewTracker(readingIntervalMinutes int, logger *zap.Logger) *Tracker {
	if readingIntervalMinutes <= 0 {
		readingIntervalMinutes = DefaultReadingInterval
	}
	return &Tracker{
		state:  models.ConnectionState{ReadingIntervalMinutes: readingIntervalMinutes},
		logger: logger,
	}
}

// State returns a copy of the current connection state
func (t *Tracker) State() models.ConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Update applies fn to the connection state under the write lock and returns the result
func (t *Tracker) Update(fn func(*models.ConnectionState)) models.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.state.DeviceState
	fn(&t.state)
	if t.state.ReadingIntervalMinutes <= 0 {
		t.state.ReadingIntervalMinutes = DefaultReadingInterval
	}
	if prev != t.state.DeviceState {
		t.logger.Info("Device state changed",
			zap.String("from", string(prev)),
			zap.String("to", string(t.state.DeviceState)),
		)
	}
	return t.state
}

// Tick recomputes freshness for now and publishes it as Latest
func (t *Tracker) Tick(now time.Time) models.Freshness {
	f := Compute(t.State(), now)
	t.latest.Store(&f)
	return f
}

// Latest returns the most recent Tick result
func (t *Tracker) Latest() (models.Freshness, bool) {
	f := t.latest.Load()
	if f == nil {
		return models.Freshness{}, false
	}
	return *f, true
}

// Compute is the pure freshness function behind Tick.
//
// Display precedence: scanning > abnormal device state > countdown.
// Reconnecting is not treated as abnormal: it shows the countdown, even at zero or below.
func Compute(state models.ConnectionState, now time.Time) models.Freshness {
	interval := state.ReadingIntervalMinutes
	if interval <= 0 {
		interval = DefaultReadingInterval
	}

	f := models.Freshness{
		DeviceState: state.DeviceState,
		ReadingDate: now,
		ComputedAt:  now,
	}
	if !state.LastReadingDate.IsZero() {
		f.ReadingDate = state.LastReadingDate
	}

	if state.NeverConnected() {
		f.Countdown = 0
		f.Staleness = models.StalenessUnknown
	} else {
		f.Countdown = interval*60 - int(now.Sub(state.LastConnectionDate)/time.Second)
		f.Staleness = classify(f.Countdown, interval)
	}

	switch {
	case strings.HasPrefix(state.Status, "Scanning") || state.DeviceState == models.DeviceStateScanning:
		f.Display = models.DisplayScanning
		f.Text = "Scanning..."
	case abnormal(state.DeviceState):
		f.Display = models.DisplayDeviceState
		f.Text = string(state.DeviceState)
	default:
		f.Display = models.DisplayCountdown
		if f.Countdown > 0 || state.DeviceState == models.DeviceStateReconnecting {
			f.Text = fmt.Sprintf("%d s", f.Countdown)
		}
	}

	return f
}

func abnormal(s models.DeviceState) bool {
	switch s {
	case models.DeviceStateUnknown, models.DeviceStateConnected, models.DeviceStateReconnecting:
		return false
	}
	return true
}

// classify: fresh while the next reading is not due yet, due for one more interval, then stale
func classify(countdown, intervalMinutes int) models.Staleness {
	switch {
	case countdown > 0:
		return models.StalenessFresh
	case countdown > -intervalMinutes*60:
		return models.StalenessDue
	default:
		return models.StalenessStale
	}
}
