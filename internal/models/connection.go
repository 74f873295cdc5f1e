package models

import "time"

// DeviceState connectivity phase reported by the acquisition layer.
// The values are the strings the device layer publishes.
type DeviceState string

const (
	DeviceStateUnknown      DeviceState = ""
	DeviceStateDisconnected DeviceState = "Disconnected"
	DeviceStateScanning     DeviceState = "Scanning..."
	DeviceStateConnecting   DeviceState = "Connecting..."
	DeviceStateConnected    DeviceState = "Connected"
	DeviceStateReconnecting DeviceState = "Reconnecting..."
)

// ConnectionState last known connection facts; zero times mean "never"
type ConnectionState struct {
	LastReadingDate        time.Time   `json:"last_reading_date"`
	LastConnectionDate     time.Time   `json:"last_connection_date"`
	DeviceState            DeviceState `json:"device_state"`
	Status                 string      `json:"status"`
	ReadingIntervalMinutes int         `json:"reading_interval_minutes"`
}

// NeverConnected reports whether no connection has happened yet
func (c ConnectionState) NeverConnected() bool {
	return c.LastConnectionDate.IsZero()
}

// Display tells the presentation layer which freshness text to show
type Display string

const (
	DisplayScanning    Display = "scanning"
	DisplayDeviceState Display = "device_state"
	DisplayCountdown   Display = "countdown"
)

// Staleness freshness classification of the latest reading
type Staleness string

const (
	StalenessUnknown Staleness = "unknown"
	StalenessFresh   Staleness = "fresh"
	StalenessDue     Staleness = "due"
	StalenessStale   Staleness = "stale"
)

// Freshness result of one tick
type Freshness struct {
	Countdown   int         `json:"countdown"`
	Display     Display     `json:"display"`
	Text        string      `json:"text"`
	Staleness   Staleness   `json:"staleness"`
	DeviceState DeviceState `json:"device_state"`
	ReadingDate time.Time   `json:"reading_date"`
	ComputedAt  time.Time   `json:"computed_at"`
}
