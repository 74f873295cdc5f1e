package models

import (
	"fmt"
	"strings"
	"time"
)

// PendingValue marks a reading whose computed value has not arrived yet
const PendingValue = -1

// Reading one glucose measurement
type Reading struct {
	ID     int       `json:"id"`
	Date   time.Time `json:"date"`
	Value  int       `json:"value"`
	Source string    `json:"source"`
}

// IsPending reports whether the value is still the placeholder
func (r Reading) IsPending() bool {
	return r.Value == PendingValue
}

// DisplayValue renders the value right-aligned in three columns, or an ellipsis while pending
func (r Reading) DisplayValue() string {
	if r.Value > PendingValue {
		return fmt.Sprintf("%3d", r.Value)
	}
	return "…"
}

// ShortSource trims the source label at its last space ("xDrip 1.2.3" -> "xDrip")
func (r Reading) ShortSource() string {
	if i := strings.LastIndex(r.Source, " "); i >= 0 {
		return r.Source[:i]
	}
	return r.Source
}

// Source names one of the reading series
type Source string

const (
	SourceTrend             Source = "trend"
	SourceHistory           Source = "history"
	SourceCalibratedTrend   Source = "calibrated-trend"
	SourceCalibratedHistory Source = "calibrated-history"
	SourceRawTrend          Source = "raw-trend"
	SourceRawHistory        Source = "raw-history"
	SourceHealthStore       Source = "health-store"
	SourceRemoteSync        Source = "remote-sync"
)

// AllSources lists every recognised series in display order
var AllSources = []Source{
	SourceTrend,
	SourceRawTrend,
	SourceHealthStore,
	SourceRemoteSync,
	SourceCalibratedHistory,
	SourceCalibratedTrend,
	SourceHistory,
	SourceRawHistory,
}

// Valid reports whether s is one of the eight series names
func (s Source) Valid() bool {
	for _, known := range AllSources {
		if s == known {
			return true
		}
	}
	return false
}
