package store

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gitter-badger/DiaBLE/internal/models"
)

// Order sort direction of a series
type Order int

const (
	// Descending most recent first, for display series
	Descending Order = iota
	// Ascending oldest first, for series replayed chronologically into external stores
	Ascending
)

// SeriesSpec static description of one series
type SeriesSpec struct {
	Source models.Source
	Label  string
	Color  string
	Cap    int
	Order  Order
}

// DefaultSpecs registry of the eight series in display order.
// Trend caps cover the sensor's 16 one-minute trend slots, history caps its
// 32 quarter-hour slots (8 hours); the external stores keep a day at 5-minute cadence.
var DefaultSpecs = []SeriesSpec{
	{Source: models.SourceTrend, Label: "Trend", Color: "orange", Cap: 16, Order: Descending},
	{Source: models.SourceRawTrend, Label: "Raw trend", Color: "yellow", Cap: 16, Order: Descending},
	{Source: models.SourceHealthStore, Label: "Health store", Color: "red", Cap: 288, Order: Ascending},
	{Source: models.SourceRemoteSync, Label: "Nightscout", Color: "cyan", Cap: 288, Order: Ascending},
	{Source: models.SourceCalibratedHistory, Label: "Calibrated history", Color: "purple", Cap: 32, Order: Descending},
	{Source: models.SourceCalibratedTrend, Label: "Calibrated trend", Color: "purple", Cap: 16, Order: Descending},
	{Source: models.SourceHistory, Label: "History", Color: "orange", Cap: 32, Order: Descending},
	{Source: models.SourceRawHistory, Label: "Raw history", Color: "yellow", Cap: 32, Order: Descending},
}

// SpecsWithCaps returns a copy of DefaultSpecs with positive caps overridden
func SpecsWithCaps(caps map[models.Source]int) []SeriesSpec {
	specs := make([]SeriesSpec, len(DefaultSpecs))
	copy(specs, DefaultSpecs)
	for i := range specs {
		if c, ok := caps[specs[i].Source]; ok && c > 0 {
			specs[i].Cap = c
		}
	}
	return specs
}

// NamedSeries read-only view of one series, enough to render a panel
type NamedSeries interface {
	Source() models.Source
	Label() string
	ColorHint() string
	Count() int
	Snapshot() []models.Reading
}

// series one ordered, capped sequence of readings.
// Writers serialise on mu; readers only load the published slice, which is never mutated.
type series struct {
	spec       SeriesSpec
	mu         sync.Mutex
	readings   atomic.Pointer[[]models.Reading]
	lastIngest atomic.Int64 // unix nanos, 0 = never
}

func newSeries(spec SeriesSpec) *series {
	s := &series{spec: spec}
	empty := []models.Reading{}
	s.readings.Store(&empty)
	return s
}

func (s *series) Source() models.Source { return s.spec.Source }
func (s *series) Label() string         { return s.spec.Label }
func (s *series) ColorHint() string     { return s.spec.Color }

func (s *series) Count() int {
	return len(*s.readings.Load())
}

func (s *series) Snapshot() []models.Reading {
	current := *s.readings.Load()
	out := make([]models.Reading, len(current))
	copy(out, current)
	return out
}

func (s *series) lastIngestTime() (time.Time, bool) {
	n := s.lastIngest.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

// merge folds incoming into the series and publishes the result.
// Returns how many readings were added or replaced.
func (s *series) merge(incoming []models.Reading) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := *s.readings.Load()
	merged := make([]models.Reading, len(current), len(current)+len(incoming))
	copy(merged, current)

	index := make(map[int]int, len(merged))
	for i, r := range merged {
		index[r.ID] = i
	}

	changed := 0
	for _, in := range incoming {
		if i, ok := index[in.ID]; ok {
			if replaces(merged[i], in) {
				merged[i] = in
				changed++
			}
			continue
		}
		index[in.ID] = len(merged)
		merged = append(merged, in)
		changed++
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Date.Equal(merged[j].Date) {
			return merged[i].ID > merged[j].ID
		}
		return merged[i].Date.After(merged[j].Date)
	})
	if s.spec.Cap > 0 && len(merged) > s.spec.Cap {
		merged = merged[:s.spec.Cap]
	}
	if s.spec.Order == Ascending {
		reverse(merged)
	}

	s.readings.Store(&merged)
	return changed
}

// replaces decides whether incoming overwrites existing for the same id.
// Filled data beats a placeholder in both directions; otherwise the newer date wins,
// the incoming reading winning ties.
func replaces(existing, incoming models.Reading) bool {
	if existing.IsPending() != incoming.IsPending() {
		return existing.IsPending()
	}
	if incoming.Date.Before(existing.Date) {
		return false
	}
	return !sameReading(existing, incoming)
}

func sameReading(a, b models.Reading) bool {
	return a.ID == b.ID && a.Value == b.Value && a.Source == b.Source && a.Date.Equal(b.Date)
}

func reverse(rs []models.Reading) {
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
}
