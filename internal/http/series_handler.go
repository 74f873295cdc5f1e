package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gitter-badger/DiaBLE/internal/export"
	"github.com/gitter-badger/DiaBLE/internal/freshness"
	"github.com/gitter-badger/DiaBLE/internal/models"
	"github.com/gitter-badger/DiaBLE/internal/store"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxIngestBody = 1 << 20

// Ingester runs a batch through the full ingest pipeline
type Ingester interface {
	IngestReadings(ctx context.Context, source models.Source, readings []models.Reading) (int, error)
}

// SeriesPanelInfo one entry of the panel listing
type SeriesPanelInfo struct {
	Source models.Source `json:"source"`
	Label  string        `json:"label"`
	Color  string        `json:"color"`
	Count  int           `json:"count"`
}

// SeriesResponse snapshot of one series
type SeriesResponse struct {
	Source   models.Source    `json:"source"`
	Count    int              `json:"count"`
	Readings []models.Reading `json:"readings"`
}

// IngestResponse result of POST /api/v1/series/{source}
type IngestResponse struct {
	Source   models.Source `json:"source"`
	Received int           `json:"received"`
	Changed  int           `json:"changed"`
	Count    int           `json:"count"`
}

// GlucoseHandler read and ingest endpoints over the reading store
type GlucoseHandler struct {
	readings *store.ReadingStore
	tracker  *freshness.Tracker
	ingester Ingester
	logger   *zap.Logger
	now      func() time.Time

	// nil when no broker is configured
	brokerConnected func() bool
}

func NewGlucoseHandler(readings *store.ReadingStore, tracker *freshness.Tracker, ingester Ingester, logger *zap.Logger) *GlucoseHandler {
	return &GlucoseHandler{
		readings: readings,
		tracker:  tracker,
		ingester: ingester,
		logger:   logger,
		now:      time.Now,
	}
}

// SetBrokerStatus makes /health report the sensor broker connection
func (h *GlucoseHandler) SetBrokerStatus(connected func() bool) {
	h.brokerConnected = connected
}

// Health GET /health
func (h *GlucoseHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if h.brokerConnected != nil {
		if h.brokerConnected() {
			body["mqtt"] = "connected"
		} else {
			body["mqtt"] = "disconnected"
		}
	}
	writeJSON(w, http.StatusOK, Ok(body))
}

// ListSeries GET /api/v1/series: only non-empty panels
func (h *GlucoseHandler) ListSeries(w http.ResponseWriter, r *http.Request) {
	panels := make([]SeriesPanelInfo, 0)
	for _, ns := range h.readings.NonEmpty() {
		panels = append(panels, SeriesPanelInfo{
			Source: ns.Source(),
			Label:  ns.Label(),
			Color:  ns.ColorHint(),
			Count:  ns.Count(),
		})
	}
	writeJSON(w, http.StatusOK, Ok(panels))
}

// GetSeries GET /api/v1/series/{source}; unknown or empty series give an empty list
func (h *GlucoseHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	source := models.Source(mux.Vars(r)["source"])
	readings := h.readings.Snapshot(source)
	writeJSON(w, http.StatusOK, Ok(SeriesResponse{
		Source:   source,
		Count:    len(readings),
		Readings: readings,
	}))
}

// IngestSeries POST /api/v1/series/{source}; body is a reading array or {"readings": [...]}
func (h *GlucoseHandler) IngestSeries(w http.ResponseWriter, r *http.Request) {
	source := models.Source(mux.Vars(r)["source"])

	readings, err := readReadings(r, maxIngestBody)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body: "+err.Error()))
		return
	}

	changed, err := h.ingester.IngestReadings(r.Context(), source, readings)
	if err != nil {
		if errors.Is(err, store.ErrInvalidSource) {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
		h.logger.Error("Failed to ingest readings", zap.String("source", string(source)), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to ingest readings"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(IngestResponse{
		Source:   source,
		Received: len(readings),
		Changed:  changed,
		Count:    h.readings.Count(source),
	}))
}

// GetFreshness GET /api/v1/freshness: the latest tick, or a fresh computation before the first tick
func (h *GlucoseHandler) GetFreshness(w http.ResponseWriter, r *http.Request) {
	f, ok := h.tracker.Latest()
	if !ok {
		f = freshness.Compute(h.tracker.State(), h.now())
	}
	writeJSON(w, http.StatusOK, Ok(f))
}

// Export GET /api/v1/export
func (h *GlucoseHandler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := export.Workbook(h.readings.Series(), time.Local)
	if err != nil {
		h.logger.Error("Failed to generate export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=glucose-readings.xlsx")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
