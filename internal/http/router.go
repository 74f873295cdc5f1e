package httpapi

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// NewRouter registers the glucose routes and wraps them with request logging and panic recovery
func NewRouter(h *GlucoseHandler, logger *zap.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/series", h.ListSeries).Methods(http.MethodGet)
	api.HandleFunc("/series/{source}", h.GetSeries).Methods(http.MethodGet)
	api.HandleFunc("/series/{source}", h.IngestSeries).Methods(http.MethodPost)
	api.HandleFunc("/freshness", h.GetFreshness).Methods(http.MethodGet)
	api.HandleFunc("/export", h.Export).Methods(http.MethodGet)

	accessLog := zap.NewStdLog(logger.Named("http")).Writer()
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(logger)),
		handlers.PrintRecoveryStack(false),
	)(handlers.CombinedLoggingHandler(accessLog, r))
}
