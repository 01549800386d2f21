// Package api declares HTTP contracts and route registration helpers for
// the ingest, processing and registry endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/okian/autoscale/internal/adapters/repository"
	"github.com/okian/autoscale/internal/domain/model"
)

// Dependencies required by the HTTP handlers. An interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	// IngestEvent validates nothing; it resolves the device, persists the
	// event with derived aggregates and enqueues the processing job.
	IngestEvent(ctx context.Context, deviceID string, t0 *int64, samples []model.Sample) (model.Event, error)

	// ProcessBatch drains up to batch pending jobs and returns the
	// number claimed.
	ProcessBatch(ctx context.Context, batch int) (int, error)

	// RegisterDevice upserts a device row, time-bounded.
	RegisterDevice(ctx context.Context, deviceID, householdID, displayName string) (model.Device, error)

	// EventResult returns an event and its latest result.
	EventResult(ctx context.Context, eventID string) (model.Event, model.Result, error)

	// GetStats returns service statistics for monitoring.
	GetStats() map[string]interface{}
}

// Secrets carries the shared-secret configuration for the two callers.
type Secrets struct {
	// Ingest guards POST /ingest and POST /devices.
	Ingest string
	// Processor guards POST /process and GET /events/{id}/result.
	Processor string
}

// Server wires HTTP routes for the pipeline API.
type Server struct {
	deps    Dependencies
	secrets Secrets

	ingestHandler  *IngestHandler
	processHandler *ProcessHandler
	devicesHandler *DevicesHandler
	resultsHandler *ResultsHandler
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, secrets Secrets) *Server {
	return &Server{
		deps:           deps,
		secrets:        secrets,
		ingestHandler:  NewIngestHandler(deps),
		processHandler: NewProcessHandler(deps),
		devicesHandler: NewDevicesHandler(deps),
		resultsHandler: NewResultsHandler(deps),
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/ingest",
		MetricsMiddleware(RequireSecret(s.secrets.Ingest, s.ingestHandler.HandleIngest), "ingest"))
	mux.HandleFunc("/process",
		MetricsMiddleware(RequireSecret(s.secrets.Processor, s.processHandler.HandleProcess), "process"))
	mux.HandleFunc("/devices",
		MetricsMiddleware(RequireSecret(s.secrets.Ingest, s.devicesHandler.HandleRegister), "devices"))
	mux.HandleFunc("/events/",
		MetricsMiddleware(RequireSecret(s.secrets.Processor, s.resultsHandler.HandleEventResult), "events"))
}

// Handler wraps the mux with permissive CORS so both devices and browser
// origins can reach the API.
func (s *Server) Handler(mux *http.ServeMux) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", secretHeader}),
	)(mux)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError translates service-layer failures to the status
// table: unknown rows map to 404, exceeded deadlines to 504, anything
// else to 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownDevice), errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
