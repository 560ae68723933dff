// Package api provides the HTTP control surface for the engine.
//
// # Endpoints
//
// State:
//   - GET  /api/v1/state - Full engine snapshot
//   - GET  /api/v1/components - Component roster with health scores
//   - GET  /api/v1/issues - Open issues
//   - GET  /api/v1/alerts - Alerts derived from the roster
//   - GET  /api/v1/actions - Preventive actions
//   - GET  /api/v1/prediction - Latest forecast
//   - GET  /api/v1/repairs - Repair log (?limit=N, ?source=store)
//   - GET  /api/v1/stream - Websocket snapshot stream
//
// Control:
//   - PUT  /api/v1/monitoring - Start or stop both loops
//   - PUT  /api/v1/auto-repair - Toggle autonomous repair
//   - PUT  /api/v1/auto-prevent - Toggle autonomous preventive actions
//   - POST /api/v1/diagnosis - Run a diagnosis cycle now
//   - POST /api/v1/prediction - Run a prediction cycle now
//   - POST /api/v1/actions/{id}/execute - Execute an action or repair an issue
//   - POST /api/v1/issues/{id}/repair - Repair an issue
//
// Health:
//   - GET /api/v1/health - Health check
//   - GET /api/v1/infrastructure/health - Process, engine, database and cache health
//   - GET /metrics - Prometheus exposition
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pilot-net/selfheal/control-plane/internal/engine"
	"github.com/pilot-net/selfheal/control-plane/internal/metrics"
	"github.com/pilot-net/selfheal/control-plane/internal/oracle"
	"github.com/pilot-net/selfheal/control-plane/internal/scheduler"
	"github.com/pilot-net/selfheal/pkg/types"
)

// RepairHistory is the durable repair log.
type RepairHistory interface {
	ListRepairs(ctx context.Context, limit int) ([]types.RepairLogEntry, error)
}

// Options are the optional collaborators of a Server.
type Options struct {
	Collector *metrics.Collector
	History   RepairHistory // nil when no database is configured
	Stream    http.Handler
	Metrics   http.Handler
}

// Server is the HTTP API server.
type Server struct {
	engine           *engine.Engine
	metricsCollector *metrics.Collector
	history          RepairHistory
	stream           http.Handler
	metrics          http.Handler
	logger           *slog.Logger
	mux              *http.ServeMux
	handler          http.Handler
}

// NewServer creates a new API server.
func NewServer(eng *engine.Engine, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		engine:           eng,
		metricsCollector: opts.Collector,
		history:          opts.History,
		stream:           opts.Stream,
		metrics:          opts.Metrics,
		logger:           logger.With("component", "api"),
		mux:              http.NewServeMux(),
	}
	s.registerRoutes()
	s.handler = chain(s.mux, s.recoverMiddleware, s.corsMiddleware, s.logMiddleware)
	return s
}

// Mux returns the underlying ServeMux for registering additional routes.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	// Health
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/infrastructure/health", s.handleInfrastructureHealth)

	// State
	s.mux.HandleFunc("GET /api/v1/state", s.handleState)
	s.mux.HandleFunc("GET /api/v1/components", s.handleComponents)
	s.mux.HandleFunc("GET /api/v1/issues", s.handleIssues)
	s.mux.HandleFunc("GET /api/v1/alerts", s.handleAlerts)
	s.mux.HandleFunc("GET /api/v1/actions", s.handleActions)
	s.mux.HandleFunc("GET /api/v1/prediction", s.handlePrediction)
	s.mux.HandleFunc("GET /api/v1/repairs", s.handleRepairs)

	// Control
	s.mux.HandleFunc("PUT /api/v1/monitoring", s.handleToggle(s.engine.SetMonitoring))
	s.mux.HandleFunc("PUT /api/v1/auto-repair", s.handleToggle(s.engine.SetAutoRepair))
	s.mux.HandleFunc("PUT /api/v1/auto-prevent", s.handleToggle(s.engine.SetAutoPrevent))
	s.mux.HandleFunc("POST /api/v1/diagnosis", s.handleRunCycle(s.engine.RunDiagnosisNow))
	s.mux.HandleFunc("POST /api/v1/prediction", s.handleRunCycle(s.engine.RunPredictionNow))
	s.mux.HandleFunc("POST /api/v1/actions/{id}/execute", s.handleExecute(s.engine.ExecuteAction))
	s.mux.HandleFunc("POST /api/v1/issues/{id}/repair", s.handleExecute(s.engine.RepairIssue))

	// Stream
	if s.stream != nil {
		s.mux.Handle("GET /api/v1/stream", s.stream)
	}

	// Metrics
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// =============================================================================
// HEALTH
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleInfrastructureHealth(w http.ResponseWriter, r *http.Request) {
	if s.metricsCollector == nil {
		s.writeError(w, http.StatusServiceUnavailable, "metrics collector not initialized")
		return
	}
	s.writeJSON(w, http.StatusOK, s.metricsCollector.GetInfrastructureHealth(r.Context()))
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeEngineError maps engine errors to HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "status", status, "error", err)
	}
	s.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrRepairInFlight),
		errors.Is(err, engine.ErrNotExecutable),
		errors.Is(err, scheduler.ErrStale),
		errors.Is(err, scheduler.ErrStopped):
		return http.StatusConflict
	case errors.Is(err, oracle.ErrUnavailable),
		errors.Is(err, oracle.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrShuttingDown),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
