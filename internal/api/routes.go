// Package api provides the HTTP API server for the Metaline service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/metaline-io/metaline/internal/api/middleware"
)

const (
	healthCheckTimeout     = 2 * time.Second
	contentTypeProblemJSON = "application/problem+json"
	serviceName            = "metaline"
	serviceVersion         = "v0.1.0" // TODO: inject version at build time once release packaging lands
)

type (
	// Version represents the API version response structure.
	Version struct {
		Version     string `json:"version"`
		ServiceName string `json:"serviceName"`
		BuildInfo   string `json:"buildInfo,omitempty"`
	}

	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// IngestResponse is the batch ingestion response: aggregate counts, the
	// per-event acknowledgements that succeeded, and the events that failed.
	IngestResponse struct {
		Status        string          `json:"status"` // "success", "partial_success", or "error"
		Summary       ResponseSummary `json:"summary"`
		Results       []EventResult   `json:"results"`
		FailedEvents  []FailedEvent   `json:"failedEvents"`
		CorrelationID string          `json:"correlationId"`
		Timestamp     string          `json:"timestamp"`
	}

	// ResponseSummary provides aggregate counts for batch processing.
	ResponseSummary struct {
		Received     int `json:"received"`     // Total events in batch
		Successful   int `json:"successful"`   // Stored + idempotent duplicates
		Failed       int `json:"failed"`       // Events that failed validation or storage
		Retriable    int `json:"retriable"`    // Transient failures (contention, storage faults)
		NonRetriable int `json:"nonRetriable"` // Permanent failures (validation, missing references)
	}

	// EventResult is the acknowledgement for one successfully ingested event.
	EventResult struct {
		Index     int    `json:"index"` // Event index in original batch (0-based)
		Kind      string `json:"kind"`
		VersionID string `json:"versionId,omitempty"` // For dataset/job declarations
		IsNew     bool   `json:"isNew,omitempty"`     // True when a new version was created
		RunID     string `json:"runId,omitempty"`     // For run events
		RunState  string `json:"runState,omitempty"`  // Run state after the event applied
	}

	// FailedEvent describes a single failed event in the batch.
	FailedEvent struct {
		Index     int    `json:"index"`     // Event index in original batch (0-based)
		Reason    string `json:"reason"`    // Human-readable failure reason
		Retriable bool   `json:"retriable"` // True if transient failure (can retry)
	}
)

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Health endpoints
	mux.HandleFunc("GET /ping", s.handlePing)     // K8s liveness probe
	mux.HandleFunc("GET /ready", s.handleReady)   // K8s readiness probe
	mux.HandleFunc("GET /health", s.handleHealth) // Basic health check - status, uptime, version
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("/", s.handleNotFound) // Catch-all handler for 404 responses

	// Ingestion endpoint (single event or batch)
	mux.HandleFunc("POST /api/v1/events", s.handleIngestEvents)

	// Catalog read endpoints
	mux.HandleFunc("GET /api/v1/namespaces/{namespace}", s.handleGetNamespace)
	mux.HandleFunc("GET /api/v1/namespaces/{namespace}/datasets/{name}/versions", s.handleListDatasetVersions)
	mux.HandleFunc("GET /api/v1/namespaces/{namespace}/jobs/{name}/versions", s.handleListJobVersions)
	mux.HandleFunc("GET /api/v1/versions/{versionId}", s.handleGetVersion)
	mux.HandleFunc("GET /api/v1/runs/{runId}", s.handleGetRun)
	mux.HandleFunc("GET /api/v1/tags", s.handleListTags)
	mux.HandleFunc("GET /api/v1/tags/{name}", s.handleGetTag)

	// Lineage traversal endpoints
	mux.HandleFunc("GET /api/v1/lineage/upstream", s.handleUpstream)
	mux.HandleFunc("GET /api/v1/lineage/downstream", s.handleDownstream)
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Error("Failed to write ping response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleReady responds to Kubernetes readiness probes with a storage backend
// health check.
//
// Response codes:
//   - 200 OK: Storage backend is healthy and ready to accept traffic
//   - 503 Service Unavailable: Storage backend is unhealthy or unreachable
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		s.logger.Error("Storage health check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)

		if _, writeErr := w.Write([]byte("storage unavailable")); writeErr != nil {
			s.logger.Error("Failed to write unavailable response",
				slog.String("correlation_id", correlationID),
				slog.String("error", writeErr.Error()),
			)
		}

		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("ready")); err != nil {
		s.logger.Error("Failed to write ready response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleHealth returns detailed health status information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string

	if !s.startTime.IsZero() {
		duration := time.Since(s.startTime)
		uptime = duration.Round(time.Second).String()
	}

	health := HealthStatus{
		Status:      "healthy",
		ServiceName: serviceName,
		Version:     serviceVersion,
		Uptime:      uptime,
	}

	s.writeJSON(w, r, http.StatusOK, health)
}

// handleVersion returns the service version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, Version{
		Version:     serviceVersion,
		ServiceName: serviceName,
	})
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// writeJSON marshals and writes a JSON response. Marshal failures produce a
// 500 problem response before any headers are sent.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, payload any) {
	correlationID := middleware.GetCorrelationID(r.Context())

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
