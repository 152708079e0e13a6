package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/metaline-io/metaline/internal/api/middleware"
	"github.com/metaline-io/metaline/internal/ingest"
)

// handleIngestEvents processes declaration events submitted over HTTP.
//
// The endpoint accepts either a single event envelope or a JSON array of
// envelopes. Events in a batch are processed in order; a failed event never
// aborts the rest of the batch.
//
// Request validation (returns 4xx):
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: Request body exceeds MaxRequestSize
//   - 400 Bad Request: Empty body, invalid JSON, or empty event array
//
// Success responses:
//   - 200 OK: All events applied (idempotent duplicates count as success)
//   - 207 Multi-Status: Partial success (some applied, some failed)
//   - 422 Unprocessable Entity: All events failed
func (s *Server) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	// Content-Type validation
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	envelopes, problem := s.parseIngestRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	response := s.applyEvents(r, correlationID, envelopes)

	statusCode := s.sendIngestResponse(w, r, response)

	duration := time.Since(startTime)
	s.logger.Info("Declaration events processed",
		slog.String("correlation_id", correlationID),
		slog.String("status", response.Status),
		slog.Int("received", response.Summary.Received),
		slog.Int("successful", response.Summary.Successful),
		slog.Int("failed", response.Summary.Failed),
		slog.Int("retriable", response.Summary.Retriable),
		slog.Int("non_retriable", response.Summary.NonRetriable),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", duration),
	)
}

// parseIngestRequest parses the HTTP request body into event envelopes.
// A single envelope object is treated as a batch of one.
//
// Validates:
//   - Request size (fail fast for known oversized requests)
//   - Empty body check (better UX than JSON decode error)
//   - JSON parsing
//   - Empty array check
func (s *Server) parseIngestRequest(r *http.Request) ([]ingest.EventEnvelope, *ProblemDetail) {
	// Allow unknown sizes (-1) or 0 (empty, caught later)
	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		return nil, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	if r.ContentLength == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err != nil {
		return nil, BadRequest("Failed to read request body: " + err.Error())
	}

	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	var envelopes []ingest.EventEnvelope

	if trimmed[0] == '[' {
		if err := json.Unmarshal(body, &envelopes); err != nil {
			return nil, BadRequest("Invalid JSON: " + err.Error())
		}
	} else {
		var single ingest.EventEnvelope
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, BadRequest("Invalid JSON: " + err.Error())
		}

		envelopes = []ingest.EventEnvelope{single}
	}

	if len(envelopes) == 0 {
		return nil, BadRequest("Event array cannot be empty")
	}

	return envelopes, nil
}

// applyEvents decodes and ingests each envelope in order, accumulating
// per-event results and aggregate counts.
func (s *Server) applyEvents(r *http.Request, correlationID string, envelopes []ingest.EventEnvelope) *IngestResponse {
	results := make([]EventResult, 0, len(envelopes))
	failedEvents := make([]FailedEvent, 0)
	successful, failed, retriable, nonRetriable := 0, 0, 0, 0

	for i := range envelopes {
		event, err := envelopes[i].ToEvent()
		if err == nil {
			acked, ingestErr := s.ingester.Ingest(r.Context(), event)
			if ingestErr == nil {
				results = append(results, EventResult{
					Index:     i,
					Kind:      string(acked.EventKind),
					VersionID: acked.VersionID,
					IsNew:     acked.IsNew,
					RunID:     acked.RunID,
					RunState:  string(acked.RunState),
				})
				successful++

				continue
			}

			err = ingestErr
		}

		canRetry := IsRetriable(err)
		failedEvents = append(failedEvents, FailedEvent{
			Index:     i,
			Reason:    err.Error(),
			Retriable: canRetry,
		})
		failed++

		if canRetry {
			retriable++
		} else {
			nonRetriable++
		}

		s.logger.Warn("Event ingestion failed",
			slog.String("correlation_id", correlationID),
			slog.Int("event_index", i),
			slog.String("reason", err.Error()),
			slog.Bool("retriable", canRetry),
		)
	}

	status := "success"
	if failed > 0 && successful == 0 {
		status = "error"
	}

	return &IngestResponse{
		Status: status,
		Summary: ResponseSummary{
			Received:     len(envelopes),
			Successful:   successful,
			Failed:       failed,
			Retriable:    retriable,
			NonRetriable: nonRetriable,
		},
		Results:       results,
		FailedEvents:  failedEvents,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

// determineStatusCode determines the HTTP status code for a batch response.
//
// Status code logic:
//   - 200 OK: All events succeeded
//   - 207 Multi-Status: Partial success (some succeeded, some failed)
//   - 422 Unprocessable Entity: All events failed
func determineStatusCode(response *IngestResponse) int {
	if response.Summary.Failed == 0 {
		return http.StatusOK
	} else if response.Summary.Successful > 0 {
		response.Status = "partial_success"

		return http.StatusMultiStatus
	}

	return http.StatusUnprocessableEntity
}

// sendIngestResponse marshals and sends the ingest response to the client.
// Returns the HTTP status code for logging purposes.
func (s *Server) sendIngestResponse(w http.ResponseWriter, r *http.Request, response *IngestResponse) int {
	statusCode := determineStatusCode(response)

	// Marshal response (fail fast before headers)
	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal ingest response",
			slog.String("correlation_id", response.CorrelationID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write ingest response",
			slog.String("correlation_id", response.CorrelationID),
			slog.String("error", err.Error()),
		)
	}

	return statusCode
}
