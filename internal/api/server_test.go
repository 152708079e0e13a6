package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metaline-io/metaline/internal/ingest"
	"github.com/metaline-io/metaline/internal/storage"
	"github.com/metaline-io/metaline/internal/taxonomy"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()

	registry, err := taxonomy.NewRegistry([]taxonomy.Tag{
		{Name: "PII", Description: "Personally identifiable information"},
		{Name: "SENSITIVE", Description: "Restricted access"},
	})
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ingester := ingest.NewIngester(store, store, registry, logger)

	cfg := &ServerConfig{
		Port:            8080,
		Host:            "127.0.0.1",
		ReadTimeout:     defaultTimeout,
		WriteTimeout:    defaultTimeout,
		ShutdownTimeout: defaultTimeout,
		LogLevel:        slog.LevelError,
		MaxRequestSize:  defaultMaxRequestSize,
	}

	server := NewServer(cfg, ingester, store, registry, nil)
	server.logger = logger

	return server, server.httpServer.Handler
}

func doRequest(handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	return recorder
}

func decodeIngestResponse(t *testing.T, recorder *httptest.ResponseRecorder) IngestResponse {
	t.Helper()

	var response IngestResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))

	return response
}

// declarationBatch is a full pipeline declaration: a namespace, a source, two
// datasets, and the job reading one and writing the other.
const declarationBatch = `[
	{"kind": "NAMESPACE_DECLARED", "namespace": {"name": "orders", "owner": "data-eng"}},
	{"kind": "SOURCE_DECLARED", "source": {"name": "warehouse", "type": "POSTGRESQL"}},
	{"kind": "DATASET_DECLARED", "dataset": {
		"namespace": "orders", "name": "raw_orders", "physicalName": "public.raw_orders",
		"source": "warehouse", "tags": ["PII"],
		"fields": [{"name": "order_id", "type": "BIGINT"}]
	}},
	{"kind": "DATASET_DECLARED", "dataset": {
		"namespace": "orders", "name": "clean_orders", "physicalName": "public.clean_orders",
		"source": "warehouse",
		"fields": [{"name": "order_id", "type": "BIGINT"}]
	}},
	{"kind": "JOB_DECLARED", "job": {
		"namespace": "orders", "name": "load_orders", "type": "BATCH",
		"location": "git://jobs/load_orders.py",
		"inputs": [{"namespace": "orders", "name": "raw_orders"}],
		"outputs": [{"namespace": "orders", "name": "clean_orders"}]
	}}
]`

func TestHealthEndpoints(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, handler := newTestServer(t)

	t.Run("ping", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/ping", "")

		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, "pong", recorder.Body.String())
		assert.NotEmpty(t, recorder.Header().Get("X-Correlation-ID"))
	})

	t.Run("ready", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/ready", "")

		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, "ready", recorder.Body.String())
	})

	t.Run("health", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/health", "")

		require.Equal(t, http.StatusOK, recorder.Code)

		var health HealthStatus
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &health))
		assert.Equal(t, "healthy", health.Status)
		assert.Equal(t, serviceName, health.ServiceName)
	})

	t.Run("version", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/version", "")

		require.Equal(t, http.StatusOK, recorder.Code)

		var version Version
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &version))
		assert.Equal(t, serviceVersion, version.Version)
	})

	t.Run("unknown path returns problem detail", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/nope", "")

		assert.Equal(t, http.StatusNotFound, recorder.Code)
		assert.Equal(t, contentTypeProblemJSON, recorder.Header().Get("Content-Type"))
	})
}

func TestIngestEventsRequestValidation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, handler := newTestServer(t)

	t.Run("missing content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader("{}"))
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)

		assert.Equal(t, http.StatusUnsupportedMediaType, recorder.Code)
	})

	t.Run("empty body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events", nil)
		req.Header.Set("Content-Type", "application/json")
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodPost, "/api/v1/events", "{not json")

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("empty array", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodPost, "/api/v1/events", "[]")

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})
}

func TestIngestEventsBatch(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("full declaration batch succeeds", func(t *testing.T) {
		_, handler := newTestServer(t)

		recorder := doRequest(handler, http.MethodPost, "/api/v1/events", declarationBatch)

		require.Equal(t, http.StatusOK, recorder.Code)

		response := decodeIngestResponse(t, recorder)
		assert.Equal(t, "success", response.Status)
		assert.Equal(t, 5, response.Summary.Received)
		assert.Equal(t, 5, response.Summary.Successful)
		assert.Empty(t, response.FailedEvents)
		require.Len(t, response.Results, 5)

		// Dataset and job declarations carry the resolved version id
		assert.NotEmpty(t, response.Results[2].VersionID)
		assert.True(t, response.Results[2].IsNew)
		assert.NotEmpty(t, response.Results[4].VersionID)
	})

	t.Run("single event object is a batch of one", func(t *testing.T) {
		_, handler := newTestServer(t)

		body := `{"kind": "NAMESPACE_DECLARED", "namespace": {"name": "solo"}}`
		recorder := doRequest(handler, http.MethodPost, "/api/v1/events", body)

		require.Equal(t, http.StatusOK, recorder.Code)

		response := decodeIngestResponse(t, recorder)
		assert.Equal(t, 1, response.Summary.Received)
		assert.Equal(t, 1, response.Summary.Successful)
	})

	t.Run("idempotent re-declaration still succeeds", func(t *testing.T) {
		_, handler := newTestServer(t)

		first := decodeIngestResponse(t, doRequest(handler, http.MethodPost, "/api/v1/events", declarationBatch))
		second := decodeIngestResponse(t, doRequest(handler, http.MethodPost, "/api/v1/events", declarationBatch))

		assert.Equal(t, "success", second.Status)
		assert.Equal(t, first.Results[2].VersionID, second.Results[2].VersionID)
		assert.True(t, first.Results[2].IsNew)
		assert.False(t, second.Results[2].IsNew)
	})

	t.Run("partial failure returns 207", func(t *testing.T) {
		_, handler := newTestServer(t)

		body := `[
			{"kind": "NAMESPACE_DECLARED", "namespace": {"name": "orders"}},
			{"kind": "DATASET_DECLARED", "dataset": {
				"namespace": "orders", "name": "raw_orders", "physicalName": "public.raw_orders",
				"source": "unknown_source"
			}}
		]`
		recorder := doRequest(handler, http.MethodPost, "/api/v1/events", body)

		require.Equal(t, http.StatusMultiStatus, recorder.Code)

		response := decodeIngestResponse(t, recorder)
		assert.Equal(t, "partial_success", response.Status)
		assert.Equal(t, 1, response.Summary.Successful)
		assert.Equal(t, 1, response.Summary.Failed)
		require.Len(t, response.FailedEvents, 1)
		assert.Equal(t, 1, response.FailedEvents[0].Index)
		assert.False(t, response.FailedEvents[0].Retriable)
	})

	t.Run("all failed returns 422", func(t *testing.T) {
		_, handler := newTestServer(t)

		body := `[{"kind": "BOGUS_KIND"}]`
		recorder := doRequest(handler, http.MethodPost, "/api/v1/events", body)

		require.Equal(t, http.StatusUnprocessableEntity, recorder.Code)

		response := decodeIngestResponse(t, recorder)
		assert.Equal(t, "error", response.Status)
		assert.Equal(t, 1, response.Summary.NonRetriable)
	})

	t.Run("unknown tag is rejected", func(t *testing.T) {
		_, handler := newTestServer(t)

		body := `[
			{"kind": "NAMESPACE_DECLARED", "namespace": {"name": "orders"}},
			{"kind": "SOURCE_DECLARED", "source": {"name": "warehouse", "type": "POSTGRESQL"}},
			{"kind": "DATASET_DECLARED", "dataset": {
				"namespace": "orders", "name": "raw_orders", "physicalName": "public.raw_orders",
				"source": "warehouse", "tags": ["NOT_IN_TAXONOMY"]
			}}
		]`
		recorder := doRequest(handler, http.MethodPost, "/api/v1/events", body)

		require.Equal(t, http.StatusMultiStatus, recorder.Code)

		response := decodeIngestResponse(t, recorder)
		require.Len(t, response.FailedEvents, 1)
		assert.Contains(t, response.FailedEvents[0].Reason, "unknown tag")
	})
}

func TestCatalogReadEndpoints(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, handler := newTestServer(t)

	declared := decodeIngestResponse(t, doRequest(handler, http.MethodPost, "/api/v1/events", declarationBatch))
	require.Equal(t, "success", declared.Status)

	rawVersion := declared.Results[2].VersionID

	t.Run("get namespace", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/api/v1/namespaces/orders", "")

		require.Equal(t, http.StatusOK, recorder.Code)

		var ns NamespaceResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &ns))
		assert.Equal(t, "orders", ns.Name)
		assert.Equal(t, "data-eng", ns.Owner)
	})

	t.Run("unknown namespace returns 404", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/api/v1/namespaces/missing", "")

		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})

	t.Run("dataset version history", func(t *testing.T) {
		// Redeclare with changed content to grow the chain
		body := `{"kind": "DATASET_DECLARED", "dataset": {
			"namespace": "orders", "name": "raw_orders", "physicalName": "public.raw_orders_v2",
			"source": "warehouse", "tags": ["PII"],
			"fields": [{"name": "order_id", "type": "BIGINT"}]
		}}`
		redeclared := decodeIngestResponse(t, doRequest(handler, http.MethodPost, "/api/v1/events", body))
		require.True(t, redeclared.Results[0].IsNew)

		recorder := doRequest(handler, http.MethodGet, "/api/v1/namespaces/orders/datasets/raw_orders/versions", "")
		require.Equal(t, http.StatusOK, recorder.Code)

		var list VersionListResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &list))
		require.Len(t, list.Versions, 2)
		assert.Equal(t, rawVersion, list.Versions[0].ID)
		assert.Equal(t, redeclared.Results[0].VersionID, list.Head)
		assert.Equal(t, rawVersion, list.Versions[1].Previous)
	})

	t.Run("job version history", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/api/v1/namespaces/orders/jobs/load_orders/versions", "")
		require.Equal(t, http.StatusOK, recorder.Code)

		var list VersionListResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &list))
		require.Len(t, list.Versions, 1)
		require.NotNil(t, list.Versions[0].Job)
		assert.Equal(t, "BATCH", list.Versions[0].Job.Type)
	})

	t.Run("version history for undeclared identity returns 404", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/api/v1/namespaces/orders/datasets/missing/versions", "")

		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})

	t.Run("get version by id", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/api/v1/versions/"+rawVersion, "")

		require.Equal(t, http.StatusOK, recorder.Code)

		var version VersionResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &version))
		assert.Equal(t, "raw_orders", version.Name)
		require.NotNil(t, version.Dataset)
		assert.Equal(t, "warehouse", version.Dataset.Source)
	})

	t.Run("unknown version id returns 404", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/api/v1/versions/does-not-exist", "")

		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})

	t.Run("unknown run returns 404", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/api/v1/runs/no-such-run", "")

		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})

	t.Run("list tags", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/api/v1/tags", "")

		require.Equal(t, http.StatusOK, recorder.Code)

		var tags TagListResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &tags))
		require.Len(t, tags.Tags, 2)
		assert.Equal(t, "PII", tags.Tags[0].Name)
	})

	t.Run("get tag by name", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/api/v1/tags/PII", "")

		require.Equal(t, http.StatusOK, recorder.Code)

		var tag TagResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &tag))
		assert.Equal(t, "PII", tag.Name)
		assert.Equal(t, "Personally identifiable information", tag.Description)
	})

	t.Run("unknown tag returns 404", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/api/v1/tags/NOT_IN_TAXONOMY", "")

		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})
}

func TestLineageEndpoints(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, handler := newTestServer(t)

	declared := decodeIngestResponse(t, doRequest(handler, http.MethodPost, "/api/v1/events", declarationBatch))
	require.Equal(t, "success", declared.Status)

	rawVersion := declared.Results[2].VersionID
	cleanVersion := declared.Results[3].VersionID
	jobVersion := declared.Results[4].VersionID

	eventTime := time.Now().UTC().Format(time.RFC3339)

	runState := fmt.Sprintf(`{"kind": "RUN_STATE_CHANGED", "runState": {
		"runId": "run-1", "jobVersion": %q, "state": "RUNNING", "eventTime": %q
	}}`, jobVersion, eventTime)
	stateResponse := decodeIngestResponse(t, doRequest(handler, http.MethodPost, "/api/v1/events", runState))
	require.Equal(t, "success", stateResponse.Status)
	assert.Equal(t, "RUNNING", stateResponse.Results[0].RunState)

	runIO := fmt.Sprintf(`{"kind": "RUN_IO_REPORTED", "runIO": {
		"runId": "run-1",
		"inputs": [{"namespace": "orders", "name": "raw_orders", "version": %q}],
		"outputs": [{"namespace": "orders", "name": "clean_orders", "version": %q}]
	}}`, rawVersion, cleanVersion)
	ioResponse := decodeIngestResponse(t, doRequest(handler, http.MethodPost, "/api/v1/events", runIO))
	require.Equal(t, "success", ioResponse.Status)

	t.Run("run is queryable after state change", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/api/v1/runs/run-1", "")

		require.Equal(t, http.StatusOK, recorder.Code)

		var run RunResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &run))
		assert.Equal(t, "RUNNING", run.State)
		assert.Equal(t, jobVersion, run.JobVersion)
		assert.NotNil(t, run.StartedAt)
	})

	t.Run("downstream from input dataset", func(t *testing.T) {
		target := fmt.Sprintf(
			"/api/v1/lineage/downstream?kind=DATASET&namespace=orders&name=raw_orders&version=%s", rawVersion,
		)
		recorder := doRequest(handler, http.MethodGet, target, "")

		require.Equal(t, http.StatusOK, recorder.Code)

		var response LineageResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
		require.Len(t, response.Nodes, 2)
		assert.Equal(t, "load_orders", response.Nodes[0].Name)
		assert.Equal(t, "clean_orders", response.Nodes[1].Name)
		assert.Equal(t, "run-1", response.Nodes[0].RunID)
	})

	t.Run("upstream from output dataset", func(t *testing.T) {
		target := fmt.Sprintf(
			"/api/v1/lineage/upstream?kind=DATASET&namespace=orders&name=clean_orders&version=%s", cleanVersion,
		)
		recorder := doRequest(handler, http.MethodGet, target, "")

		require.Equal(t, http.StatusOK, recorder.Code)

		var response LineageResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
		require.Len(t, response.Nodes, 2)
		assert.Equal(t, "load_orders", response.Nodes[0].Name)
		assert.Equal(t, "raw_orders", response.Nodes[1].Name)
	})

	t.Run("depth limits traversal", func(t *testing.T) {
		target := fmt.Sprintf(
			"/api/v1/lineage/downstream?kind=DATASET&namespace=orders&name=raw_orders&version=%s&depth=1", rawVersion,
		)
		recorder := doRequest(handler, http.MethodGet, target, "")

		require.Equal(t, http.StatusOK, recorder.Code)

		var response LineageResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
		require.Len(t, response.Nodes, 1)
		assert.Equal(t, "load_orders", response.Nodes[0].Name)
	})

	t.Run("missing query parameters", func(t *testing.T) {
		recorder := doRequest(handler, http.MethodGet, "/api/v1/lineage/upstream?namespace=orders", "")

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("negative depth", func(t *testing.T) {
		target := fmt.Sprintf(
			"/api/v1/lineage/upstream?kind=DATASET&namespace=orders&name=raw_orders&version=%s&depth=-2", rawVersion,
		)
		recorder := doRequest(handler, http.MethodGet, target, "")

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("job version mismatch on run IO is rejected", func(t *testing.T) {
		mismatched := fmt.Sprintf(`{"kind": "RUN_IO_REPORTED", "runIO": {
			"runId": "run-1", "jobVersion": %q,
			"inputs": [{"namespace": "orders", "name": "raw_orders", "version": %q}]
		}}`, rawVersion, rawVersion)
		recorder := doRequest(handler, http.MethodPost, "/api/v1/events", mismatched)

		require.Equal(t, http.StatusUnprocessableEntity, recorder.Code)

		response := decodeIngestResponse(t, recorder)
		require.Len(t, response.FailedEvents, 1)
		assert.False(t, response.FailedEvents[0].Retriable)
	})
}
