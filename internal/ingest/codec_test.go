package ingest_test

import (
	"errors"
	"testing"
	"time"

	"github.com/metaline-io/metaline/internal/catalog"
	"github.com/metaline-io/metaline/internal/ingest"
)

func TestDecodeEvent(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("dataset declaration", func(t *testing.T) {
		payload := `{
			"kind": "DATASET_DECLARED",
			"dataset": {
				"namespace": "analytics",
				"name": "orders",
				"physicalName": "public.orders",
				"source": "analytics_db",
				"tags": ["PII"],
				"fields": [
					{"name": "id", "type": "INTEGER"},
					{"name": "amount", "type": "DECIMAL", "tags": ["SENSITIVE"]}
				]
			}
		}`

		event, err := ingest.DecodeEvent([]byte(payload))
		if err != nil {
			t.Fatalf("DecodeEvent() failed: %v", err)
		}

		declared, ok := event.(catalog.DatasetDeclared)
		if !ok {
			t.Fatalf("expected DatasetDeclared, got %T", event)
		}

		if declared.Namespace != "analytics" || declared.Name != "orders" {
			t.Errorf("unexpected identity: %s/%s", declared.Namespace, declared.Name)
		}

		if declared.Meta.SourceName != "analytics_db" {
			t.Errorf("unexpected source: %q", declared.Meta.SourceName)
		}

		if len(declared.Meta.Fields) != 2 || declared.Meta.Fields[1].Tags[0] != "SENSITIVE" {
			t.Errorf("fields not mapped: %+v", declared.Meta.Fields)
		}
	})

	t.Run("job declaration", func(t *testing.T) {
		payload := `{
			"kind": "JOB_DECLARED",
			"job": {
				"namespace": "analytics",
				"name": "load_orders",
				"type": "BATCH",
				"location": "git://jobs/load_orders",
				"inputs": [{"namespace": "analytics", "name": "raw_orders"}],
				"outputs": [{"namespace": "analytics", "name": "orders"}]
			}
		}`

		event, err := ingest.DecodeEvent([]byte(payload))
		if err != nil {
			t.Fatalf("DecodeEvent() failed: %v", err)
		}

		declared, ok := event.(catalog.JobDeclared)
		if !ok {
			t.Fatalf("expected JobDeclared, got %T", event)
		}

		if declared.Meta.Type != catalog.JobTypeBatch {
			t.Errorf("unexpected job type: %q", declared.Meta.Type)
		}

		if len(declared.Meta.Inputs) != 1 || declared.Meta.Inputs[0].Name != "raw_orders" {
			t.Errorf("inputs not mapped: %+v", declared.Meta.Inputs)
		}
	})

	t.Run("run state change", func(t *testing.T) {
		payload := `{
			"kind": "RUN_STATE_CHANGED",
			"runState": {
				"runId": "run-1",
				"jobVersion": "7f4a1c9e-0000-5000-8000-000000000000",
				"state": "RUNNING",
				"eventTime": "2026-03-14T09:00:00Z"
			}
		}`

		event, err := ingest.DecodeEvent([]byte(payload))
		if err != nil {
			t.Fatalf("DecodeEvent() failed: %v", err)
		}

		changed, ok := event.(catalog.RunStateChanged)
		if !ok {
			t.Fatalf("expected RunStateChanged, got %T", event)
		}

		if changed.State != catalog.RunStateRunning {
			t.Errorf("unexpected state: %q", changed.State)
		}

		want := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
		if !changed.EventTime.Equal(want) {
			t.Errorf("unexpected event time: %v", changed.EventTime)
		}
	})

	t.Run("run IO report", func(t *testing.T) {
		payload := `{
			"kind": "RUN_IO_REPORTED",
			"runIO": {
				"runId": "run-1",
				"inputs": [{"namespace": "analytics", "name": "raw_orders", "version": "dv-1"}],
				"outputs": [{"namespace": "analytics", "name": "orders", "version": "dv-2"}]
			}
		}`

		event, err := ingest.DecodeEvent([]byte(payload))
		if err != nil {
			t.Fatalf("DecodeEvent() failed: %v", err)
		}

		reported, ok := event.(catalog.RunIOReported)
		if !ok {
			t.Fatalf("expected RunIOReported, got %T", event)
		}

		if len(reported.Inputs) != 1 || reported.Inputs[0].Version != "dv-1" {
			t.Errorf("inputs not mapped: %+v", reported.Inputs)
		}
	})
}

func TestDecodeEventShapeErrors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `{kind: nope`},
		{name: "unknown kind", payload: `{"kind": "DATASET_DROPPED"}`},
		{name: "missing payload", payload: `{"kind": "DATASET_DECLARED"}`},
		{
			name:    "payload kind mismatch",
			payload: `{"kind": "JOB_DECLARED", "dataset": {"namespace": "analytics", "name": "orders"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingest.DecodeEvent([]byte(tt.payload))
			if !errors.Is(err, catalog.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}
