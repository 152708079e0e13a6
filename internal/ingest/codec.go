package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/metaline-io/metaline/internal/catalog"
)

// Wire format for declaration events, shared by the HTTP API and the Kafka
// consumer. An envelope carries the kind discriminator plus exactly one
// payload matching that kind. These are API contract types, deliberately
// separate from the catalog domain models.

type (
	// EventEnvelope is one declaration event on the wire.
	EventEnvelope struct {
		Kind      string            `json:"kind"`
		Namespace *NamespacePayload `json:"namespace,omitempty"`
		Source    *SourcePayload    `json:"source,omitempty"`
		Dataset   *DatasetPayload   `json:"dataset,omitempty"`
		Job       *JobPayload       `json:"job,omitempty"`
		RunState  *RunStatePayload  `json:"runState,omitempty"`
		RunIO     *RunIOPayload     `json:"runIO,omitempty"`
	}

	// NamespacePayload declares a namespace.
	NamespacePayload struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Owner       string `json:"owner,omitempty"`
	}

	// SourcePayload declares a source.
	SourcePayload struct {
		Name          string `json:"name"`
		Type          string `json:"type"`
		ConnectionURL string `json:"connectionUrl,omitempty"`
		Description   string `json:"description,omitempty"`
	}

	// FieldPayload is one field of a dataset declaration.
	FieldPayload struct {
		Name        string   `json:"name"`
		Type        string   `json:"type"`
		Tags        []string `json:"tags,omitempty"`
		Description string   `json:"description,omitempty"`
	}

	// DatasetPayload declares a dataset.
	DatasetPayload struct {
		Namespace    string         `json:"namespace"`
		Name         string         `json:"name"`
		PhysicalName string         `json:"physicalName"`
		Source       string         `json:"source"`
		Description  string         `json:"description,omitempty"`
		Tags         []string       `json:"tags,omitempty"`
		Fields       []FieldPayload `json:"fields,omitempty"`
	}

	// DatasetRefPayload references a dataset by identity.
	DatasetRefPayload struct {
		Namespace string `json:"namespace"`
		Name      string `json:"name"`
	}

	// JobPayload declares a job.
	JobPayload struct {
		Namespace   string              `json:"namespace"`
		Name        string              `json:"name"`
		Type        string              `json:"type"`
		Location    string              `json:"location"`
		Description string              `json:"description,omitempty"`
		Tags        []string            `json:"tags,omitempty"`
		Inputs      []DatasetRefPayload `json:"inputs,omitempty"`
		Outputs     []DatasetRefPayload `json:"outputs,omitempty"`
	}

	// RunStatePayload reports a run lifecycle transition.
	RunStatePayload struct {
		RunID      string    `json:"runId"`
		JobVersion string    `json:"jobVersion,omitempty"`
		State      string    `json:"state"`
		EventTime  time.Time `json:"eventTime"`
	}

	// DatasetVersionRefPayload references a specific dataset version.
	DatasetVersionRefPayload struct {
		Namespace string `json:"namespace"`
		Name      string `json:"name"`
		Version   string `json:"version"`
	}

	// RunIOPayload reports the dataset versions a run consumed and produced.
	RunIOPayload struct {
		RunID      string                     `json:"runId"`
		JobVersion string                     `json:"jobVersion,omitempty"`
		Inputs     []DatasetVersionRefPayload `json:"inputs,omitempty"`
		Outputs    []DatasetVersionRefPayload `json:"outputs,omitempty"`
		EventTime  time.Time                  `json:"eventTime,omitempty"`
	}
)

// DecodeEvent parses one wire envelope into a catalog event. Shape errors
// wrap catalog.ErrValidation.
func DecodeEvent(data []byte) (catalog.Event, error) {
	var envelope EventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", catalog.ErrValidation, err)
	}

	return envelope.ToEvent()
}

// ToEvent maps the envelope to its domain event. The payload matching the
// kind discriminator must be present.
func (e *EventEnvelope) ToEvent() (catalog.Event, error) {
	switch catalog.EventKind(e.Kind) {
	case catalog.EventKindNamespaceDeclared:
		if e.Namespace == nil {
			return nil, missingPayload(e.Kind, "namespace")
		}

		return catalog.NamespaceDeclared{
			Name:        e.Namespace.Name,
			Description: e.Namespace.Description,
			Owner:       e.Namespace.Owner,
		}, nil

	case catalog.EventKindSourceDeclared:
		if e.Source == nil {
			return nil, missingPayload(e.Kind, "source")
		}

		return catalog.SourceDeclared{
			Name:          e.Source.Name,
			Type:          catalog.SourceType(e.Source.Type),
			ConnectionURL: e.Source.ConnectionURL,
			Description:   e.Source.Description,
		}, nil

	case catalog.EventKindDatasetDeclared:
		if e.Dataset == nil {
			return nil, missingPayload(e.Kind, "dataset")
		}

		fields := make([]catalog.Field, len(e.Dataset.Fields))
		for i, f := range e.Dataset.Fields {
			fields[i] = catalog.Field{
				Name:        f.Name,
				Type:        f.Type,
				Tags:        f.Tags,
				Description: f.Description,
			}
		}

		return catalog.DatasetDeclared{
			Namespace: e.Dataset.Namespace,
			Name:      e.Dataset.Name,
			Meta: catalog.DatasetMeta{
				SourceName:   e.Dataset.Source,
				PhysicalName: e.Dataset.PhysicalName,
				Description:  e.Dataset.Description,
				Tags:         e.Dataset.Tags,
				Fields:       fields,
			},
		}, nil

	case catalog.EventKindJobDeclared:
		if e.Job == nil {
			return nil, missingPayload(e.Kind, "job")
		}

		return catalog.JobDeclared{
			Namespace: e.Job.Namespace,
			Name:      e.Job.Name,
			Meta: catalog.JobMeta{
				Type:        catalog.JobType(e.Job.Type),
				Location:    e.Job.Location,
				Description: e.Job.Description,
				Tags:        e.Job.Tags,
				Inputs:      toDatasetRefs(e.Job.Inputs),
				Outputs:     toDatasetRefs(e.Job.Outputs),
			},
		}, nil

	case catalog.EventKindRunStateChanged:
		if e.RunState == nil {
			return nil, missingPayload(e.Kind, "runState")
		}

		return catalog.RunStateChanged{
			RunID:      e.RunState.RunID,
			JobVersion: e.RunState.JobVersion,
			State:      catalog.RunState(e.RunState.State),
			EventTime:  e.RunState.EventTime,
		}, nil

	case catalog.EventKindRunIOReported:
		if e.RunIO == nil {
			return nil, missingPayload(e.Kind, "runIO")
		}

		return catalog.RunIOReported{
			RunID:      e.RunIO.RunID,
			JobVersion: e.RunIO.JobVersion,
			Inputs:     toVersionRefs(e.RunIO.Inputs),
			Outputs:    toVersionRefs(e.RunIO.Outputs),
			EventTime:  e.RunIO.EventTime,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown event kind %q", catalog.ErrValidation, e.Kind)
	}
}

func toDatasetRefs(payloads []DatasetRefPayload) []catalog.DatasetRef {
	refs := make([]catalog.DatasetRef, len(payloads))
	for i, p := range payloads {
		refs[i] = catalog.DatasetRef{Namespace: p.Namespace, Name: p.Name}
	}

	return refs
}

func toVersionRefs(payloads []DatasetVersionRefPayload) []catalog.DatasetVersionRef {
	refs := make([]catalog.DatasetVersionRef, len(payloads))
	for i, p := range payloads {
		refs[i] = catalog.DatasetVersionRef{Namespace: p.Namespace, Name: p.Name, Version: p.Version}
	}

	return refs
}

func missingPayload(kind, field string) error {
	return fmt.Errorf("%w: event kind %s requires a %q payload", catalog.ErrValidation, kind, field)
}
