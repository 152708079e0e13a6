package catalog

import "time"

type (
	// EventKind discriminates the closed set of declaration event kinds.
	EventKind string

	// Event is the closed tagged-variant type for metadata declarations. The
	// ingestion facade dispatches on the concrete type; the sealed marker
	// keeps the variant set closed to this package.
	Event interface {
		Kind() EventKind
		sealed()
	}

	// NamespaceDeclared creates or updates a namespace. Upsert semantics:
	// description and owner are replaced, the name is the stable key.
	NamespaceDeclared struct {
		Name        string
		Description string
		Owner       string
	}

	// SourceDeclared creates or updates a source. Upsert semantics for
	// connection URL and description.
	SourceDeclared struct {
		Name          string
		Type          SourceType
		ConnectionURL string
		Description   string
	}

	// DatasetDeclared declares a dataset within a namespace. Identical
	// re-declaration resolves to the existing version; any content change
	// appends a new version.
	DatasetDeclared struct {
		Namespace string
		Name      string
		Meta      DatasetMeta
	}

	// JobDeclared declares a job within a namespace. Versioned identically to
	// datasets. Inputs and outputs reference datasets by identity; every
	// referenced dataset must already be declared.
	JobDeclared struct {
		Namespace string
		Name      string
		Meta      JobMeta
	}

	// RunStateChanged reports a lifecycle transition for a run. JobVersion is
	// required on the first event for a run (it binds the run to a job
	// version) and optional afterwards; when present it must match the bound
	// version.
	RunStateChanged struct {
		RunID      string
		JobVersion string
		State      RunState
		EventTime  time.Time
	}

	// DatasetVersionRef references a specific dataset version consumed or
	// produced by a run.
	DatasetVersionRef struct {
		Namespace string
		Name      string
		Version   string
	}

	// RunIOReported reports the dataset versions a run actually consumed and
	// produced, which may differ from the job's declared inputs/outputs.
	// Materializes lineage edges.
	RunIOReported struct {
		RunID      string
		JobVersion string
		Inputs     []DatasetVersionRef
		Outputs    []DatasetVersionRef
		EventTime  time.Time
	}
)

// Event kinds.
const (
	EventKindNamespaceDeclared EventKind = "NAMESPACE_DECLARED"
	EventKindSourceDeclared    EventKind = "SOURCE_DECLARED"
	EventKindDatasetDeclared   EventKind = "DATASET_DECLARED"
	EventKindJobDeclared       EventKind = "JOB_DECLARED"
	EventKindRunStateChanged   EventKind = "RUN_STATE_CHANGED"
	EventKindRunIOReported     EventKind = "RUN_IO_REPORTED"
)

// Kind implements Event.
func (NamespaceDeclared) Kind() EventKind { return EventKindNamespaceDeclared }

// Kind implements Event.
func (SourceDeclared) Kind() EventKind { return EventKindSourceDeclared }

// Kind implements Event.
func (DatasetDeclared) Kind() EventKind { return EventKindDatasetDeclared }

// Kind implements Event.
func (JobDeclared) Kind() EventKind { return EventKindJobDeclared }

// Kind implements Event.
func (RunStateChanged) Kind() EventKind { return EventKindRunStateChanged }

// Kind implements Event.
func (RunIOReported) Kind() EventKind { return EventKindRunIOReported }

func (NamespaceDeclared) sealed() {}
func (SourceDeclared) sealed()    {}
func (DatasetDeclared) sealed()   {}
func (JobDeclared) sealed()       {}
func (RunStateChanged) sealed()   {}
func (RunIOReported) sealed()     {}

// Ack is returned to the caller for every successfully ingested event. For
// dataset and job declarations it carries the resolved version id and whether
// a new version was created; for run events it carries the run id and the run
// state after the event applied.
type Ack struct {
	EventKind EventKind

	VersionID string
	IsNew     bool

	RunID    string
	RunState RunState
}
