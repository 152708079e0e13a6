// Package catalog provides the domain models and versioning engine for the
// metadata catalog.
//
// The catalog records the structure and provenance of data-processing jobs,
// the datasets they read and write, and the versions that accumulate as
// producers re-declare them. Declarations are deduplicated by content: an
// identical re-declaration resolves to the existing version, any content
// change appends a new version chained after the prior one.
package catalog

import (
	"strings"
	"time"
)

type (
	// Kind distinguishes the two versioned entity families in the catalog.
	Kind string

	// Identity is the stable (namespace, name) key for a dataset or job,
	// independent of version.
	Identity struct {
		Kind      Kind
		Namespace string
		Name      string
	}

	// Namespace is a named scope owning the sources, datasets, and jobs
	// declared within it. Never deleted, only superseded by re-declaration.
	Namespace struct {
		Name        string
		Description string
		Owner       string
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	// SourceType identifies the kind of origin system backing a dataset.
	SourceType string

	// Source is a named origin system referenced by datasets. Immutable once
	// created except for description/connection updates via upsert.
	Source struct {
		Name          string
		Type          SourceType
		ConnectionURL string
		Description   string
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// Field belongs to exactly one dataset version. Immutable once its owning
	// version is created. Tag names must exist in the taxonomy registry.
	Field struct {
		Name        string
		Type        string
		Tags        []string
		Description string
	}

	// DatasetMeta is the declared content of a dataset: everything that
	// participates in the version fingerprint.
	DatasetMeta struct {
		SourceName   string
		PhysicalName string
		Description  string
		Tags         []string
		Fields       []Field
	}

	// JobType categorizes how a job executes.
	JobType string

	// DatasetRef references a dataset by identity, not by version. Used by
	// job declarations, whose inputs and outputs bind to identities at
	// declaration time.
	DatasetRef struct {
		Namespace string
		Name      string
	}

	// JobMeta is the declared content of a job: everything that participates
	// in the version fingerprint.
	JobMeta struct {
		Type        JobType
		Location    string
		Description string
		Tags        []string
		Inputs      []DatasetRef
		Outputs     []DatasetRef
	}

	// VersionRecord is an immutable, content-addressed snapshot of an
	// identity's declared metadata at one point in its history. Exactly one
	// of Dataset or Job is populated, matching Identity.Kind.
	VersionRecord struct {
		// ID is the content-addressed version id (UUIDv5 over the canonical
		// serialization). Two declarations with identical content under the
		// same identity always produce the same ID.
		ID string

		Identity Identity

		// Fingerprint is the SHA-256 hex digest of the canonical content.
		Fingerprint string

		// Previous is the version id this record was chained after; empty for
		// the first version of an identity.
		Previous string

		Dataset *DatasetMeta
		Job     *JobMeta

		CreatedAt time.Time
	}

	// RunState is the lifecycle state of a single job execution.
	RunState string

	// Run is a single execution instance of one job version. Runs bind to the
	// job version as of execution and keep that binding even when the job is
	// redeclared later.
	Run struct {
		ID         string
		JobVersion string

		State RunState

		// StartedAt is set on first entry to RUNNING, or to a terminal state
		// when the RUNNING observation was missed. Merged min-by-value across
		// out-of-order arrivals.
		StartedAt *time.Time

		// EndedAt is set on entry to a terminal state.
		EndedAt *time.Time

		// Revision counts committed writes of this record; the store's CAS
		// primitive serializes transitions per run.
		Revision int64

		CreatedAt time.Time
		UpdatedAt time.Time
	}
)

// Entity kinds.
const (
	KindDataset Kind = "DATASET"
	KindJob     Kind = "JOB"
)

// Known source types. The set is open-ended: producers may declare sources of
// types the catalog has not seen before, so IsValid checks shape, not
// membership.
const (
	SourceTypePostgreSQL SourceType = "POSTGRESQL"
	SourceTypeMySQL      SourceType = "MYSQL"
	SourceTypeKafka      SourceType = "KAFKA"
	SourceTypeS3         SourceType = "S3"
	SourceTypeBigQuery   SourceType = "BIGQUERY"
)

// Job types.
const (
	JobTypeBatch   JobType = "BATCH"
	JobTypeStream  JobType = "STREAM"
	JobTypeService JobType = "SERVICE"
)

// Run states.
const (
	RunStateNew       RunState = "NEW"
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateFailed    RunState = "FAILED"
	RunStateAborted   RunState = "ABORTED"
)

// DatasetIdentity builds the identity key for a dataset.
func DatasetIdentity(namespace, name string) Identity {
	return Identity{Kind: KindDataset, Namespace: namespace, Name: name}
}

// JobIdentity builds the identity key for a job.
func JobIdentity(namespace, name string) Identity {
	return Identity{Kind: KindJob, Namespace: namespace, Name: name}
}

// String renders the identity as "kind:namespace/name" for logs and errors.
func (id Identity) String() string {
	return strings.ToLower(string(id.Kind)) + ":" + id.Namespace + "/" + id.Name
}

// IsValid reports whether the source type is non-empty. The catalog accepts
// source types beyond the known constants.
func (st SourceType) IsValid() bool {
	return strings.TrimSpace(string(st)) != ""
}

// IsValid reports whether the job type is one of the declared job types.
func (jt JobType) IsValid() bool {
	switch jt {
	case JobTypeBatch, JobTypeStream, JobTypeService:
		return true
	default:
		return false
	}
}

// ValidRunStates returns all run states in lifecycle order.
func ValidRunStates() []RunState {
	return []RunState{
		RunStateNew,
		RunStateRunning,
		RunStateCompleted,
		RunStateFailed,
		RunStateAborted,
	}
}

// IsValid checks if the RunState is one of the declared lifecycle states.
func (s RunState) IsValid() bool {
	for _, valid := range ValidRunStates() {
		if s == valid {
			return true
		}
	}

	return false
}

// IsTerminal returns true for the absorbing states COMPLETED, FAILED, and
// ABORTED. Once a run enters a terminal state no further transition is
// accepted.
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateFailed || s == RunStateAborted
}

// TagNames collects every tag referenced by a dataset declaration: the
// dataset-level tags plus each field's tags, in declaration order.
func (m *DatasetMeta) TagNames() []string {
	names := make([]string, 0, len(m.Tags))
	names = append(names, m.Tags...)

	for _, field := range m.Fields {
		names = append(names, field.Tags...)
	}

	return names
}
