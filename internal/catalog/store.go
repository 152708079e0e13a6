package catalog

import "context"

// Store defines the persistence interface the versioning engine and ingestion
// facade need. The domain package defines this interface to specify what it
// needs; concrete implementations (PostgreSQL, in-memory) live in the
// internal/storage package.
//
// Implementations must guarantee:
//   - Read-your-writes consistency within a single logical session
//   - Unique-key enforcement on namespace names, source names, and identities
//   - PutIfHeadMatches and PutRunIfMatches are atomic compare-and-swap
//     operations; they are the only mutation paths for version heads and runs
//   - Durable persistence across process restarts (in-memory implementation
//     excepted, used for tests and ephemeral deployments)
//
// All calls honor context cancellation; a cancelled call leaves no partial
// state.
type Store interface {
	// UpsertNamespace creates the namespace or updates its description and
	// owner. The name is the stable key; namespaces are never deleted.
	UpsertNamespace(ctx context.Context, ns *Namespace) error

	// GetNamespace returns the namespace or ErrNotFound.
	GetNamespace(ctx context.Context, name string) (*Namespace, error)

	// UpsertSource creates the source or updates its connection URL and
	// description.
	UpsertSource(ctx context.Context, src *Source) error

	// GetSource returns the source or ErrNotFound.
	GetSource(ctx context.Context, name string) (*Source, error)

	// GetHead returns the current head version for an identity, or (nil, nil)
	// when the identity has no versions yet.
	GetHead(ctx context.Context, identity Identity) (*VersionRecord, error)

	// PutIfHeadMatches appends a new version record and advances the
	// identity's head, but only if the current head id still equals
	// expectedHead (empty string means "no head yet"). Returns
	// ErrHeadConflict when the head moved concurrently and
	// ErrDuplicateVersion when a record with rec.ID is already stored;
	// nothing is written in either case.
	PutIfHeadMatches(ctx context.Context, identity Identity, expectedHead string, rec *VersionRecord) error

	// GetVersion returns the version record with the given id, or ErrNotFound.
	GetVersion(ctx context.Context, versionID string) (*VersionRecord, error)

	// ListVersions returns the full version history for an identity, oldest
	// first. Each record's Previous pointer equals the prior record's id.
	ListVersions(ctx context.Context, identity Identity) ([]*VersionRecord, error)

	// GetRun returns the run record, or (nil, nil) when the run is unknown.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// PutRunIfMatches writes the run record, but only if the stored revision
	// still equals expectedRevision (0 means "run does not exist yet").
	// Returns ErrRevisionConflict when the run was modified concurrently.
	PutRunIfMatches(ctx context.Context, expectedRevision int64, run *Run) error

	// HealthCheck verifies the storage backend is ready to serve requests.
	HealthCheck(ctx context.Context) error
}
