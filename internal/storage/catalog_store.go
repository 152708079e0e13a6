package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/metaline-io/metaline/internal/catalog"
	"github.com/metaline-io/metaline/internal/lineage"
)

// Compile-time interface checks.
var (
	_ catalog.Store = (*CatalogStore)(nil)
	_ lineage.Store = (*CatalogStore)(nil)
)

// CatalogStore implements catalog.Store and lineage.Store with a PostgreSQL
// backend. Head advancement and run writes use conditional statements so that
// the compare-and-swap contract holds across concurrent connections without
// advisory locks.
type CatalogStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewCatalogStore creates a PostgreSQL-backed catalog store on an established
// connection. The schema must already be migrated.
func NewCatalogStore(conn *Connection, logger *slog.Logger) (*CatalogStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &CatalogStore{conn: conn, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (s *CatalogStore) Close() error {
	return s.conn.Close()
}

// HealthCheck verifies the database is reachable.
func (s *CatalogStore) HealthCheck(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// UpsertNamespace creates the namespace or updates its description and owner.
func (s *CatalogStore) UpsertNamespace(ctx context.Context, ns *catalog.Namespace) error {
	query := `
		INSERT INTO namespaces (name, description, owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			owner = EXCLUDED.owner,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()

	if _, err := s.conn.ExecContext(ctx, query, ns.Name, ns.Description, ns.Owner, now); err != nil {
		return fmt.Errorf("failed to upsert namespace %q: %w", ns.Name, err)
	}

	return nil
}

// GetNamespace returns the namespace or catalog.ErrNotFound.
func (s *CatalogStore) GetNamespace(ctx context.Context, name string) (*catalog.Namespace, error) {
	query := `
		SELECT name, description, owner, created_at, updated_at
		FROM namespaces
		WHERE name = $1
	`

	var ns catalog.Namespace

	err := s.conn.QueryRowContext(ctx, query, name).Scan(
		&ns.Name, &ns.Description, &ns.Owner, &ns.CreatedAt, &ns.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: namespace %q", catalog.ErrNotFound, name)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get namespace %q: %w", name, err)
	}

	return &ns, nil
}

// UpsertSource creates the source or updates its connection URL and
// description. The source type is fixed at creation.
func (s *CatalogStore) UpsertSource(ctx context.Context, src *catalog.Source) error {
	query := `
		INSERT INTO sources (name, type, connection_url, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (name) DO UPDATE SET
			connection_url = EXCLUDED.connection_url,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()

	if _, err := s.conn.ExecContext(ctx, query, src.Name, string(src.Type), src.ConnectionURL, src.Description, now); err != nil {
		return fmt.Errorf("failed to upsert source %q: %w", src.Name, err)
	}

	return nil
}

// GetSource returns the source or catalog.ErrNotFound.
func (s *CatalogStore) GetSource(ctx context.Context, name string) (*catalog.Source, error) {
	query := `
		SELECT name, type, connection_url, description, created_at, updated_at
		FROM sources
		WHERE name = $1
	`

	var (
		src     catalog.Source
		srcType string
	)

	err := s.conn.QueryRowContext(ctx, query, name).Scan(
		&src.Name, &srcType, &src.ConnectionURL, &src.Description, &src.CreatedAt, &src.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: source %q", catalog.ErrNotFound, name)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get source %q: %w", name, err)
	}

	src.Type = catalog.SourceType(srcType)

	return &src, nil
}

// GetHead returns the current head version for an identity, or (nil, nil)
// when the identity has no versions yet.
func (s *CatalogStore) GetHead(ctx context.Context, identity catalog.Identity) (*catalog.VersionRecord, error) {
	query := `
		SELECT v.id, v.kind, v.namespace, v.name, v.fingerprint, v.previous, v.payload, v.created_at
		FROM heads h
		JOIN versions v ON v.id = h.version_id
		WHERE h.kind = $1 AND h.namespace = $2 AND h.name = $3
	`

	rec, err := s.scanVersion(s.conn.QueryRowContext(ctx, query, string(identity.Kind), identity.Namespace, identity.Name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get head for %s: %w", identity, err)
	}

	return rec, nil
}

// PutIfHeadMatches appends a version record and advances the identity's head
// in one transaction. The head row is advanced with a conditional statement;
// zero rows affected means another writer moved the head first and
// catalog.ErrHeadConflict is returned with nothing committed. An insert that
// hits an existing version id returns catalog.ErrDuplicateVersion so a stored
// record is never shadowed by a colliding append.
func (s *CatalogStore) PutIfHeadMatches(ctx context.Context, identity catalog.Identity, expectedHead string, rec *catalog.VersionRecord) error {
	payload, err := encodeVersionPayload(rec)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	insertVersion := `
		INSERT INTO versions (id, kind, namespace, name, fingerprint, previous, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	insertResult, err := tx.ExecContext(ctx, insertVersion,
		rec.ID, string(identity.Kind), identity.Namespace, identity.Name,
		rec.Fingerprint, rec.Previous, payload, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert version %q: %w", rec.ID, err)
	}

	inserted, err := insertResult.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check version insert for %q: %w", rec.ID, err)
	}

	if inserted == 0 {
		return fmt.Errorf("%w: %q", catalog.ErrDuplicateVersion, rec.ID)
	}

	var result sql.Result

	if expectedHead == "" {
		insertHead := `
			INSERT INTO heads (kind, namespace, name, version_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (kind, namespace, name) DO NOTHING
		`
		result, err = tx.ExecContext(ctx, insertHead,
			string(identity.Kind), identity.Namespace, identity.Name, rec.ID,
		)
	} else {
		updateHead := `
			UPDATE heads
			SET version_id = $4
			WHERE kind = $1 AND namespace = $2 AND name = $3 AND version_id = $5
		`
		result, err = tx.ExecContext(ctx, updateHead,
			string(identity.Kind), identity.Namespace, identity.Name, rec.ID, expectedHead,
		)
	}

	if err != nil {
		return fmt.Errorf("failed to advance head for %s: %w", identity, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check head advancement for %s: %w", identity, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", catalog.ErrHeadConflict, identity)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit version %q: %w", rec.ID, err)
	}

	return nil
}

// GetVersion returns the version record or catalog.ErrNotFound.
func (s *CatalogStore) GetVersion(ctx context.Context, versionID string) (*catalog.VersionRecord, error) {
	query := `
		SELECT id, kind, namespace, name, fingerprint, previous, payload, created_at
		FROM versions
		WHERE id = $1
	`

	rec, err := s.scanVersion(s.conn.QueryRowContext(ctx, query, versionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: version %q", catalog.ErrNotFound, versionID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get version %q: %w", versionID, err)
	}

	return rec, nil
}

// ListVersions returns the full version history for an identity, oldest
// first. Insertion order is tracked by a sequence column, which matches the
// Previous chain because heads only advance forward.
func (s *CatalogStore) ListVersions(ctx context.Context, identity catalog.Identity) ([]*catalog.VersionRecord, error) {
	query := `
		SELECT id, kind, namespace, name, fingerprint, previous, payload, created_at
		FROM versions
		WHERE kind = $1 AND namespace = $2 AND name = $3
		ORDER BY position ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, string(identity.Kind), identity.Namespace, identity.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for %s: %w", identity, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var records []*catalog.VersionRecord

	for rows.Next() {
		rec, err := s.scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version for %s: %w", identity, err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list versions for %s: %w", identity, err)
	}

	return records, nil
}

// GetRun returns the run record, or (nil, nil) when the run is unknown.
func (s *CatalogStore) GetRun(ctx context.Context, runID string) (*catalog.Run, error) {
	query := `
		SELECT id, job_version, state, started_at, ended_at, revision, created_at, updated_at
		FROM runs
		WHERE id = $1
	`

	var (
		run       catalog.Run
		state     string
		startedAt sql.NullTime
		endedAt   sql.NullTime
	)

	err := s.conn.QueryRowContext(ctx, query, runID).Scan(
		&run.ID, &run.JobVersion, &state, &startedAt, &endedAt,
		&run.Revision, &run.CreatedAt, &run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get run %q: %w", runID, err)
	}

	run.State = catalog.RunState(state)

	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}

	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}

	return &run, nil
}

// PutRunIfMatches writes the run record under the per-run compare-and-swap
// contract. expectedRevision 0 means the run must not exist yet; otherwise
// the stored revision must still match or catalog.ErrRevisionConflict is
// returned.
func (s *CatalogStore) PutRunIfMatches(ctx context.Context, expectedRevision int64, run *catalog.Run) error {
	var (
		result sql.Result
		err    error
	)

	if expectedRevision == 0 {
		insert := `
			INSERT INTO runs (id, job_version, state, started_at, ended_at, revision, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING
		`
		result, err = s.conn.ExecContext(ctx, insert,
			run.ID, run.JobVersion, string(run.State),
			nullTime(run.StartedAt), nullTime(run.EndedAt),
			run.Revision, run.CreatedAt.UTC(), run.UpdatedAt.UTC(),
		)
	} else {
		update := `
			UPDATE runs
			SET state = $2, started_at = $3, ended_at = $4, revision = $5, updated_at = $6
			WHERE id = $1 AND revision = $7
		`
		result, err = s.conn.ExecContext(ctx, update,
			run.ID, string(run.State),
			nullTime(run.StartedAt), nullTime(run.EndedAt),
			run.Revision, run.UpdatedAt.UTC(), expectedRevision,
		)
	}

	if err != nil {
		return fmt.Errorf("failed to write run %q: %w", run.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check run write for %q: %w", run.ID, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: run %q", catalog.ErrRevisionConflict, run.ID)
	}

	return nil
}

// AppendEdges appends lineage edges, skipping any whose (source, target,
// runID) key is already present. Deduplication rides on the composite primary
// key so concurrent re-reports of the same IO stay no-ops.
func (s *CatalogStore) AppendEdges(ctx context.Context, edges []lineage.Edge) error {
	if len(edges) == 0 {
		return nil
	}

	query := `
		INSERT INTO lineage_edges (
			source_kind, source_namespace, source_name, source_version,
			target_kind, target_namespace, target_name, target_version,
			run_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
	`

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()

	for _, edge := range edges {
		_, err := tx.ExecContext(ctx, query,
			string(edge.Source.Kind), edge.Source.Namespace, edge.Source.Name, edge.Source.Version,
			string(edge.Target.Kind), edge.Target.Namespace, edge.Target.Name, edge.Target.Version,
			edge.RunID, now,
		)
		if err != nil {
			return fmt.Errorf("failed to append edge %s -> %s: %w", edge.Source, edge.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lineage edges: %w", err)
	}

	return nil
}

// EdgesInto returns all edges whose target is the given node.
func (s *CatalogStore) EdgesInto(ctx context.Context, node lineage.NodeRef) ([]lineage.Edge, error) {
	query := `
		SELECT source_kind, source_namespace, source_name, source_version,
		       target_kind, target_namespace, target_name, target_version,
		       run_id
		FROM lineage_edges
		WHERE target_kind = $1 AND target_namespace = $2 AND target_name = $3 AND target_version = $4
		ORDER BY position ASC
	`

	return s.queryEdges(ctx, query, node)
}

// EdgesFrom returns all edges whose source is the given node.
func (s *CatalogStore) EdgesFrom(ctx context.Context, node lineage.NodeRef) ([]lineage.Edge, error) {
	query := `
		SELECT source_kind, source_namespace, source_name, source_version,
		       target_kind, target_namespace, target_name, target_version,
		       run_id
		FROM lineage_edges
		WHERE source_kind = $1 AND source_namespace = $2 AND source_name = $3 AND source_version = $4
		ORDER BY position ASC
	`

	return s.queryEdges(ctx, query, node)
}

func (s *CatalogStore) queryEdges(ctx context.Context, query string, node lineage.NodeRef) ([]lineage.Edge, error) {
	rows, err := s.conn.QueryContext(ctx, query,
		string(node.Kind), node.Namespace, node.Name, node.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges for %s: %w", node, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var edges []lineage.Edge

	for rows.Next() {
		var (
			edge             lineage.Edge
			srcKind, tgtKind string
		)

		err := rows.Scan(
			&srcKind, &edge.Source.Namespace, &edge.Source.Name, &edge.Source.Version,
			&tgtKind, &edge.Target.Namespace, &edge.Target.Name, &edge.Target.Version,
			&edge.RunID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edge for %s: %w", node, err)
		}

		edge.Source.Kind = catalog.Kind(srcKind)
		edge.Target.Kind = catalog.Kind(tgtKind)

		edges = append(edges, edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query edges for %s: %w", node, err)
	}

	return edges, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// versionPayload holds the declared metadata of a version record as stored in
// the JSONB payload column. Identity and chain fields live in dedicated
// columns; the payload carries only the content.
type versionPayload struct {
	Dataset *catalog.DatasetMeta `json:"dataset,omitempty"`
	Job     *catalog.JobMeta     `json:"job,omitempty"`
}

func (s *CatalogStore) scanVersion(row rowScanner) (*catalog.VersionRecord, error) {
	var (
		rec     catalog.VersionRecord
		kind    string
		payload []byte
	)

	err := row.Scan(
		&rec.ID, &kind, &rec.Identity.Namespace, &rec.Identity.Name,
		&rec.Fingerprint, &rec.Previous, &payload, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Identity.Kind = catalog.Kind(kind)

	var content versionPayload
	if err := json.Unmarshal(payload, &content); err != nil {
		return nil, fmt.Errorf("failed to decode version payload: %w", err)
	}

	rec.Dataset = content.Dataset
	rec.Job = content.Job

	return &rec, nil
}

func encodeVersionPayload(rec *catalog.VersionRecord) ([]byte, error) {
	payload, err := json.Marshal(versionPayload{Dataset: rec.Dataset, Job: rec.Job})
	if err != nil {
		return nil, fmt.Errorf("failed to encode version payload for %q: %w", rec.ID, err)
	}

	return payload, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: t.UTC(), Valid: true}
}
