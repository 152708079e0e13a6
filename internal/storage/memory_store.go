// Package storage provides catalog store implementations: a thread-safe
// in-memory store for tests and ephemeral deployments, and a PostgreSQL
// store for production.
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/metaline-io/metaline/internal/catalog"
	"github.com/metaline-io/metaline/internal/lineage"
)

// Compile-time interface assertions. Early compile errors if the store drifts
// from the domain contracts.
var (
	_ catalog.Store = (*MemoryStore)(nil)
	_ lineage.Store = (*MemoryStore)(nil)
)

// edgeKey deduplicates lineage edges: an edge is uniquely identified by
// (source, target, runID) and is never overwritten.
type edgeKey struct {
	source lineage.NodeRef
	target lineage.NodeRef
	runID  string
}

// MemoryStore is a thread-safe in-memory implementation of catalog.Store and
// lineage.Store. Values are copied on write and on read to prevent external
// mutation of stored records.
type MemoryStore struct {
	mutex sync.RWMutex

	namespaces map[string]*catalog.Namespace
	sources    map[string]*catalog.Source

	// heads maps identity to the current head version id. versionsByID holds
	// every version record; versionOrder holds the append order per identity,
	// oldest first.
	heads        map[catalog.Identity]string
	versionsByID map[string]*catalog.VersionRecord
	versionOrder map[catalog.Identity][]string

	runs map[string]*catalog.Run

	edges    []lineage.Edge
	edgeSeen map[edgeKey]bool
	bySource map[lineage.NodeRef][]int
	byTarget map[lineage.NodeRef][]int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		namespaces:   make(map[string]*catalog.Namespace),
		sources:      make(map[string]*catalog.Source),
		heads:        make(map[catalog.Identity]string),
		versionsByID: make(map[string]*catalog.VersionRecord),
		versionOrder: make(map[catalog.Identity][]string),
		runs:         make(map[string]*catalog.Run),
		edgeSeen:     make(map[edgeKey]bool),
		bySource:     make(map[lineage.NodeRef][]int),
		byTarget:     make(map[lineage.NodeRef][]int),
	}
}

// UpsertNamespace creates the namespace or updates description and owner.
func (s *MemoryStore) UpsertNamespace(ctx context.Context, ns *catalog.Namespace) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if existing, exists := s.namespaces[ns.Name]; exists {
		updated := *existing
		updated.Description = ns.Description
		updated.Owner = ns.Owner
		updated.UpdatedAt = ns.UpdatedAt
		s.namespaces[ns.Name] = &updated

		return nil
	}

	nsCopy := *ns
	s.namespaces[ns.Name] = &nsCopy

	return nil
}

// GetNamespace returns the namespace or catalog.ErrNotFound.
func (s *MemoryStore) GetNamespace(ctx context.Context, name string) (*catalog.Namespace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ns, exists := s.namespaces[name]
	if !exists {
		return nil, fmt.Errorf("%w: namespace %q", catalog.ErrNotFound, name)
	}

	nsCopy := *ns

	return &nsCopy, nil
}

// UpsertSource creates the source or updates connection URL and description.
func (s *MemoryStore) UpsertSource(ctx context.Context, src *catalog.Source) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if existing, exists := s.sources[src.Name]; exists {
		updated := *existing
		updated.ConnectionURL = src.ConnectionURL
		updated.Description = src.Description
		updated.UpdatedAt = src.UpdatedAt
		s.sources[src.Name] = &updated

		return nil
	}

	srcCopy := *src
	s.sources[src.Name] = &srcCopy

	return nil
}

// GetSource returns the source or catalog.ErrNotFound.
func (s *MemoryStore) GetSource(ctx context.Context, name string) (*catalog.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	src, exists := s.sources[name]
	if !exists {
		return nil, fmt.Errorf("%w: source %q", catalog.ErrNotFound, name)
	}

	srcCopy := *src

	return &srcCopy, nil
}

// GetHead returns the current head version for an identity, or (nil, nil)
// when the identity has no versions.
func (s *MemoryStore) GetHead(ctx context.Context, identity catalog.Identity) (*catalog.VersionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	headID, exists := s.heads[identity]
	if !exists {
		return nil, nil
	}

	return copyVersion(s.versionsByID[headID]), nil
}

// PutIfHeadMatches appends a version and advances the head under the
// compare-and-swap contract.
func (s *MemoryStore) PutIfHeadMatches(ctx context.Context, identity catalog.Identity, expectedHead string, rec *catalog.VersionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	currentHead := s.heads[identity]
	if currentHead != expectedHead {
		return fmt.Errorf("%w: %s", catalog.ErrHeadConflict, identity)
	}

	if _, exists := s.versionsByID[rec.ID]; exists {
		return fmt.Errorf("%w: %q", catalog.ErrDuplicateVersion, rec.ID)
	}

	recCopy := copyVersion(rec)
	s.versionsByID[recCopy.ID] = recCopy
	s.versionOrder[identity] = append(s.versionOrder[identity], recCopy.ID)
	s.heads[identity] = recCopy.ID

	return nil
}

// GetVersion returns the version record or catalog.ErrNotFound.
func (s *MemoryStore) GetVersion(ctx context.Context, versionID string) (*catalog.VersionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rec, exists := s.versionsByID[versionID]
	if !exists {
		return nil, fmt.Errorf("%w: version %q", catalog.ErrNotFound, versionID)
	}

	return copyVersion(rec), nil
}

// ListVersions returns the identity's version history, oldest first.
func (s *MemoryStore) ListVersions(ctx context.Context, identity catalog.Identity) ([]*catalog.VersionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	order := s.versionOrder[identity]
	records := make([]*catalog.VersionRecord, len(order))

	for i, id := range order {
		records[i] = copyVersion(s.versionsByID[id])
	}

	return records, nil
}

// GetRun returns the run record, or (nil, nil) when unknown.
func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*catalog.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, nil
	}

	return copyRun(run), nil
}

// PutRunIfMatches writes the run record under the per-run compare-and-swap
// contract. expectedRevision 0 means the run must not exist yet.
func (s *MemoryStore) PutRunIfMatches(ctx context.Context, expectedRevision int64, run *catalog.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	existing, exists := s.runs[run.ID]

	if expectedRevision == 0 {
		if exists {
			return fmt.Errorf("%w: run %q already exists", catalog.ErrRevisionConflict, run.ID)
		}
	} else {
		if !exists || existing.Revision != expectedRevision {
			return fmt.Errorf("%w: run %q", catalog.ErrRevisionConflict, run.ID)
		}
	}

	s.runs[run.ID] = copyRun(run)

	return nil
}

// AppendEdges appends lineage edges, skipping any whose (source, target,
// runID) key is already present.
func (s *MemoryStore) AppendEdges(ctx context.Context, edges []lineage.Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, edge := range edges {
		key := edgeKey{source: edge.Source, target: edge.Target, runID: edge.RunID}
		if s.edgeSeen[key] {
			continue
		}

		s.edgeSeen[key] = true

		idx := len(s.edges)
		s.edges = append(s.edges, edge)
		s.bySource[edge.Source] = append(s.bySource[edge.Source], idx)
		s.byTarget[edge.Target] = append(s.byTarget[edge.Target], idx)
	}

	return nil
}

// EdgesInto returns all edges whose target is the given node.
func (s *MemoryStore) EdgesInto(ctx context.Context, node lineage.NodeRef) ([]lineage.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.collectEdges(s.byTarget[node]), nil
}

// EdgesFrom returns all edges whose source is the given node.
func (s *MemoryStore) EdgesFrom(ctx context.Context, node lineage.NodeRef) ([]lineage.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.collectEdges(s.bySource[node]), nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) collectEdges(indexes []int) []lineage.Edge {
	edges := make([]lineage.Edge, len(indexes))
	for i, idx := range indexes {
		edges[i] = s.edges[idx]
	}

	return edges
}

func copyVersion(rec *catalog.VersionRecord) *catalog.VersionRecord {
	recCopy := *rec

	if rec.Dataset != nil {
		dataset := *rec.Dataset
		dataset.Tags = append([]string(nil), rec.Dataset.Tags...)
		dataset.Fields = make([]catalog.Field, len(rec.Dataset.Fields))

		for i, field := range rec.Dataset.Fields {
			dataset.Fields[i] = field
			dataset.Fields[i].Tags = append([]string(nil), field.Tags...)
		}

		recCopy.Dataset = &dataset
	}

	if rec.Job != nil {
		job := *rec.Job
		job.Tags = append([]string(nil), rec.Job.Tags...)
		job.Inputs = append([]catalog.DatasetRef(nil), rec.Job.Inputs...)
		job.Outputs = append([]catalog.DatasetRef(nil), rec.Job.Outputs...)
		recCopy.Job = &job
	}

	return &recCopy
}

func copyRun(run *catalog.Run) *catalog.Run {
	runCopy := *run

	if run.StartedAt != nil {
		started := *run.StartedAt
		runCopy.StartedAt = &started
	}

	if run.EndedAt != nil {
		ended := *run.EndedAt
		runCopy.EndedAt = &ended
	}

	return &runCopy
}
