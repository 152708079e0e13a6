package lineage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/metaline-io/metaline/internal/catalog"
)

// Graph records run IO as lineage edges and answers traversal queries.
//
// Edge writes are append-only and therefore naturally concurrency-safe;
// endpoint existence is checked before writing, which is the only ordering
// requirement.
type Graph struct {
	edges    Store
	versions VersionChecker
	logger   *slog.Logger
}

// NewGraph creates a lineage graph over the given edge store. The version
// checker guards edge creation against dangling endpoints.
func NewGraph(edges Store, versions VersionChecker, logger *slog.Logger) *Graph {
	return &Graph{
		edges:    edges,
		versions: versions,
		logger:   logger,
	}
}

// RecordRunIO materializes the lineage edges for one run's reported IO:
// one edge (dataset version) -> (job version) per input, one edge
// (job version) -> (dataset version) per output.
//
// Every endpoint must already be persisted; a missing or mismatched version
// fails with ErrDanglingReference and nothing is written. Re-reporting the
// same IO is a no-op (edges are deduplicated by (source, target, runID)),
// which keeps run IO reports idempotent like every other declaration.
func (g *Graph) RecordRunIO(ctx context.Context, runID string, job NodeRef, inputs, outputs []NodeRef) ([]Edge, error) {
	if err := g.checkEndpoint(ctx, job); err != nil {
		return nil, err
	}

	edges := make([]Edge, 0, len(inputs)+len(outputs))

	for _, input := range inputs {
		if err := g.checkEndpoint(ctx, input); err != nil {
			return nil, err
		}

		edges = append(edges, Edge{Source: input, Target: job, RunID: runID})
	}

	for _, output := range outputs {
		if err := g.checkEndpoint(ctx, output); err != nil {
			return nil, err
		}

		edges = append(edges, Edge{Source: job, Target: output, RunID: runID})
	}

	if err := g.edges.AppendEdges(ctx, edges); err != nil {
		return nil, err
	}

	g.logger.Info("run IO recorded",
		slog.String("run_id", runID),
		slog.String("job", job.String()),
		slog.Int("inputs", len(inputs)),
		slog.Int("outputs", len(outputs)),
	)

	return edges, nil
}

// checkEndpoint verifies the node's version exists and actually belongs to
// the node's identity. A version id that resolves to a different identity is
// as dangling as a missing one.
func (g *Graph) checkEndpoint(ctx context.Context, node NodeRef) error {
	rec, err := g.versions.GetVersion(ctx, node.Version)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrDanglingReference, node)
		}

		return err
	}

	if rec.Identity != node.Identity() {
		return fmt.Errorf("%w: version %s belongs to %s, not %s",
			ErrDanglingReference, node.Version, rec.Identity, node.Identity())
	}

	return nil
}
