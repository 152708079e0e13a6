// Package lineage builds and traverses the directed graph connecting job
// versions to the dataset versions their runs consume and produce.
//
// Edges are materialized when a run reports its IO and are append-only: an
// edge is keyed by (source, target, runID), never mutated, only added. Nodes
// are (identity, version) pairs - different versions of the same entity are
// distinct graph nodes, which is what keeps traversal terminating on graphs
// that cycle across versions.
package lineage

import (
	"context"
	"errors"

	"github.com/metaline-io/metaline/internal/catalog"
)

// Sentinel errors for lineage operations.
var (
	// ErrDanglingReference is returned when recording run IO that references
	// a dataset or job version not present in the store. Versions must be
	// persisted before edges may point at them.
	ErrDanglingReference = errors.New("lineage edge endpoint not found")

	// ErrNegativeDepth is returned for traversal calls with depth < 0.
	// Depth 0 means unlimited.
	ErrNegativeDepth = errors.New("traversal depth cannot be negative")
)

type (
	// NodeRef identifies one graph node: a specific version of a dataset or
	// job. Comparable, used directly as the visited-set key during traversal.
	NodeRef struct {
		Kind      catalog.Kind
		Namespace string
		Name      string
		Version   string
	}

	// Edge is a directed lineage relationship. For a run's input dataset the
	// edge runs (dataset version) -> (job version); for an output it runs
	// (job version) -> (dataset version). RunID distinguishes edges of the
	// same version pair produced by different runs.
	Edge struct {
		Source NodeRef
		Target NodeRef
		RunID  string
	}

	// Node is one traversal result: a discovered graph node plus the run that
	// connected it, when it was reached over a run edge.
	Node struct {
		Ref   NodeRef
		RunID string
	}

	// Store is the append-only edge persistence interface. Implementations
	// must deduplicate by (source, target, runID): re-appending an existing
	// edge is a no-op, never an overwrite and never an error.
	Store interface {
		AppendEdges(ctx context.Context, edges []Edge) error

		// EdgesInto returns all edges whose target is the given node.
		EdgesInto(ctx context.Context, node NodeRef) ([]Edge, error)

		// EdgesFrom returns all edges whose source is the given node.
		EdgesFrom(ctx context.Context, node NodeRef) ([]Edge, error)
	}

	// VersionChecker resolves version ids to their records. Satisfied by
	// catalog.Store; the graph uses it to refuse edges with missing
	// endpoints.
	VersionChecker interface {
		GetVersion(ctx context.Context, versionID string) (*catalog.VersionRecord, error)
	}
)

// DatasetNode builds the node for a dataset version.
func DatasetNode(namespace, name, version string) NodeRef {
	return NodeRef{Kind: catalog.KindDataset, Namespace: namespace, Name: name, Version: version}
}

// JobNode builds the node for a job version.
func JobNode(namespace, name, version string) NodeRef {
	return NodeRef{Kind: catalog.KindJob, Namespace: namespace, Name: name, Version: version}
}

// Identity returns the catalog identity of the node, dropping the version.
func (n NodeRef) Identity() catalog.Identity {
	return catalog.Identity{Kind: n.Kind, Namespace: n.Namespace, Name: n.Name}
}

// String renders the node as "kind:namespace/name@version" for logs and
// errors.
func (n NodeRef) String() string {
	return n.Identity().String() + "@" + n.Version
}
