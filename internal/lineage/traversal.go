package lineage

import (
	"context"
	"fmt"
)

// Upstream walks backward across edges from the given node, answering "what
// produced this". Breadth-first: results are ordered by discovery, nearest
// hops first. depth limits the walk to that many hops; depth 0 means
// unlimited.
//
// The start node itself is not included in the results. Each distinct
// (identity, version) node appears at most once, even on graphs that cycle
// across versions: the visited set is keyed by NodeRef including the version,
// so different versions of the same identity are distinct nodes and a cycle
// over versions terminates once every node on it has been seen.
func (g *Graph) Upstream(ctx context.Context, start NodeRef, depth int) ([]Node, error) {
	return g.traverse(ctx, start, depth, g.edges.EdgesInto, edgeSource)
}

// Downstream walks forward across edges from the given node, answering "what
// depends on this". Symmetric to Upstream.
func (g *Graph) Downstream(ctx context.Context, start NodeRef, depth int) ([]Node, error) {
	return g.traverse(ctx, start, depth, g.edges.EdgesFrom, edgeTarget)
}

type (
	edgeLookup   func(ctx context.Context, node NodeRef) ([]Edge, error)
	edgeEndpoint func(Edge) NodeRef
)

func edgeSource(e Edge) NodeRef { return e.Source }
func edgeTarget(e Edge) NodeRef { return e.Target }

func (g *Graph) traverse(ctx context.Context, start NodeRef, depth int, lookup edgeLookup, next edgeEndpoint) ([]Node, error) {
	if depth < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeDepth, depth)
	}

	type frontier struct {
		node NodeRef
		hops int
	}

	visited := map[NodeRef]bool{start: true}
	queue := []frontier{{node: start, hops: 0}}

	var results []Node

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if depth > 0 && current.hops == depth {
			continue
		}

		edges, err := lookup(ctx, current.node)
		if err != nil {
			return nil, err
		}

		for _, edge := range edges {
			neighbor := next(edge)
			if visited[neighbor] {
				continue
			}

			visited[neighbor] = true

			results = append(results, Node{Ref: neighbor, RunID: edge.RunID})
			queue = append(queue, frontier{node: neighbor, hops: current.hops + 1})
		}
	}

	return results, nil
}
