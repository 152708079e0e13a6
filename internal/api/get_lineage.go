package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/metaline-io/metaline/internal/catalog"
	"github.com/metaline-io/metaline/internal/lineage"
)

type (
	// LineageNode is one discovered graph node plus the run that connected
	// it, when it was reached over a run edge.
	LineageNode struct {
		Kind      string `json:"kind"`
		Namespace string `json:"namespace"`
		Name      string `json:"name"`
		Version   string `json:"version"`
		RunID     string `json:"runId,omitempty"`
	}

	// LineageResponse is the result of one traversal: the start node and the
	// nodes discovered from it, in breadth-first discovery order. The start
	// node itself is not repeated in Nodes.
	LineageResponse struct {
		Direction string        `json:"direction"` // "upstream" or "downstream"
		Start     LineageNode   `json:"start"`
		Depth     int           `json:"depth"` // 0 means unlimited
		Nodes     []LineageNode `json:"nodes"`
	}
)

// handleUpstream walks the lineage graph against edge direction from the
// given node: the datasets and jobs its data was derived from.
func (s *Server) handleUpstream(w http.ResponseWriter, r *http.Request) {
	s.traverseLineage(w, r, "upstream")
}

// handleDownstream walks the lineage graph along edge direction from the
// given node: the datasets and jobs derived from its data.
func (s *Server) handleDownstream(w http.ResponseWriter, r *http.Request) {
	s.traverseLineage(w, r, "downstream")
}

func (s *Server) traverseLineage(w http.ResponseWriter, r *http.Request, direction string) {
	start, depth, problem := parseTraversalQuery(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	graph := s.ingester.Graph()

	var (
		nodes []lineage.Node
		err   error
	)

	if direction == "upstream" {
		nodes, err = graph.Upstream(r.Context(), start, depth)
	} else {
		nodes, err = graph.Downstream(r.Context(), start, depth)
	}

	if err != nil {
		WriteErrorResponse(w, r, s.logger, ProblemFromError(err))

		return
	}

	response := LineageResponse{
		Direction: direction,
		Start:     toLineageNode(start, ""),
		Depth:     depth,
		Nodes:     make([]LineageNode, len(nodes)),
	}

	for i, node := range nodes {
		response.Nodes[i] = toLineageNode(node.Ref, node.RunID)
	}

	s.writeJSON(w, r, http.StatusOK, response)
}

// parseTraversalQuery extracts the start node and depth from query
// parameters: kind (dataset or job), namespace, name, version, and an
// optional non-negative depth (0 or absent means unlimited).
func parseTraversalQuery(r *http.Request) (lineage.NodeRef, int, *ProblemDetail) {
	query := r.URL.Query()

	namespace := strings.TrimSpace(query.Get("namespace"))
	name := strings.TrimSpace(query.Get("name"))
	version := strings.TrimSpace(query.Get("version"))

	if namespace == "" || name == "" || version == "" {
		return lineage.NodeRef{}, 0, BadRequest("namespace, name, and version query parameters are required")
	}

	var start lineage.NodeRef

	switch strings.ToUpper(strings.TrimSpace(query.Get("kind"))) {
	case string(catalog.KindDataset), "":
		start = lineage.DatasetNode(namespace, name, version)
	case string(catalog.KindJob):
		start = lineage.JobNode(namespace, name, version)
	default:
		return lineage.NodeRef{}, 0, BadRequest("kind must be DATASET or JOB")
	}

	depth := 0

	if raw := query.Get("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return lineage.NodeRef{}, 0, BadRequest("depth must be an integer")
		}

		if parsed < 0 {
			return lineage.NodeRef{}, 0, BadRequest("depth cannot be negative")
		}

		depth = parsed
	}

	return start, depth, nil
}

func toLineageNode(ref lineage.NodeRef, runID string) LineageNode {
	return LineageNode{
		Kind:      string(ref.Kind),
		Namespace: ref.Namespace,
		Name:      ref.Name,
		Version:   ref.Version,
		RunID:     runID,
	}
}
