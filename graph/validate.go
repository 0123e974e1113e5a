package graph

import (
	"fmt"

	"github.com/gammazero/toposort"

	"github.com/MetOffice/dagrunner/types"
)

// CycleError reports that the dependency relation of a graph is not
// acyclic. It carries the types.CYCLE_DETECTED code and is raised at
// construction time; a cyclic graph is never retried.
type CycleError struct {
	err types.Error
}

func newCycleError(cause error) *CycleError {
	return &CycleError{err: types.Error{
		Code:    types.CYCLE_DETECTED,
		Message: "dependency graph contains a cycle",
		Cause:   cause,
	}}
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return e.err.Error()
}

// Unwrap exposes the underlying *types.Error, so errors.Is matches the
// CYCLE_DETECTED code and the toposort cause remains reachable.
func (e *CycleError) Unwrap() error {
	return &e.err
}

// validate checks a graph for structural errors: it must be non-empty,
// every dependency must name a known node, and the dependency relation
// must be acyclic.
func validate(g *Graph) error {
	if g == nil || len(g.Nodes) == 0 {
		return types.NewError(types.INVALID_GRAPH, "graph must contain at least one node")
	}

	for id, node := range g.Nodes {
		for _, dep := range node.Dependencies {
			if _, exists := g.Nodes[dep]; !exists {
				return types.NewError(types.MISSING_DEPENDENCY,
					fmt.Sprintf("node %q depends on %q which does not exist in the graph", id, dep))
			}
		}
	}

	if _, err := toposortEdges(g); err != nil {
		return newCycleError(err)
	}

	return nil
}

// toposortEdges runs a topological sort over the graph's edge list.
// Nodes on no edge are not part of the result; callers account for them.
func toposortEdges(g *Graph) ([]interface{}, error) {
	edges := make([]toposort.Edge, 0, len(g.Edges))
	for _, e := range g.Edges {
		edges = append(edges, toposort.Edge{e.From, e.To})
	}
	return toposort.Toposort(edges)
}

// TopologicalSort returns the node IDs in a dependency-respecting order:
// every node appears after all of its dependencies. Isolated nodes are
// placed first, in lexical order.
func (g *Graph) TopologicalSort() ([]string, error) {
	sorted, err := toposortEdges(g)
	if err != nil {
		return nil, newCycleError(err)
	}

	order := make([]string, 0, len(g.Nodes))
	inSorted := make(map[string]bool, len(sorted))
	for _, n := range sorted {
		id := n.(string)
		inSorted[id] = true
	}

	for _, id := range sortedNodeIDs(g) {
		if !inSorted[id] {
			order = append(order, id)
		}
	}
	for _, n := range sorted {
		order = append(order, n.(string))
	}

	return order, nil
}
