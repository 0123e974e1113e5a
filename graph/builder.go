package graph

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MetOffice/dagrunner/types"
)

// Builder provides a fluent API for constructing graphs.
// It accumulates errors during building and reports them all at Build time.
type Builder struct {
	graph  *Graph
	errors []error
}

// New creates a new Builder for a graph with the given name.
func New(name string) *Builder {
	return &Builder{
		graph: &Graph{
			ID:    types.NewID(),
			Name:  name,
			Nodes: make(map[string]*Node),
			Edges: []Edge{},
		},
	}
}

// WithDescription sets the description for the graph.
func (b *Builder) WithDescription(desc string) *Builder {
	b.graph.Description = desc
	return b
}

// AddNode adds a node with the given ID and opaque work descriptor.
// Adding a duplicate or empty ID is an error reported at Build time.
func (b *Builder) AddNode(id string, descriptor any) *Builder {
	if id == "" {
		b.errors = append(b.errors, fmt.Errorf("node must have an ID"))
		return b
	}
	if _, exists := b.graph.Nodes[id]; exists {
		b.errors = append(b.errors, fmt.Errorf("node with ID %q already exists", id))
		return b
	}

	b.graph.Nodes[id] = &Node{ID: id, Descriptor: descriptor}
	return b
}

// WithNodeMetadata attaches metadata to a previously added node.
func (b *Builder) WithNodeMetadata(id string, metadata map[string]any) *Builder {
	node, exists := b.graph.Nodes[id]
	if !exists {
		b.errors = append(b.errors, fmt.Errorf("cannot attach metadata to unknown node %q", id))
		return b
	}
	node.Metadata = metadata
	return b
}

// AddEdge records a directed edge from a dependency to its consumer and
// appends the dependency to the consumer's ordered dependency list.
// Both endpoints must already have been added with AddNode.
func (b *Builder) AddEdge(from, to string) *Builder {
	if _, exists := b.graph.Nodes[from]; !exists {
		b.errors = append(b.errors, fmt.Errorf("edge references unknown source node %q", from))
		return b
	}
	node, exists := b.graph.Nodes[to]
	if !exists {
		b.errors = append(b.errors, fmt.Errorf("edge references unknown destination node %q", to))
		return b
	}
	for _, dep := range node.Dependencies {
		if dep == from {
			b.errors = append(b.errors, fmt.Errorf("duplicate edge %q -> %q", from, to))
			return b
		}
	}

	node.Dependencies = append(node.Dependencies, from)
	b.graph.Edges = append(b.graph.Edges, Edge{From: from, To: to})
	return b
}

// DependsOn appends dependencies to a node's ordered dependency list.
// It is shorthand for one AddEdge call per dependency.
func (b *Builder) DependsOn(id string, deps ...string) *Builder {
	for _, dep := range deps {
		b.AddEdge(dep, id)
	}
	return b
}

// Build finalizes and validates the graph. It returns all accumulated
// build errors, a *types.Error with code MISSING_DEPENDENCY when a
// dependency references an unknown node, or a *CycleError when the
// dependency relation is not acyclic.
func (b *Builder) Build() (*Graph, error) {
	if len(b.errors) > 0 {
		return nil, types.WrapError(types.INVALID_GRAPH, "graph construction failed", errors.Join(b.errors...))
	}

	if err := validate(b.graph); err != nil {
		return nil, err
	}

	b.graph.CreatedAt = time.Now()
	finalize(b.graph)
	return b.graph, nil
}

// FromEdges constructs a graph from an ordered edge list and a mapping of
// node ID to work descriptor. Edge endpoints absent from the descriptor
// mapping become nodes with a nil descriptor; descriptor entries absent
// from any edge become isolated, dependency-free nodes.
func FromEdges(name string, edges []Edge, descriptors map[string]any) (*Graph, error) {
	b := New(name)

	for _, e := range edges {
		if _, exists := b.graph.Nodes[e.From]; !exists {
			b.AddNode(e.From, descriptors[e.From])
		}
		if _, exists := b.graph.Nodes[e.To]; !exists {
			b.AddNode(e.To, descriptors[e.To])
		}
	}

	// Isolated nodes, added in sorted order for determinism.
	isolated := make([]string, 0, len(descriptors))
	for id := range descriptors {
		if _, exists := b.graph.Nodes[id]; !exists {
			isolated = append(isolated, id)
		}
	}
	sort.Strings(isolated)
	for _, id := range isolated {
		b.AddNode(id, descriptors[id])
	}

	for _, e := range edges {
		b.AddEdge(e.From, e.To)
	}

	return b.Build()
}

// finalize derives the successor index and the root and leaf node lists.
// Successor order follows dependency declaration order.
func finalize(g *Graph) {
	g.successors = make(map[string][]string, len(g.Nodes))

	for _, e := range g.Edges {
		g.successors[e.From] = append(g.successors[e.From], e.To)
	}

	g.Roots = []string{}
	g.Leaves = []string{}
	for _, id := range sortedNodeIDs(g) {
		if len(g.Nodes[id].Dependencies) == 0 {
			g.Roots = append(g.Roots, id)
		}
		if len(g.successors[id]) == 0 {
			g.Leaves = append(g.Leaves, id)
		}
	}
}

// sortedNodeIDs returns all node IDs in lexical order.
func sortedNodeIDs(g *Graph) []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
