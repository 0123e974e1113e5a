package graph

import (
	"time"

	"github.com/MetOffice/dagrunner/types"
)

// Node is a single unit of work in the dependency graph.
type Node struct {
	// ID uniquely names the node within its graph.
	ID string `json:"id"`

	// Descriptor is the opaque per-node work payload. It is forwarded
	// verbatim to the executor; the scheduler never inspects it.
	Descriptor any `json:"descriptor,omitempty"`

	// Dependencies lists the node's upstream inputs in declared order.
	// The order is significant: it defines the positional order of the
	// dependency results passed to the node's executor.
	Dependencies []string `json:"dependencies,omitempty"`

	// Metadata contains additional custom metadata for the node.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Edge is a directed edge in the graph, pointing from a dependency to its
// consumer.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is an immutable directed acyclic dependency graph.
// Instances are produced by Builder.Build, FromEdges or LoadYAML and must
// not be mutated afterwards; all methods are safe for concurrent readers.
type Graph struct {
	// ID is the unique identifier for this graph.
	ID types.ID `json:"id"`

	// Name is a human-readable name for the graph.
	Name string `json:"name"`

	// Description provides additional context about the graph.
	Description string `json:"description,omitempty"`

	// Nodes contains all nodes, indexed by node ID.
	Nodes map[string]*Node `json:"nodes"`

	// Edges contains all directed edges, in insertion order.
	Edges []Edge `json:"edges"`

	// Roots contains the IDs of nodes with no dependencies.
	Roots []string `json:"roots"`

	// Leaves contains the IDs of nodes with no successors.
	Leaves []string `json:"leaves"`

	// CreatedAt is the timestamp when the graph was built.
	CreatedAt time.Time `json:"created_at"`

	// successors maps a node to its downstream consumers, in the order
	// the corresponding dependencies were declared.
	successors map[string][]string
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.Nodes)
}

// Node retrieves a node by ID. Returns nil if the node does not exist.
func (g *Graph) Node(id string) *Node {
	if g.Nodes == nil {
		return nil
	}
	return g.Nodes[id]
}

// Dependencies returns the upstream inputs of a node in declared order.
// Returns nil if the node does not exist. The returned slice is shared
// with the graph and must not be modified.
func (g *Graph) Dependencies(id string) []string {
	node := g.Node(id)
	if node == nil {
		return nil
	}
	return node.Dependencies
}

// Successors returns the downstream consumers of a node. The returned
// slice is shared with the graph and must not be modified.
func (g *Graph) Successors(id string) []string {
	return g.successors[id]
}

// Descendants returns every node reachable downstream of id, in
// breadth-first order. The node itself is not included.
func (g *Graph) Descendants(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	queue := append([]string(nil), g.successors[id]...)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if seen[current] {
			continue
		}
		seen[current] = true
		out = append(out, current)
		queue = append(queue, g.successors[current]...)
	}

	return out
}
