// Package graph provides the dependency graph model consumed by the
// dagrunner scheduler.
//
// A Graph is a directed acyclic graph of named nodes. Each node carries an
// opaque work descriptor and an ordered list of upstream dependencies; the
// order of a node's dependencies defines the positional order in which
// their results are later handed to the node's executor.
//
// Graphs are constructed either programmatically through the fluent
// Builder, from an (edges, descriptors) pair via FromEdges, or from a YAML
// definition via LoadYAML. All three paths share the same validation:
// every referenced node must exist and the dependency relation must be
// acyclic. Validation failures are reported at Build time; a cyclic graph
// is rejected with a *CycleError and is never retried.
//
// After Build a Graph is immutable and safe for concurrent readers.
package graph
