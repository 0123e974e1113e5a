package scheduler

import (
	"github.com/MetOffice/dagrunner/graph"
)

// input is a snapshot of one dependency's outcome, taken when its
// consumer is submitted.
type input struct {
	node   string
	status NodeStatus
	value  any
}

// store is the coordinator-owned result store: node results keyed by ID,
// plus a countdown of unread downstream consumers per node so values can
// be released once nothing will read them again. Workers never touch the
// store; they receive input snapshots and return a single value.
type store struct {
	results   map[string]*NodeResult
	consumers map[string]int
	evict     bool
}

func newStore(g *graph.Graph, evict bool) *store {
	s := &store{
		results:   make(map[string]*NodeResult, g.Len()),
		consumers: make(map[string]int, g.Len()),
		evict:     evict,
	}
	for id := range g.Nodes {
		s.results[id] = &NodeResult{Node: id, Status: StatusPending}
		s.consumers[id] = len(g.Successors(id))
	}
	return s
}

// get returns the result record for a node. Records exist for every node
// from the start of the run.
func (s *store) get(id string) *NodeResult {
	return s.results[id]
}

// collect snapshots the outcomes of deps in declared order and counts
// each dep as read by one consumer. With eviction enabled, a node's
// stored value is released once its last consumer has taken a snapshot.
func (s *store) collect(deps []string) []input {
	out := make([]input, len(deps))
	for i, dep := range deps {
		r := s.results[dep]
		out[i] = input{node: dep, status: r.Status, value: r.Value}
		s.consumers[dep]--
		if s.evict && s.consumers[dep] == 0 {
			r.Value = nil
		}
	}
	return out
}
