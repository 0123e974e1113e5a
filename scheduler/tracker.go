package scheduler

import (
	"github.com/MetOffice/dagrunner/graph"
)

// tracker maintains per-node readiness bookkeeping for one run: a
// countdown of unsatisfied dependencies per node, a FIFO queue of ready
// nodes, and the set of nodes resolved to skipped. It is owned by the
// coordinator goroutine and is not safe for concurrent use.
type tracker struct {
	g *graph.Graph

	// remaining counts unsatisfied dependencies per non-terminal node.
	remaining map[string]int

	// ready is the FIFO queue of nodes whose counters reached zero.
	ready []string

	// skipped records nodes resolved to skipped, so they are never
	// submitted even if their counters later reach zero.
	skipped map[string]bool
}

func newTracker(g *graph.Graph) *tracker {
	t := &tracker{
		g:         g,
		remaining: make(map[string]int, g.Len()),
		skipped:   make(map[string]bool),
	}

	for id, node := range g.Nodes {
		t.remaining[id] = len(node.Dependencies)
	}
	// Roots is already deterministic (lexical order), which makes the
	// initial submission order reproducible.
	t.ready = append(t.ready, g.Roots...)

	return t
}

// markDone resolves a completed (or skipped-after-executing, or ignored)
// node's outgoing edges: each successor's counter is decremented, and
// successors reaching zero join the ready queue unless they have been
// skipped. It returns the newly ready nodes.
func (t *tracker) markDone(id string) []string {
	var newlyReady []string
	for _, succ := range t.g.Successors(id) {
		t.remaining[succ]--
		if t.remaining[succ] == 0 && !t.skipped[succ] {
			t.ready = append(t.ready, succ)
			newlyReady = append(newlyReady, succ)
		}
	}
	return newlyReady
}

// markSkipped marks every descendant of id as skipped, regardless of
// counters: skip propagates unconditionally down the whole subgraph, so
// a node with several ancestors is fully skipped as soon as any one of
// them is. Each node is skipped at most once across the whole run; the
// newly skipped descendants are returned so the caller can record their
// results. The node id itself is not included.
func (t *tracker) markSkipped(id string) []string {
	var newlySkipped []string
	for _, desc := range t.g.Descendants(id) {
		if !t.skipped[desc] {
			t.skipped[desc] = true
			newlySkipped = append(newlySkipped, desc)
		}
	}
	return newlySkipped
}

// popReady removes and returns one ready node. Nodes skipped after
// joining the queue are discarded on the way.
func (t *tracker) popReady() (string, bool) {
	for len(t.ready) > 0 {
		id := t.ready[0]
		t.ready = t.ready[1:]
		if t.skipped[id] {
			continue
		}
		return id, true
	}
	return "", false
}
