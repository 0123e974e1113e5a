// Package scheduler executes dependency graphs on a bounded pool of
// workers.
//
// A Scheduler drives a graph.Graph to completion: each node's executor is
// invoked once all of the node's upstream dependencies have produced
// results, and those results are forwarded as positional inputs in
// declared dependency order. The coordinator goroutine owns all
// bookkeeping (readiness counters, the result store, the in-flight set);
// workers only receive a task's inputs and return a single value, so no
// state is shared between concurrent node executions.
//
// # Execution model
//
//   - A fixed pool of P worker goroutines is started when Run begins and
//     joined on every exit path.
//   - The coordinator submits ready nodes while fewer than P are in
//     flight, then blocks until a completion arrives.
//   - Completions transition nodes to completed, failed, skipped or
//     ignored; newly satisfied successors become ready and are submitted
//     on the next pass.
//
// # Branch control
//
// An executor can return ErrSkipBranch to cancel its downstream branch:
// the node and every descendant resolve to StatusSkipped without the
// descendants ever executing. Returning ErrIgnoreResult marks the node's
// result as ignored; ignored values are filtered from downstream input
// lists, and a node whose inputs are all ignored resolves to
// StatusIgnored without executing.
//
// # Failure policy
//
// A node failure never crashes the coordinator; the failing node resolves
// to StatusFailed and its descendants are skipped. With fail-fast enabled
// (the default) the first failure stops all further submission and
// cancels the run context so running work can wind down; with fail-fast
// disabled, independent branches run to completion and all node errors
// are reported together.
package scheduler
