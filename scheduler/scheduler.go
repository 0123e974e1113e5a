package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MetOffice/dagrunner/graph"
	"github.com/MetOffice/dagrunner/types"
)

// Scheduler executes dependency graphs on a bounded worker pool.
// All tunables are explicit constructor parameters; no ambient or global
// configuration is consulted. A Scheduler is stateless across runs and
// may be reused, but each Run owns its pool and bookkeeping exclusively.
type Scheduler struct {
	workers      int
	failFast     bool
	pollInterval time.Duration
	logger       *slog.Logger
	tracer       trace.Tracer
	evictResults bool
}

// New creates a Scheduler. Defaults: 4 workers, fail-fast enabled,
// 500ms heartbeat interval, slog.Default() logging, no tracing, no
// result eviction.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		workers:      defaultWorkers,
		failFast:     true,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the graph to completion and returns the per-node results.
//
// Every node reaches exactly one terminal status. On success (all nodes
// completed, skipped or ignored) the error is nil. On failure the error
// identifies the failing node(s): the first *NodeError under fail-fast,
// or all node errors joined once independent branches have finished
// otherwise. The worker pool is started when Run begins and joined on
// every exit path.
func (s *Scheduler) Run(ctx context.Context, g *graph.Graph, executor Executor) (*Result, error) {
	if g == nil || g.Len() == 0 {
		return nil, types.NewError(types.INVALID_GRAPH, "cannot run a nil or empty graph")
	}
	if executor == nil {
		return nil, errors.New("scheduler: executor must not be nil")
	}

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "dagrunner.run",
			trace.WithAttributes(
				attribute.String("graph.id", g.ID.String()),
				attribute.String("graph.name", g.Name),
				attribute.Int("graph.node_count", g.Len()),
			),
		)
		defer span.End()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		s:        s,
		g:        g,
		tracker:  newTracker(g),
		store:    newStore(g, s.evictResults),
		inFlight: make(map[string]bool),
		cancel:   cancel,
		result: &Result{
			RunID:     types.NewID(),
			GraphID:   g.ID,
			GraphName: g.Name,
			Status:    RunStatusRunning,
		},
	}
	// The store records double as the run's result mapping.
	r.result.Nodes = r.store.results
	r.markReady(g.Roots)

	pool := newPool(s.workers, executor, s.logger, s.tracer)
	pool.Start(runCtx)
	defer pool.Close()

	s.logger.InfoContext(ctx, "starting run",
		"run_id", r.result.RunID,
		"graph", g.Name,
		"nodes", g.Len(),
		"workers", s.workers,
		"fail_fast", s.failFast,
	)
	startedAt := time.Now()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for r.terminal < g.Len() {
		r.submitReady(ctx, pool)

		if r.terminal >= g.Len() {
			break
		}

		if len(r.inFlight) == 0 {
			if r.halted {
				r.resolveRemaining(fmt.Errorf("not executed: run halted by earlier failure"))
				break
			}
			// Acyclic graph plus correct counters should make this
			// unreachable; failing loudly beats spinning forever.
			err := newDeadlockError(r.pendingNodes())
			s.logger.ErrorContext(ctx, "scheduler deadlock detected",
				"run_id", r.result.RunID,
				"pending", r.pendingNodes(),
			)
			r.result.Status = RunStatusFailed
			return r.finish(ctx, span, startedAt, err)
		}

		select {
		case c := <-pool.completions:
			r.handleCompletion(ctx, c)
		case <-ctx.Done():
			s.logger.WarnContext(ctx, "run cancelled",
				"run_id", r.result.RunID,
				"reason", ctx.Err(),
			)
			cancel()
			r.resolveRemaining(fmt.Errorf("not executed: %w", ctx.Err()))
			r.result.Status = RunStatusCancelled
			return r.finish(ctx, span, startedAt, newCancelledError(ctx.Err()))
		case <-ticker.C:
			s.logger.DebugContext(ctx, "run in progress",
				"run_id", r.result.RunID,
				"in_flight", len(r.inFlight),
				"terminal", r.terminal,
				"total", g.Len(),
			)
		}
	}

	err := r.runError()
	if err != nil {
		r.result.Status = RunStatusFailed
	} else {
		r.result.Status = RunStatusSucceeded
	}
	return r.finish(ctx, span, startedAt, err)
}

// run holds the coordinator-owned state of one Run invocation. All
// mutation happens on the coordinating goroutine; workers communicate
// only through the completion channel.
type run struct {
	s        *Scheduler
	g        *graph.Graph
	tracker  *tracker
	store    *store
	result   *Result
	inFlight map[string]bool
	terminal int
	halted   bool
	cancel   context.CancelFunc
	nodeErrs []error
}

// submitReady pops ready nodes and hands them to the pool while worker
// capacity remains. Nodes whose inputs carry a skip marker, or whose
// inputs are all ignored, resolve here without ever reaching a worker.
func (r *run) submitReady(ctx context.Context, p *pool) {
	if r.halted {
		return
	}

	for len(r.inFlight) < r.s.workers {
		id, ok := r.tracker.popReady()
		if !ok {
			return
		}

		deps := r.g.Dependencies(id)
		snaps := r.store.collect(deps)

		// A node must never execute with a skip marker among its inputs.
		// The tracker's skip cascade normally resolves such nodes before
		// they can surface as ready; this guard upholds the invariant
		// even if one slips through.
		if cause, found := skippedInput(snaps); found {
			r.resolveSkipped(ctx, id, fmt.Errorf("skipped input from node %q", cause))
			r.markReady(r.tracker.markDone(id))
			continue
		}

		inputs, allIgnored := filterIgnored(snaps)
		if allIgnored {
			r.s.logger.DebugContext(ctx, "all inputs ignored, passing ignore along", "node", id)
			r.resolveIgnored(id)
			continue
		}

		rec := r.store.get(id)
		rec.Status = StatusRunning
		r.inFlight[id] = true
		p.Submit(task{node: id, descriptor: r.g.Node(id).Descriptor, inputs: inputs})

		r.s.logger.DebugContext(ctx, "submitted node",
			"node", id,
			"inputs", len(inputs),
			"in_flight", len(r.inFlight),
		)
	}
}

// handleCompletion applies one worker completion to the run state and
// feeds newly ready successors back to the tracker.
func (r *run) handleCompletion(ctx context.Context, c completion) {
	delete(r.inFlight, c.node)

	rec := r.store.get(c.node)
	rec.StartedAt = c.startedAt
	rec.CompletedAt = c.completedAt
	rec.Duration = c.completedAt.Sub(c.startedAt)

	switch {
	case c.err == nil:
		rec.Status = StatusCompleted
		rec.Value = c.value
		r.terminal++
		r.markReady(r.tracker.markDone(c.node))
		r.s.logger.DebugContext(ctx, "node completed",
			"node", c.node,
			"duration", rec.Duration,
		)

	case errors.Is(c.err, ErrSkipBranch):
		// The node itself ran and asked for its branch to be cancelled.
		// markSkipped cascades to the descendants; markDone still
		// resolves the direct successors' counters, so every successor
		// is accounted for exactly once.
		rec.Status = StatusSkipped
		r.terminal++
		r.s.logger.DebugContext(ctx, "node requested branch skip", "node", c.node)
		r.cascadeSkip(ctx, c.node, nil)
		r.markReady(r.tracker.markDone(c.node))

	case errors.Is(c.err, ErrIgnoreResult):
		rec.Status = StatusIgnored
		r.terminal++
		r.markReady(r.tracker.markDone(c.node))
		r.s.logger.DebugContext(ctx, "node result ignored", "node", c.node)

	default:
		rec.Status = StatusFailed
		rec.Err = c.err
		r.terminal++
		// Nodes torn down by the fail-fast cancellation are not root
		// causes; only genuine executor errors are reported.
		if !(r.halted && errors.Is(c.err, context.Canceled)) {
			r.nodeErrs = append(r.nodeErrs, newNodeError(c.node, c.err))
			r.s.logger.ErrorContext(ctx, "node failed",
				"node", c.node,
				"error", c.err,
			)
		}
		// A failed node's descendants must never run with missing
		// input; they are skipped like a cancelled branch.
		r.cascadeSkip(ctx, c.node, c.err)
		r.markReady(r.tracker.markDone(c.node))

		if r.s.failFast && !r.halted {
			r.halted = true
			r.cancel()
			r.s.logger.WarnContext(ctx, "fail-fast engaged, halting submission",
				"failed_node", c.node,
			)
		}
	}
}

// cascadeSkip resolves every not-yet-skipped descendant of node to
// StatusSkipped. cause is nil for a cooperative ErrSkipBranch and the
// original error when the skip stems from an upstream failure.
func (r *run) cascadeSkip(ctx context.Context, node string, cause error) {
	for _, desc := range r.tracker.markSkipped(node) {
		rec := r.store.get(desc)
		rec.Status = StatusSkipped
		if cause != nil {
			rec.Err = fmt.Errorf("skipped due to upstream failure of %q: %w", node, cause)
		}
		r.terminal++
		r.s.logger.DebugContext(ctx, "skipping descendant node",
			"node", desc,
			"ancestor", node,
		)
	}
}

// resolveSkipped resolves a single never-executed node to StatusSkipped
// and cascades to its descendants, carrying the cause so every affected
// result explains the skip.
func (r *run) resolveSkipped(ctx context.Context, id string, cause error) {
	rec := r.store.get(id)
	rec.Status = StatusSkipped
	rec.Err = cause
	r.terminal++
	r.cascadeSkip(ctx, id, cause)
}

// resolveIgnored resolves a never-executed node to StatusIgnored and
// unlocks its successors.
func (r *run) resolveIgnored(id string) {
	rec := r.store.get(id)
	rec.Status = StatusIgnored
	r.terminal++
	r.markReady(r.tracker.markDone(id))
}

// resolveRemaining resolves every non-terminal node to StatusSkipped
// with the given cause. Used when fail-fast or cancellation ends the run
// before the whole graph has been driven to completion, so that every
// node still reports exactly one terminal status.
func (r *run) resolveRemaining(cause error) {
	for _, rec := range r.store.results {
		if !rec.Status.IsTerminal() {
			rec.Status = StatusSkipped
			rec.Err = cause
			r.terminal++
		}
	}
}

// markReady flags newly ready nodes on their result records.
func (r *run) markReady(ids []string) {
	for _, id := range ids {
		r.store.get(id).Status = StatusReady
	}
}

// pendingNodes returns the IDs of all non-terminal nodes.
func (r *run) pendingNodes() []string {
	var out []string
	for id, rec := range r.store.results {
		if !rec.Status.IsTerminal() {
			out = append(out, id)
		}
	}
	return out
}

// runError folds the collected node errors into the run's error: nil on
// a clean run, the single *NodeError when one node failed, or all node
// errors joined.
func (r *run) runError() error {
	switch len(r.nodeErrs) {
	case 0:
		return nil
	case 1:
		return r.nodeErrs[0]
	default:
		return errors.Join(r.nodeErrs...)
	}
}

// finish stamps counts, duration and the final error onto the result and
// emits the closing log line and span status.
func (r *run) finish(ctx context.Context, span trace.Span, startedAt time.Time, err error) (*Result, error) {
	r.result.Duration = time.Since(startedAt)
	r.result.Err = err

	for _, rec := range r.store.results {
		switch rec.Status {
		case StatusCompleted:
			r.result.NodesCompleted++
		case StatusFailed:
			r.result.NodesFailed++
		case StatusSkipped:
			r.result.NodesSkipped++
		case StatusIgnored:
			r.result.NodesIgnored++
		}
	}

	if span != nil {
		span.SetAttributes(
			attribute.String("run.status", r.result.Status.String()),
			attribute.Int("run.nodes_completed", r.result.NodesCompleted),
			attribute.Int("run.nodes_failed", r.result.NodesFailed),
			attribute.Int("run.nodes_skipped", r.result.NodesSkipped),
		)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if err != nil {
		r.s.logger.ErrorContext(ctx, "run finished with errors",
			"run_id", r.result.RunID,
			"status", r.result.Status,
			"failed", r.result.NodesFailed,
			"duration", r.result.Duration,
			"error", err,
		)
		return r.result, err
	}

	r.s.logger.InfoContext(ctx, "run finished",
		"run_id", r.result.RunID,
		"status", r.result.Status,
		"completed", r.result.NodesCompleted,
		"skipped", r.result.NodesSkipped,
		"duration", r.result.Duration,
	)
	return r.result, nil
}

// skippedInput reports whether any dependency snapshot carries the skip
// marker, returning the first offending dependency.
func skippedInput(snaps []input) (string, bool) {
	for _, in := range snaps {
		if in.status == StatusSkipped {
			return in.node, true
		}
	}
	return "", false
}

// filterIgnored drops ignored dependencies from the input list,
// preserving declared order among the rest. When the node has at least
// one dependency and every one of them resolved ignored, the second
// return is true and the node itself must resolve ignored without
// executing.
func filterIgnored(snaps []input) ([]any, bool) {
	inputs := make([]any, 0, len(snaps))
	for _, in := range snaps {
		if in.status == StatusIgnored {
			continue
		}
		inputs = append(inputs, in.value)
	}
	if len(snaps) > 0 && len(inputs) == 0 {
		return nil, true
	}
	return inputs, false
}
