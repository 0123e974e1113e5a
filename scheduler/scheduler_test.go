package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/MetOffice/dagrunner/graph"
	"github.com/MetOffice/dagrunner/types"
)

// recordingExecutor remembers which nodes it executed and the inputs each
// received, and delegates the actual behaviour to fn.
type recordingExecutor struct {
	mu     sync.Mutex
	calls  map[string][]any
	fn     ExecutorFunc
	active atomic.Int32
	peak   atomic.Int32
}

func newRecordingExecutor(fn ExecutorFunc) *recordingExecutor {
	return &recordingExecutor{calls: make(map[string][]any), fn: fn}
}

func (e *recordingExecutor) Execute(ctx context.Context, node string, descriptor any, inputs []any) (any, error) {
	active := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		peak := e.peak.Load()
		if active <= peak || e.peak.CompareAndSwap(peak, active) {
			break
		}
	}

	e.mu.Lock()
	e.calls[node] = append([]any(nil), inputs...)
	e.mu.Unlock()

	if e.fn == nil {
		return node, nil
	}
	return e.fn(ctx, node, descriptor, inputs)
}

func (e *recordingExecutor) executed(node string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.calls[node]
	return ok
}

func (e *recordingExecutor) inputs(node string) []any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[node]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewDefaults(t *testing.T) {
	tests := []struct {
		name         string
		opts         []Option
		wantWorkers  int
		wantFailFast bool
		wantInterval time.Duration
	}{
		{
			name:         "defaults",
			opts:         nil,
			wantWorkers:  4,
			wantFailFast: true,
			wantInterval: 500 * time.Millisecond,
		},
		{
			name:         "custom workers and poll interval",
			opts:         []Option{WithWorkers(2), WithPollInterval(50 * time.Millisecond)},
			wantWorkers:  2,
			wantFailFast: true,
			wantInterval: 50 * time.Millisecond,
		},
		{
			name:         "fail fast disabled",
			opts:         []Option{WithFailFast(false)},
			wantWorkers:  4,
			wantFailFast: false,
			wantInterval: 500 * time.Millisecond,
		},
		{
			name:         "invalid values ignored",
			opts:         []Option{WithWorkers(0), WithPollInterval(-time.Second), WithLogger(nil)},
			wantWorkers:  4,
			wantFailFast: true,
			wantInterval: 500 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.opts...)
			assert.Equal(t, tt.wantWorkers, s.workers)
			assert.Equal(t, tt.wantFailFast, s.failFast)
			assert.Equal(t, tt.wantInterval, s.pollInterval)
			assert.NotNil(t, s.logger)
		})
	}
}

func TestRunRejectsInvalidArguments(t *testing.T) {
	s := New(WithLogger(quietLogger()))

	_, err := s.Run(context.Background(), nil, newRecordingExecutor(nil))
	assert.ErrorIs(t, err, types.NewError(types.INVALID_GRAPH, ""))

	_, err = s.Run(context.Background(), diamond(t), nil)
	assert.Error(t, err)
}

// Scenario: diamond a -> {b, c} -> d, executor concatenates its inputs.
// d must observe both b's and c's results, in declared dependency order.
func TestRunDiamondDataflow(t *testing.T) {
	ex := newRecordingExecutor(func(_ context.Context, node string, _ any, inputs []any) (any, error) {
		out := node
		for _, in := range inputs {
			out += "|" + in.(string)
		}
		return out, nil
	})

	s := New(WithWorkers(2), WithLogger(quietLogger()), WithTracer(noop.NewTracerProvider().Tracer("test")))
	res, err := s.Run(context.Background(), diamond(t), ex)
	require.NoError(t, err)

	assert.Equal(t, RunStatusSucceeded, res.Status)
	assert.Equal(t, 4, res.NodesCompleted)
	assert.False(t, res.RunID.IsZero())

	d, ok := res.Value("d")
	require.True(t, ok)
	assert.Contains(t, d, "b|a")
	assert.Contains(t, d, "c|a")

	// Positional inputs arrive in declared dependency order.
	assert.Equal(t, []any{"b|a", "c|a"}, ex.inputs("d"))
	assert.Equal(t, []any{"a"}, ex.inputs("b"))
	assert.Empty(t, ex.inputs("a"))
}

// Scenario: a single root node fails; fail-fast reporting must identify
// the node and carry the original error.
func TestRunSingleNodeFailure(t *testing.T) {
	boom := errors.New("value out of range")
	ex := newRecordingExecutor(func(_ context.Context, node string, _ any, _ []any) (any, error) {
		return nil, boom
	})

	g, err := graph.New("solo").AddNode("a", nil).Build()
	require.NoError(t, err)

	s := New(WithLogger(quietLogger()))
	res, err := s.Run(context.Background(), g, ex)
	require.Error(t, err)

	var nerr *NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "a", nerr.Node)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `"a"`)

	assert.Equal(t, RunStatusFailed, res.Status)
	assert.Equal(t, []string{"a"}, res.FailedNodes())
}

// Scenario: chain a -> b -> c where a requests a branch skip. b and c end
// skipped and their executors are never invoked.
func TestRunSkipBranchCascade(t *testing.T) {
	ex := newRecordingExecutor(func(_ context.Context, node string, _ any, _ []any) (any, error) {
		if node == "a" {
			return nil, ErrSkipBranch
		}
		return node, nil
	})

	g, err := graph.New("chain").
		AddNode("a", nil).AddNode("b", nil).AddNode("c", nil).
		AddEdge("a", "b").AddEdge("b", "c").
		Build()
	require.NoError(t, err)

	s := New(WithLogger(quietLogger()))
	res, err := s.Run(context.Background(), g, ex)
	require.NoError(t, err, "a cooperative skip is not a failure")

	assert.Equal(t, RunStatusSucceeded, res.Status)
	assert.Equal(t, StatusSkipped, res.NodeStatus("a"))
	assert.Equal(t, StatusSkipped, res.NodeStatus("b"))
	assert.Equal(t, StatusSkipped, res.NodeStatus("c"))
	assert.Equal(t, 3, res.NodesSkipped)

	assert.True(t, ex.executed("a"), "the skipping node itself ran")
	assert.False(t, ex.executed("b"))
	assert.False(t, ex.executed("c"))

	_, ok := res.Value("b")
	assert.False(t, ok, "skipped nodes produce no value")
}

// Skip must cut across the whole descendant subgraph: in the diamond,
// skipping b takes out d even though d's other ancestor c completes.
func TestRunSkipWithMultipleAncestors(t *testing.T) {
	ex := newRecordingExecutor(func(_ context.Context, node string, _ any, _ []any) (any, error) {
		if node == "b" {
			return nil, ErrSkipBranch
		}
		return node, nil
	})

	s := New(WithLogger(quietLogger()))
	res, err := s.Run(context.Background(), diamond(t), ex)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.NodeStatus("c"))
	assert.Equal(t, StatusSkipped, res.NodeStatus("d"))
	assert.False(t, ex.executed("d"))
}

// Scenario: four independent roots with a pool of two. All four run, and
// at no sampled instant are more than two executing.
func TestRunBoundedParallelism(t *testing.T) {
	ex := newRecordingExecutor(func(_ context.Context, node string, _ any, _ []any) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return node, nil
	})

	g, err := graph.FromEdges("roots", nil, map[string]any{"r1": 1, "r2": 2, "r3": 3, "r4": 4})
	require.NoError(t, err)

	s := New(WithWorkers(2), WithLogger(quietLogger()))
	res, err := s.Run(context.Background(), g, ex)
	require.NoError(t, err)

	assert.Equal(t, 4, res.NodesCompleted)
	assert.LessOrEqual(t, ex.peak.Load(), int32(2), "in-flight work exceeded the pool size")
}

// With fail-fast and one worker, the failure of the first submitted node
// must prevent any later submission.
func TestRunFailFastHaltsSubmission(t *testing.T) {
	ex := newRecordingExecutor(func(_ context.Context, node string, _ any, _ []any) (any, error) {
		if node == "bad" {
			return nil, errors.New("broken")
		}
		return node, nil
	})

	g, err := graph.FromEdges("halt", nil, map[string]any{"bad": 1, "x": 2, "y": 3})
	require.NoError(t, err)

	s := New(WithWorkers(1), WithFailFast(true), WithLogger(quietLogger()))
	res, err := s.Run(context.Background(), g, ex)
	require.Error(t, err)

	assert.Equal(t, RunStatusFailed, res.Status)
	assert.True(t, ex.executed("bad"))
	assert.False(t, ex.executed("x"), "no new work may start after a fatal failure")
	assert.False(t, ex.executed("y"))
	assert.Equal(t, StatusSkipped, res.NodeStatus("x"))
	assert.Equal(t, StatusSkipped, res.NodeStatus("y"))
	require.NotNil(t, res.Nodes["x"].Err)
	assert.Contains(t, res.Nodes["x"].Err.Error(), "halted")
}

// Without fail-fast, a failure in one branch must not stop a disjoint
// branch from completing, and the failed node's own descendants must
// still be skipped.
func TestRunFailSlowDisjointBranches(t *testing.T) {
	ex := newRecordingExecutor(func(_ context.Context, node string, _ any, _ []any) (any, error) {
		if node == "a1" {
			return nil, errors.New("branch a is broken")
		}
		return node, nil
	})

	g, err := graph.New("branches").
		AddNode("a1", nil).AddNode("a2", nil).
		AddNode("b1", nil).AddNode("b2", nil).
		AddEdge("a1", "a2").
		AddEdge("b1", "b2").
		Build()
	require.NoError(t, err)

	s := New(WithWorkers(2), WithFailFast(false), WithLogger(quietLogger()))
	res, err := s.Run(context.Background(), g, ex)
	require.Error(t, err)

	assert.Equal(t, StatusFailed, res.NodeStatus("a1"))
	assert.Equal(t, StatusSkipped, res.NodeStatus("a2"))
	assert.Equal(t, StatusCompleted, res.NodeStatus("b1"))
	assert.Equal(t, StatusCompleted, res.NodeStatus("b2"))
	assert.False(t, ex.executed("a2"))

	require.NotNil(t, res.Nodes["a2"].Err)
	assert.Contains(t, res.Nodes["a2"].Err.Error(), `upstream failure of "a1"`)

	var nerr *NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "a1", nerr.Node)
}

// Without fail-fast, a consumer fed by both a failing and a completing
// branch must be skipped without executing, while the completing branch
// and independent work still finish. Every node ends terminal.
func TestRunFailSlowSharedConsumer(t *testing.T) {
	ex := newRecordingExecutor(func(_ context.Context, node string, _ any, _ []any) (any, error) {
		if node == "bad" {
			return nil, errors.New("bad input file")
		}
		return node, nil
	})

	g, err := graph.New("shared").
		AddNode("bad", nil).AddNode("good", nil).
		AddNode("join", nil).AddNode("other", nil).
		DependsOn("join", "bad", "good").
		Build()
	require.NoError(t, err)

	s := New(WithWorkers(2), WithFailFast(false), WithLogger(quietLogger()))
	res, err := s.Run(context.Background(), g, ex)
	require.Error(t, err)

	assert.Equal(t, StatusFailed, res.NodeStatus("bad"))
	assert.Equal(t, StatusCompleted, res.NodeStatus("good"))
	assert.Equal(t, StatusCompleted, res.NodeStatus("other"))
	assert.Equal(t, StatusSkipped, res.NodeStatus("join"))
	assert.False(t, ex.executed("join"), "a consumer of a failed node must not run")

	for id, nr := range res.Nodes {
		assert.True(t, nr.Status.IsTerminal(), "node %s left non-terminal", id)
	}

	var nerr *NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "bad", nerr.Node)
	require.NotNil(t, res.Nodes["join"].Err)
	assert.Contains(t, res.Nodes["join"].Err.Error(), `upstream failure of "bad"`)
}

// Without fail-fast, several independent failures are reported together.
func TestRunFailSlowAggregatesErrors(t *testing.T) {
	ex := newRecordingExecutor(func(_ context.Context, node string, _ any, _ []any) (any, error) {
		return nil, fmt.Errorf("%s exploded", node)
	})

	g, err := graph.FromEdges("many", nil, map[string]any{"m": 1, "n": 2})
	require.NoError(t, err)

	s := New(WithWorkers(2), WithFailFast(false), WithLogger(quietLogger()))
	res, err := s.Run(context.Background(), g, ex)
	require.Error(t, err)

	assert.Equal(t, []string{"m", "n"}, res.FailedNodes())
	assert.Contains(t, err.Error(), "m exploded")
	assert.Contains(t, err.Error(), "n exploded")
}

// Ignored results are filtered from downstream inputs; a node whose
// inputs were all ignored resolves ignored without executing.
func TestRunIgnoredResults(t *testing.T) {
	ex := newRecordingExecutor(func(_ context.Context, node string, _ any, inputs []any) (any, error) {
		if node == "quiet" {
			return nil, ErrIgnoreResult
		}
		return node, nil
	})

	// quiet -> sink <- loud, then sink -> tail.
	g, err := graph.New("ignore").
		AddNode("quiet", nil).AddNode("loud", nil).
		AddNode("sink", nil).AddNode("tail", nil).
		DependsOn("sink", "quiet", "loud").
		AddEdge("sink", "tail").
		Build()
	require.NoError(t, err)

	s := New(WithLogger(quietLogger()))
	res, err := s.Run(context.Background(), g, ex)
	require.NoError(t, err)

	assert.Equal(t, StatusIgnored, res.NodeStatus("quiet"))
	assert.Equal(t, StatusCompleted, res.NodeStatus("sink"))
	assert.Equal(t, []any{"loud"}, ex.inputs("sink"), "ignored input filtered out")
}

func TestRunAllInputsIgnoredPassesIgnoreAlong(t *testing.T) {
	ex := newRecordingExecutor(func(_ context.Context, node string, _ any, _ []any) (any, error) {
		if node == "a" {
			return nil, ErrIgnoreResult
		}
		return node, nil
	})

	g, err := graph.New("chain").
		AddNode("a", nil).AddNode("b", nil).AddNode("c", nil).
		AddEdge("a", "b").AddEdge("b", "c").
		Build()
	require.NoError(t, err)

	s := New(WithLogger(quietLogger()))
	res, err := s.Run(context.Background(), g, ex)
	require.NoError(t, err)

	assert.Equal(t, StatusIgnored, res.NodeStatus("a"))
	assert.Equal(t, StatusIgnored, res.NodeStatus("b"))
	assert.Equal(t, StatusIgnored, res.NodeStatus("c"))
	assert.False(t, ex.executed("b"))
	assert.False(t, ex.executed("c"))
	assert.Equal(t, 3, res.NodesIgnored)
}

// A panicking executor surfaces as a failed node, not a crashed run.
func TestRunExecutorPanicIsNodeFailure(t *testing.T) {
	ex := newRecordingExecutor(func(_ context.Context, node string, _ any, _ []any) (any, error) {
		panic("index out of range")
	})

	g, err := graph.New("solo").AddNode("a", nil).Build()
	require.NoError(t, err)

	s := New(WithLogger(quietLogger()))
	res, err := s.Run(context.Background(), g, ex)
	require.Error(t, err)

	var nerr *NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "a", nerr.Node)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, StatusFailed, res.NodeStatus("a"))
}

func TestRunContextCancellation(t *testing.T) {
	release := make(chan struct{})
	ex := newRecordingExecutor(func(ctx context.Context, node string, _ any, _ []any) (any, error) {
		select {
		case <-release:
			return node, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	defer close(release)

	g, err := graph.New("chain").
		AddNode("a", nil).AddNode("b", nil).
		AddEdge("a", "b").
		Build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	s := New(WithPollInterval(10*time.Millisecond), WithLogger(quietLogger()))
	res, err := s.Run(ctx, g, ex)
	require.Error(t, err)

	assert.ErrorIs(t, err, types.NewError(types.RUN_CANCELLED, ""))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, RunStatusCancelled, res.Status)
	assert.False(t, ex.executed("b"))
}

// Liveness on a wider graph: every node reaches a terminal state and the
// run terminates.
func TestRunLargeLayeredGraph(t *testing.T) {
	b := graph.New("layers")
	var prev []string
	for layer := 0; layer < 6; layer++ {
		var current []string
		for i := 0; i < 5; i++ {
			id := fmt.Sprintf("l%d-n%d", layer, i)
			b.AddNode(id, nil)
			current = append(current, id)
		}
		for _, id := range current {
			b.DependsOn(id, prev...)
		}
		prev = current
	}
	g, err := b.Build()
	require.NoError(t, err)

	ex := newRecordingExecutor(func(_ context.Context, node string, _ any, inputs []any) (any, error) {
		return len(inputs), nil
	})

	s := New(WithWorkers(3), WithLogger(quietLogger()))
	res, err := s.Run(context.Background(), g, ex)
	require.NoError(t, err)

	assert.Equal(t, 30, res.NodesCompleted)
	for id, nr := range res.Nodes {
		assert.True(t, nr.Status.IsTerminal(), "node %s left non-terminal", id)
	}
	// Every non-root layer saw all five upstream results.
	v, ok := res.Value("l5-n0")
	require.True(t, ok)
	assert.Equal(t, 5, v)
}

func TestRunResultEviction(t *testing.T) {
	ex := newRecordingExecutor(nil)

	g, err := graph.New("chain").
		AddNode("a", nil).AddNode("b", nil).
		AddEdge("a", "b").
		Build()
	require.NoError(t, err)

	s := New(WithResultEviction(true), WithLogger(quietLogger()))
	res, err := s.Run(context.Background(), g, ex)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.NodeStatus("a"))
	assert.Nil(t, res.Nodes["a"].Value, "interior value released after its last consumer")

	v, ok := res.Value("b")
	require.True(t, ok)
	assert.Equal(t, "b", v, "leaf values are never evicted")
}

// Resolving a never-executed node as skipped must carry the cause to
// every descendant's result, not only the node itself.
func TestResolveSkippedPropagatesCause(t *testing.T) {
	g := diamond(t)
	r := &run{
		s:       New(WithLogger(quietLogger())),
		g:       g,
		tracker: newTracker(g),
		store:   newStore(g, false),
	}

	cause := fmt.Errorf("skipped input from node %q", "a")
	r.resolveSkipped(context.Background(), "b", cause)

	assert.Equal(t, StatusSkipped, r.store.get("b").Status)
	assert.ErrorIs(t, r.store.get("b").Err, cause)

	d := r.store.get("d")
	assert.Equal(t, StatusSkipped, d.Status)
	require.NotNil(t, d.Err)
	assert.ErrorIs(t, d.Err, cause)
	assert.Contains(t, d.Err.Error(), `upstream failure of "b"`)
}

func TestRunRecordsTimings(t *testing.T) {
	ex := newRecordingExecutor(func(_ context.Context, node string, _ any, _ []any) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return node, nil
	})

	g, err := graph.New("solo").AddNode("a", nil).Build()
	require.NoError(t, err)

	s := New(WithLogger(quietLogger()))
	res, err := s.Run(context.Background(), g, ex)
	require.NoError(t, err)

	nr := res.Nodes["a"]
	assert.False(t, nr.StartedAt.IsZero())
	assert.False(t, nr.CompletedAt.IsZero())
	assert.GreaterOrEqual(t, nr.Duration, 10*time.Millisecond)
	assert.GreaterOrEqual(t, res.Duration, nr.Duration)
}

// Descriptors reach the executor verbatim.
func TestRunForwardsDescriptors(t *testing.T) {
	type call struct{ Plugin string }

	var mu sync.Mutex
	seen := map[string]any{}
	ex := ExecutorFunc(func(_ context.Context, node string, descriptor any, _ []any) (any, error) {
		mu.Lock()
		seen[node] = descriptor
		mu.Unlock()
		return node, nil
	})

	g, err := graph.New("desc").
		AddNode("a", call{Plugin: "fetch"}).
		Build()
	require.NoError(t, err)

	s := New(WithLogger(quietLogger()))
	_, err = s.Run(context.Background(), g, ex)
	require.NoError(t, err)

	assert.Equal(t, call{Plugin: "fetch"}, seen["a"])
}
