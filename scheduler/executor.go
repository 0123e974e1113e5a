package scheduler

import (
	"context"
	"errors"
)

// ErrSkipBranch is returned by an Executor to request branch cancellation,
// in the manner of fs.SkipDir: it is not reported as a failure. The node
// resolves to StatusSkipped and every descendant is skipped without being
// executed.
var ErrSkipBranch = errors.New("dagrunner: skip branch")

// ErrIgnoreResult is returned by an Executor to mark its result as
// ignored. Ignored values are filtered out of downstream input lists; a
// node all of whose dependencies resolved ignored is itself ignored
// without being executed.
var ErrIgnoreResult = errors.New("dagrunner: ignore result")

// Executor turns a node's work descriptor and its dependency results into
// a result value. It is the single injected collaborator of the
// scheduler; how the descriptor is resolved to runnable work (registry
// lookup, reflection, plain function dispatch) is entirely the caller's
// concern.
//
// The inputs slice holds the dependency results in exactly the order the
// node's dependencies were declared. Execute may return ErrSkipBranch or
// ErrIgnoreResult to signal branch control; any other error marks the
// node failed. Implementations must honour ctx cancellation for long
// running work.
//
// Execute is called from worker goroutines and must be safe for
// concurrent use.
type Executor interface {
	Execute(ctx context.Context, node string, descriptor any, inputs []any) (any, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, node string, descriptor any, inputs []any) (any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, node string, descriptor any, inputs []any) (any, error) {
	return f(ctx, node, descriptor, inputs)
}
