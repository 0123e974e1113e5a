package scheduler

import (
	"fmt"
	"sort"

	"github.com/MetOffice/dagrunner/types"
)

// NodeError reports that a node's executor invocation failed. It wraps
// the original executor error (or recovered panic) and carries the
// types.NODE_EXECUTION_FAILED code.
type NodeError struct {
	// Node is the ID of the failing node.
	Node string

	err types.Error
}

func newNodeError(node string, cause error) *NodeError {
	return &NodeError{
		Node: node,
		err: types.Error{
			Code:    types.NODE_EXECUTION_FAILED,
			Message: fmt.Sprintf("execution of node %q failed", node),
			Cause:   cause,
		},
	}
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return e.err.Error()
}

// Unwrap exposes the underlying *types.Error, so errors.Is matches the
// NODE_EXECUTION_FAILED code and the executor's error remains reachable.
func (e *NodeError) Unwrap() error {
	return &e.err
}

// newDeadlockError reports the "no ready nodes, nothing in flight, yet
// non-terminal nodes remain" condition. It indicates a bookkeeping bug
// in the scheduler and is always fatal.
func newDeadlockError(pending []string) *types.Error {
	sort.Strings(pending)
	return types.NewError(types.INTERNAL_DEADLOCK,
		fmt.Sprintf("no runnable work but nodes remain unfinished: %v", pending))
}

// newCancelledError reports that the run context was cancelled before
// the graph finished.
func newCancelledError(cause error) *types.Error {
	return types.WrapError(types.RUN_CANCELLED, "run cancelled before completion", cause)
}
