package scheduler

import (
	"sort"
	"time"

	"github.com/MetOffice/dagrunner/types"
)

// NodeStatus represents the execution status of a graph node.
type NodeStatus string

const (
	// StatusPending indicates the node still has unsatisfied dependencies.
	StatusPending NodeStatus = "pending"

	// StatusReady indicates all dependencies are satisfied but the node
	// has not yet been submitted to a worker.
	StatusReady NodeStatus = "ready"

	// StatusRunning indicates the node has been submitted and its result
	// is outstanding.
	StatusRunning NodeStatus = "running"

	// StatusCompleted indicates the node executed and produced a value.
	StatusCompleted NodeStatus = "completed"

	// StatusFailed indicates the node's executor returned an error or
	// panicked.
	StatusFailed NodeStatus = "failed"

	// StatusSkipped indicates the node resolved without executing because
	// it, or an upstream ancestor, requested branch cancellation, or
	// because an ancestor failed.
	StatusSkipped NodeStatus = "skipped"

	// StatusIgnored indicates the node's result is excluded from
	// downstream input lists.
	StatusIgnored NodeStatus = "ignored"
)

// String returns the string representation of the node status.
func (s NodeStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status is terminal
// (completed, failed, skipped or ignored).
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped, StatusIgnored:
		return true
	default:
		return false
	}
}

// RunStatus represents the overall status of a scheduler run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// String returns the string representation of the run status.
func (s RunStatus) String() string {
	return string(s)
}

// NodeResult is the tagged per-node outcome of a run. Exactly one of the
// terminal statuses applies; Value is only meaningful for
// StatusCompleted, and Err is only set for StatusFailed and for nodes
// skipped as a consequence of an upstream failure or cancellation.
type NodeResult struct {
	// Node is the node's ID.
	Node string `json:"node"`

	// Status is the node's terminal status once the run has finished.
	Status NodeStatus `json:"status"`

	// Value is the result produced by the node's executor. It is nil for
	// skipped, ignored and failed nodes, and may have been released for
	// completed interior nodes when result eviction is enabled.
	Value any `json:"value,omitempty"`

	// Err records why the node failed, or why it was skipped when the
	// skip was caused by a failure or cancellation rather than
	// ErrSkipBranch.
	Err error `json:"-"`

	// StartedAt and CompletedAt bound the executor invocation. Both are
	// zero for nodes that never executed.
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// Result is the complete outcome of one scheduler run.
type Result struct {
	// RunID uniquely identifies this run.
	RunID types.ID `json:"run_id"`

	// GraphID and GraphName identify the executed graph.
	GraphID   types.ID `json:"graph_id"`
	GraphName string   `json:"graph_name"`

	// Status is the overall run status.
	Status RunStatus `json:"status"`

	// Nodes maps every node ID to its result.
	Nodes map[string]*NodeResult `json:"nodes"`

	// Summary counts per terminal status.
	NodesCompleted int `json:"nodes_completed"`
	NodesFailed    int `json:"nodes_failed"`
	NodesSkipped   int `json:"nodes_skipped"`
	NodesIgnored   int `json:"nodes_ignored"`

	// Duration is the wall-clock duration of the whole run.
	Duration time.Duration `json:"duration"`

	// Err is nil when every node completed, was skipped or was ignored.
	// On a failed run it identifies the failing node(s): the first
	// *NodeError under fail-fast, or all node errors joined otherwise.
	Err error `json:"-"`
}

// Value returns the value produced by a node and whether the node
// completed with a value.
func (r *Result) Value(node string) (any, bool) {
	nr, ok := r.Nodes[node]
	if !ok || nr.Status != StatusCompleted {
		return nil, false
	}
	return nr.Value, true
}

// NodeStatus returns the terminal status of a node, or StatusPending if
// the node is unknown.
func (r *Result) NodeStatus(node string) NodeStatus {
	if nr, ok := r.Nodes[node]; ok {
		return nr.Status
	}
	return StatusPending
}

// FailedNodes returns the IDs of all failed nodes in lexical order.
func (r *Result) FailedNodes() []string {
	var out []string
	for id, nr := range r.Nodes {
		if nr.Status == StatusFailed {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
