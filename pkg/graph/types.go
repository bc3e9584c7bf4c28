package graph

import (
	"fmt"
	"time"
)

// ActionStatus represents the runtime status of a single action.
type ActionStatus string

const (
	// StatusPending indicates the action has not been dispatched yet.
	StatusPending ActionStatus = "pending"

	// StatusDispatched indicates the action has been handed to an executor
	// and a completion report is outstanding.
	StatusDispatched ActionStatus = "dispatched"

	// StatusConfirmed indicates the action completed successfully.
	StatusConfirmed ActionStatus = "confirmed"

	// StatusFailed indicates the action completed unsuccessfully.
	StatusFailed ActionStatus = "failed"
)

// IsTerminal returns true if the status is final for this graph instance.
func (s ActionStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// EdgeKind classifies an ordering edge and determines whether it gates
// dispatch of its successor.
type EdgeKind string

const (
	// KindOrdering is a plain ordering constraint. The successor may not be
	// dispatched until the predecessor is satisfied.
	KindOrdering EdgeKind = "ordering"

	// KindFenceStop orders resource stops after a fence completes. It gates
	// like an ordering edge, and while the fencing subsystem is unavailable
	// the successor is held rather than failed.
	KindFenceStop EdgeKind = "fence_stop"

	// KindLoad is a load/capacity placement hint. It is advisory and never
	// gates dispatch.
	KindLoad EdgeKind = "load"

	// KindNone marks a suppressed edge that is kept for diagnostics only.
	KindNone EdgeKind = "none"
)

// Gates returns true if edges of this kind block dispatch of the successor.
func (k EdgeKind) Gates() bool {
	return k == KindOrdering || k == KindFenceStop
}

// CompletionAction is what the engine does once a graph reaches completion.
type CompletionAction string

const (
	// CompletionNone leaves the next step to the enclosing cluster state
	// machine.
	CompletionNone CompletionAction = "none"

	// CompletionStop halts dispatch until the engine is explicitly
	// restarted.
	CompletionStop CompletionAction = "stop"

	// CompletionRestart re-invokes plan computation and expects a fresh
	// graph to be loaded.
	CompletionRestart CompletionAction = "restart"
)

// severity orders completion actions for equal-priority abort reduction:
// stop outranks restart outranks none.
func (a CompletionAction) severity() int {
	switch a {
	case CompletionStop:
		return 2
	case CompletionRestart:
		return 1
	default:
		return 0
	}
}

// AbortPriority ranks concurrent abort requests. A recorded abort is replaced
// by one of strictly higher priority, or by an equal-priority request whose
// completion action is more severe.
type AbortPriority int

const (
	// PriorityNone is the zero value; no abort recorded.
	PriorityNone AbortPriority = 0

	// PriorityExternalEvent covers configuration-store changes and other
	// out-of-band invalidations.
	PriorityExternalEvent AbortPriority = 10

	// PriorityActionFailed covers a mandatory action reporting failure.
	PriorityActionFailed AbortPriority = 100

	// PriorityTimeout covers transition-level and per-action deadline
	// expiry.
	PriorityTimeout AbortPriority = 500

	// PriorityCancel covers an explicit cancel or halt from a peer; it
	// outranks everything else.
	PriorityCancel AbortPriority = 1000000
)

// String names the priority band for logs and metrics labels.
func (p AbortPriority) String() string {
	switch {
	case p >= PriorityCancel:
		return "peer-cancel"
	case p >= PriorityTimeout:
		return "timeout"
	case p >= PriorityActionFailed:
		return "action-failed"
	case p > PriorityNone:
		return "external-event"
	default:
		return "none"
	}
}

// TaskFence is the task name of a node-fencing action. Fence actions are
// routed to the fencing subsystem instead of the remote executor.
const TaskFence = "fence"

// Action is one unit of work in a transition graph.
type Action struct {
	// ID uniquely identifies the action within its graph.
	ID int

	// Task is the operation name (start, stop, monitor, notify, fence, ...).
	Task string

	// Node is the cluster node the action targets, if any.
	Node string

	// Resource is the owning resource reference, if any.
	Resource string

	// Pseudo actions have no remote effect and exist purely as
	// synchronization points. They confirm synchronously on dispatch.
	Pseudo bool

	// Optional actions may fail or be skipped without failing the
	// transition.
	Optional bool

	// Runnable is false when the action's prerequisites can no longer be
	// satisfied.
	Runnable bool

	// Timeout bounds a single dispatch of this action; zero means the
	// transition-level timer is the only bound.
	Timeout time.Duration

	// Status is the action's runtime status.
	Status ActionStatus

	// ExitCode is the executor-reported code once the action is terminal.
	ExitCode int
}

// Name returns a stable human-readable identity used in logs and DOT output.
func (a *Action) Name() string {
	switch {
	case a.Resource != "" && a.Node != "":
		return fmt.Sprintf("%s_%s_%s_%d", a.Task, a.Resource, a.Node, a.ID)
	case a.Node != "":
		return fmt.Sprintf("%s_%s_%d", a.Task, a.Node, a.ID)
	case a.Resource != "":
		return fmt.Sprintf("%s_%s_%d", a.Task, a.Resource, a.ID)
	default:
		return fmt.Sprintf("%s_%d", a.Task, a.ID)
	}
}

// Mandatory returns true if the action must confirm for the graph to
// complete normally.
func (a *Action) Mandatory() bool {
	return !a.Optional
}

// Edge is an ordering constraint between two actions, identified by action
// IDs rather than pointers so that the graph stays an acyclic value.
type Edge struct {
	// From is the predecessor action ID.
	From int

	// To is the successor action ID.
	To int

	// Kind determines whether the edge gates dispatch.
	Kind EdgeKind

	// Satisfied is set once the predecessor outcome releases the edge.
	Satisfied bool
}

// Summary is the upward notification payload produced when a graph reaches
// completion.
type Summary struct {
	UUID      string           `json:"uuid"`
	Source    string           `json:"source"`
	Confirmed int              `json:"confirmed"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	Aborted   bool             `json:"aborted"`
	Reason    string           `json:"reason,omitempty"`
	Action    CompletionAction `json:"completion_action"`
	Actions   []ActionOutcome  `json:"actions,omitempty"`
}

// ActionOutcome is the terminal state of one action as reported in a Summary.
type ActionOutcome struct {
	ID       int          `json:"id"`
	Name     string       `json:"name"`
	Task     string       `json:"task"`
	Node     string       `json:"node,omitempty"`
	Resource string       `json:"resource,omitempty"`
	Pseudo   bool         `json:"pseudo,omitempty"`
	Optional bool         `json:"optional,omitempty"`
	Status   ActionStatus `json:"status"`
	ExitCode int          `json:"exit_code,omitempty"`
}
