package graph

import (
	"fmt"
	"time"
)

// Graph is the transition graph for one planning cycle: a dense arena of
// actions plus the ordering edges between them. The engine owns exactly one
// current graph at a time and all mutation happens through the Mark* and
// RecordAbort methods on the engine's evaluation goroutine; Graph itself does
// no locking.
type Graph struct {
	// Source names the planner input this graph was derived from.
	Source string

	// Timeout bounds total transition wall-clock time.
	Timeout time.Duration

	// OnFailure is the completion action requested when a mandatory action
	// fails. Defaults to CompletionRestart.
	OnFailure CompletionAction

	actions []*Action
	index   map[int]int
	edges   []Edge

	// before and after map an action ID to the indexes of its inbound and
	// outbound edges in edges.
	before map[int][]int
	after  map[int][]int

	abortPriority AbortPriority
	abortReason   string
	completion    CompletionAction
}

// Blank returns an empty, already-completed placeholder graph. It is
// installed on engine start so that stray dispatch queries before the first
// real graph are safe no-ops.
func Blank(reason string) *Graph {
	return &Graph{
		Source:        "none",
		OnFailure:     CompletionRestart,
		index:         map[int]int{},
		before:        map[int][]int{},
		after:         map[int][]int{},
		abortPriority: PriorityCancel,
		abortReason:   reason,
		completion:    CompletionRestart,
	}
}

// Len returns the number of actions in the graph.
func (g *Graph) Len() int { return len(g.actions) }

// Actions returns the graph's actions in document order. Callers must not
// mutate statuses directly.
func (g *Graph) Actions() []*Action { return g.actions }

// Action returns the action with the given ID, or nil.
func (g *Graph) Action(id int) *Action {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.actions[i]
}

// Edges returns all ordering edges.
func (g *Graph) Edges() []Edge { return g.edges }

// Before returns the inbound edges of the given action.
func (g *Graph) Before(id int) []Edge {
	out := make([]Edge, 0, len(g.before[id]))
	for _, i := range g.before[id] {
		out = append(out, g.edges[i])
	}
	return out
}

// MarkDispatched moves a pending action to dispatched.
func (g *Graph) MarkDispatched(id int) error {
	a := g.Action(id)
	if a == nil {
		return fmt.Errorf("unknown action %d", id)
	}
	if a.Status != StatusPending {
		return fmt.Errorf("action %s is %s, not pending", a.Name(), a.Status)
	}
	a.Status = StatusDispatched
	return nil
}

// MarkConfirmed moves a dispatched action to confirmed and releases its
// outbound edges.
func (g *Graph) MarkConfirmed(id int) error {
	a := g.Action(id)
	if a == nil {
		return fmt.Errorf("unknown action %d", id)
	}
	if a.Status != StatusDispatched {
		return fmt.Errorf("action %s is %s, not dispatched", a.Name(), a.Status)
	}
	a.Status = StatusConfirmed
	for _, i := range g.after[id] {
		g.edges[i].Satisfied = true
	}
	return nil
}

// MarkFailed moves a dispatched action to failed with the executor-reported
// code. Outbound edges of an optional action are still released; a failed
// mandatory action instead clears the runnable flag on every transitive
// successor reachable over gating edges, since those can never dispatch.
func (g *Graph) MarkFailed(id, code int) error {
	a := g.Action(id)
	if a == nil {
		return fmt.Errorf("unknown action %d", id)
	}
	if a.Status != StatusDispatched {
		return fmt.Errorf("action %s is %s, not dispatched", a.Name(), a.Status)
	}
	a.Status = StatusFailed
	a.ExitCode = code

	if a.Optional {
		for _, i := range g.after[id] {
			g.edges[i].Satisfied = true
		}
		return nil
	}

	g.blockSuccessors(id)
	return nil
}

// blockSuccessors clears Runnable on every pending action downstream of id
// over gating edges.
func (g *Graph) blockSuccessors(id int) {
	for _, i := range g.after[id] {
		e := g.edges[i]
		if !e.Kind.Gates() {
			continue
		}
		succ := g.Action(e.To)
		if succ == nil || succ.Status.IsTerminal() || !succ.Runnable {
			continue
		}
		succ.Runnable = false
		g.blockSuccessors(e.To)
	}
}

// EdgeSatisfied reports whether a single edge no longer gates its successor:
// the predecessor confirmed, or an optional predecessor failed, or the edge
// kind is advisory.
func (g *Graph) EdgeSatisfied(e Edge) bool {
	if !e.Kind.Gates() {
		return true
	}
	pred := g.Action(e.From)
	if pred == nil {
		return true
	}
	switch pred.Status {
	case StatusConfirmed:
		return true
	case StatusFailed:
		return pred.Optional
	default:
		return false
	}
}

// RecordAbort applies an abort request to the graph's abort metadata using a
// highest-priority-wins reducer. At equal priority the more severe completion
// action wins, so a peer halt still overrides an earlier peer cancel. It
// returns true if the request was recorded.
func (g *Graph) RecordAbort(priority AbortPriority, reason string, action CompletionAction) bool {
	if priority < g.abortPriority {
		return false
	}
	if priority == g.abortPriority && action.severity() <= g.completion.severity() {
		return false
	}
	g.abortPriority = priority
	g.abortReason = reason
	g.completion = action
	return true
}

// Aborted reports whether an abort has been recorded.
func (g *Graph) Aborted() bool { return g.abortPriority > PriorityNone }

// AbortReason returns the recorded first-cause abort reason, or "".
func (g *Graph) AbortReason() string { return g.abortReason }

// AbortPriority returns the priority of the recorded abort.
func (g *Graph) AbortPriority() AbortPriority { return g.abortPriority }

// Completion returns the completion action that won the abort reduction, or
// CompletionNone for a normally completing graph.
func (g *Graph) Completion() CompletionAction {
	if g.completion == "" {
		return CompletionNone
	}
	return g.completion
}

// AllMandatoryConfirmed reports whether every non-pseudo, non-optional action
// is confirmed. Pseudo actions count once confirmed through the dispatch
// cascade.
func (g *Graph) AllMandatoryConfirmed() bool {
	for _, a := range g.actions {
		if a.Optional {
			continue
		}
		if a.Status != StatusConfirmed {
			return false
		}
	}
	return true
}

// Summarize produces the completion summary for upward notification.
func (g *Graph) Summarize(uuid string) Summary {
	s := Summary{
		UUID:    uuid,
		Source:  g.Source,
		Aborted: g.Aborted(),
		Reason:  g.abortReason,
		Action:  g.Completion(),
	}
	for _, a := range g.actions {
		switch a.Status {
		case StatusConfirmed:
			s.Confirmed++
		case StatusFailed:
			s.Failed++
		default:
			s.Skipped++
		}
		s.Actions = append(s.Actions, ActionOutcome{
			ID:       a.ID,
			Name:     a.Name(),
			Task:     a.Task,
			Node:     a.Node,
			Resource: a.Resource,
			Pseudo:   a.Pseudo,
			Optional: a.Optional,
			Status:   a.Status,
			ExitCode: a.ExitCode,
		})
	}
	return s
}
