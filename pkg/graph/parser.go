package graph

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/openpacer/openpacer/pkg/datetime"
)

// MalformedError reports a structural or content defect in a graph intake
// document. It is local to the load attempt: the engine stays idle and the
// error is returned to the caller.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed graph: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed graph: %s", e.Reason)
}

func (e *MalformedError) Unwrap() error { return e.Err }

func malformed(format string, args ...interface{}) error {
	return &MalformedError{Reason: fmt.Sprintf(format, args...)}
}

// Document is the wire form of a transition graph as produced by the plan
// generator. Durations use ISO 8601 syntax.
type Document struct {
	// Source names the planner input (e.g. a policy engine invocation id).
	Source string `json:"source" validate:"required"`

	// Timeout bounds total transition time; empty means no transition timer.
	Timeout string `json:"timeout,omitempty"`

	// OnFailure is the completion action after a mandatory action failure.
	OnFailure string `json:"on_failure,omitempty" validate:"omitempty,oneof=none stop restart"`

	Actions []ActionDocument `json:"actions" validate:"dive"`
	Edges   []EdgeDocument   `json:"edges" validate:"dive"`
}

// ActionDocument is one action entry in a graph document.
type ActionDocument struct {
	ID       int    `json:"id" validate:"min=0"`
	Task     string `json:"task" validate:"required"`
	Node     string `json:"node,omitempty"`
	Resource string `json:"resource,omitempty"`
	Pseudo   bool   `json:"pseudo,omitempty"`
	Optional bool   `json:"optional,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// EdgeDocument is one ordering edge entry in a graph document.
type EdgeDocument struct {
	From int    `json:"from" validate:"min=0"`
	To   int    `json:"to" validate:"min=0"`
	Kind string `json:"kind,omitempty" validate:"omitempty,oneof=ordering fence_stop load none"`
}

var validate = validator.New()

// ParseDocument decodes and validates a JSON graph document. It fails with a
// MalformedError on undecodable input, duplicate or unknown action
// references, or a cycle among gating edges.
func ParseDocument(data []byte) (*Graph, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &MalformedError{Reason: "undecodable document", Err: err}
	}
	if err := validate.Struct(doc); err != nil {
		return nil, &MalformedError{Reason: "invalid document", Err: err}
	}
	return FromDocument(&doc)
}

// FromDocument builds a Graph from an already-decoded document.
func FromDocument(doc *Document) (*Graph, error) {
	g := &Graph{
		Source:    doc.Source,
		OnFailure: CompletionRestart,
		index:     make(map[int]int, len(doc.Actions)),
		before:    map[int][]int{},
		after:     map[int][]int{},
	}
	if doc.OnFailure != "" {
		g.OnFailure = CompletionAction(doc.OnFailure)
	}
	if doc.Timeout != "" {
		d, err := datetime.ParseDuration(doc.Timeout)
		if err != nil {
			return nil, &MalformedError{Reason: "invalid transition timeout", Err: err}
		}
		g.Timeout = d
	}

	for _, ad := range doc.Actions {
		if _, dup := g.index[ad.ID]; dup {
			return nil, malformed("duplicate action id %d", ad.ID)
		}
		a := &Action{
			ID:       ad.ID,
			Task:     ad.Task,
			Node:     ad.Node,
			Resource: ad.Resource,
			Pseudo:   ad.Pseudo,
			Optional: ad.Optional,
			Runnable: true,
			Status:   StatusPending,
		}
		if ad.Timeout != "" {
			d, err := datetime.ParseDuration(ad.Timeout)
			if err != nil {
				return nil, &MalformedError{Reason: fmt.Sprintf("invalid timeout on action %d", ad.ID), Err: err}
			}
			a.Timeout = d
		}
		g.index[a.ID] = len(g.actions)
		g.actions = append(g.actions, a)
	}

	for _, ed := range doc.Edges {
		if g.Action(ed.From) == nil {
			return nil, malformed("edge references unknown action %d", ed.From)
		}
		if g.Action(ed.To) == nil {
			return nil, malformed("edge references unknown action %d", ed.To)
		}
		if ed.From == ed.To {
			return nil, malformed("edge from action %d to itself", ed.From)
		}
		kind := KindOrdering
		if ed.Kind != "" {
			kind = EdgeKind(ed.Kind)
		}
		i := len(g.edges)
		g.edges = append(g.edges, Edge{From: ed.From, To: ed.To, Kind: kind})
		g.before[ed.To] = append(g.before[ed.To], i)
		g.after[ed.From] = append(g.after[ed.From], i)
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, malformed("cycle among gating edges: %s", formatCycle(g, cycle))
	}

	return g, nil
}

// findCycle runs a depth-first search over gating edges and returns the first
// cycle found as a list of action IDs, or nil.
func (g *Graph) findCycle() []int {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[int]int, len(g.actions))
	var stack []int

	var visit func(id int) []int
	visit = func(id int) []int {
		state[id] = inStack
		stack = append(stack, id)
		for _, i := range g.after[id] {
			e := g.edges[i]
			if !e.Kind.Gates() {
				continue
			}
			switch state[e.To] {
			case unvisited:
				if cycle := visit(e.To); cycle != nil {
					return cycle
				}
			case inStack:
				for s, sid := range stack {
					if sid == e.To {
						return append(append([]int{}, stack[s:]...), e.To)
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, a := range g.actions {
		if state[a.ID] == unvisited {
			if cycle := visit(a.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func formatCycle(g *Graph, cycle []int) string {
	out := ""
	for i, id := range cycle {
		if i > 0 {
			out += " -> "
		}
		if a := g.Action(id); a != nil {
			out += a.Name()
		} else {
			out += fmt.Sprint(id)
		}
	}
	return out
}
