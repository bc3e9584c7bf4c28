package sim

import (
	"context"
	"sync"
	"time"

	"github.com/openpacer/openpacer/pkg/graph"
)

// CompletionTarget receives the synthetic completion reports. It is the
// engine in practice.
type CompletionTarget interface {
	HandleCompletion(actionID int, success bool, code int)
}

// ExecutorOptions configures a synthetic executor.
type ExecutorOptions struct {
	// Latency is the simulated round trip per action.
	Latency time.Duration

	// Failures maps action IDs to the exit code their completion reports.
	// Actions not listed succeed with exit code 0.
	Failures map[int]int

	// Lost holds action IDs whose completion report never arrives, simulating
	// a node or network loss. The per-action timer settles them.
	Lost map[int]bool
}

// Executor is a synthetic remote executor for what-if runs: every dispatch
// succeeds as a handoff, and the completion report follows after the
// configured latency with the configured outcome.
type Executor struct {
	opts ExecutorOptions

	mu         sync.Mutex
	target     CompletionTarget
	dispatched []graph.Action
}

// NewExecutor creates a synthetic executor. SetTarget must be called before
// the first dispatch.
func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.Failures == nil {
		opts.Failures = make(map[int]int)
	}
	if opts.Lost == nil {
		opts.Lost = make(map[int]bool)
	}
	return &Executor{opts: opts}
}

// SetTarget wires the completion sink. Split from the constructor because the
// engine and its executor reference each other.
func (x *Executor) SetTarget(target CompletionTarget) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.target = target
}

// Dispatch implements engine.Executor.
func (x *Executor) Dispatch(ctx context.Context, action *graph.Action) error {
	x.mu.Lock()
	x.dispatched = append(x.dispatched, *action)
	target := x.target
	x.mu.Unlock()

	if x.opts.Lost[action.ID] {
		return nil
	}

	id := action.ID
	rc, failed := x.opts.Failures[id]
	go func() {
		select {
		case <-time.After(x.opts.Latency):
		case <-ctx.Done():
			return
		}
		target.HandleCompletion(id, !failed, rc)
	}()
	return nil
}

// Dispatched returns the actions handed off so far, in dispatch order.
func (x *Executor) Dispatched() []graph.Action {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]graph.Action(nil), x.dispatched...)
}
