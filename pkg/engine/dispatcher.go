package engine

import (
	"context"

	"github.com/openpacer/openpacer/pkg/graph"
)

// evaluate is the dispatcher pass. It runs after every message that can
// change eligibility: completion reports, timer expiries, abort requests,
// fencer availability and bridge triggers. Pseudo-action cascades resolve to
// a fixpoint before any remote dispatch is issued, so remote dispatch order
// always reflects the latest known graph state.
func (e *Engine) evaluate(ctx context.Context) {
	if e.state != StateActive && e.state != StateAborting {
		return
	}

	if e.state == StateActive {
		e.confirmPseudoFixpoint()
		for _, a := range e.g.Actions() {
			if e.eligible(a) {
				e.dispatch(ctx, a)
			}
		}
	}

	e.checkCompletion()
}

// confirmPseudoFixpoint dispatches and synchronously confirms every eligible
// pseudo action, repeating until no further action becomes eligible. A chain
// of pseudo actions therefore completes within a single evaluation pass with
// zero remote dispatches.
func (e *Engine) confirmPseudoFixpoint() {
	for {
		progress := false
		for _, a := range e.g.Actions() {
			if !a.Pseudo || !e.eligible(a) {
				continue
			}
			if err := e.g.MarkDispatched(a.ID); err != nil {
				e.log.Error().Err(err).Int("action", a.ID).Msg("pseudo dispatch failed")
				continue
			}
			if err := e.g.MarkConfirmed(a.ID); err != nil {
				e.log.Error().Err(err).Int("action", a.ID).Msg("pseudo confirm failed")
				continue
			}
			e.opts.Metrics.ActionDispatched(a.Task, true)
			e.log.Debug().Str("action", a.Name()).Msg("pseudo action confirmed")
			progress = true
		}
		if !progress {
			return
		}
	}
}

// eligible reports whether an action may be dispatched now: pending,
// runnable, not held by fencer unavailability, and every gating predecessor
// edge satisfied.
func (e *Engine) eligible(a *graph.Action) bool {
	if a.Status != graph.StatusPending || !a.Runnable {
		return false
	}
	if e.held(a) {
		return false
	}
	for _, edge := range e.g.Before(a.ID) {
		if !e.g.EdgeSatisfied(edge) {
			return false
		}
	}
	return true
}

// held reports whether fencing-subsystem unavailability holds this action:
// either the action is itself a fence request, or it waits on an unsatisfied
// fencing-stop edge. Held actions stay pending until reconnect or a timer
// aborts the transition.
func (e *Engine) held(a *graph.Action) bool {
	if e.fencerUp {
		return false
	}
	if a.Task == graph.TaskFence && !a.Pseudo {
		return true
	}
	for _, edge := range e.g.Before(a.ID) {
		if edge.Kind == graph.KindFenceStop && !e.g.EdgeSatisfied(edge) {
			return true
		}
	}
	return false
}

// dispatch hands one remote action to its executor. The handoff runs off the
// evaluation goroutine; only the completion report re-enters the loop.
func (e *Engine) dispatch(ctx context.Context, a *graph.Action) {
	if err := e.g.MarkDispatched(a.ID); err != nil {
		e.log.Error().Err(err).Int("action", a.ID).Msg("dispatch mark failed")
		return
	}
	e.inFlight[a.ID] = struct{}{}
	if a.Timeout > 0 {
		e.timers.ArmAction(a.ID, a.Name(), a.Timeout)
	}
	e.opts.Metrics.ActionDispatched(a.Task, false)
	e.log.Debug().Str("action", a.Name()).Str("node", a.Node).Msg("dispatching action")

	action := *a
	go func() {
		var err error
		if action.Task == graph.TaskFence && e.opts.Fencer != nil {
			err = e.opts.Fencer.RequestFence(ctx, action.Node)
		} else {
			err = e.opts.Executor.Dispatch(ctx, &action)
		}
		if err != nil {
			e.log.Warn().Err(err).Str("action", action.Name()).Msg("dispatch handoff failed")
			e.HandleCompletion(action.ID, false, dispatchExitCode)
		}
	}()
}

// dispatchExitCode marks an action whose handoff to the executor failed
// outright.
const dispatchExitCode = -1

// checkCompletion moves the controller to Complete when the graph is done:
// normally when every mandatory action confirmed and nothing is in flight,
// or after an abort once in-flight actions have drained.
func (e *Engine) checkCompletion() {
	switch e.state {
	case StateAborting:
		if len(e.inFlight) == 0 {
			e.complete()
		}
	case StateActive:
		if len(e.inFlight) == 0 && e.g.AllMandatoryConfirmed() {
			e.complete()
		}
	}
}
