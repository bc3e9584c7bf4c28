// Package engine implements the transition engine: it accepts a planned
// transition graph, dispatches actions as their ordering constraints are
// satisfied, and reduces concurrent abort requests into a single outcome for
// the transition.
//
// All graph state is owned by one evaluation goroutine. Public methods post
// messages into a mailbox consumed by that goroutine; only the remote
// dispatch handoff and the resulting completion reports are asynchronous.
// Timer expiries, fencer availability changes and event-bridge callbacks all
// funnel through the same mailbox, so no locking is needed around the graph
// itself.
//
// A transition ends in exactly one of two ways: every mandatory action is
// confirmed, or an abort wins and in-flight actions drain. Either way the
// completion summary is published once, and the recorded completion action
// decides whether the controller replans or halts.
package engine
