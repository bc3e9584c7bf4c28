// Package graph provides the transition graph model: actions, ordering
// edges, per-action runtime status, and the abort metadata for one planning
// cycle.
//
// A Graph is created fresh per planning cycle from a JSON document
// (ParseDocument) and is immutable after load except through the Mark* status
// transitions and the RecordAbort reducer. Actions move monotonically through
// pending -> dispatched -> confirmed|failed; edges record whether their
// constraint has been satisfied by the predecessor's outcome.
//
// The package has no opinion on scheduling. Dispatch eligibility and the
// evaluation loop live in pkg/engine; graph only answers structural questions
// such as EdgeSatisfied and AllMandatoryConfirmed.
package graph
