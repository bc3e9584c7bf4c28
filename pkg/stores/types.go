package stores

import (
	"time"

	"github.com/openpacer/openpacer/pkg/graph"
)

// TransitionRecord is one row of transition history: the outcome of a single
// graph instance from installation to completion.
type TransitionRecord struct {
	// UUID identifies the transition instance.
	UUID string `json:"uuid"`

	// Source names the input the graph was planned from.
	Source string `json:"source"`

	// StartedAt is when the graph was installed.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the transition reached its terminal state.
	CompletedAt time.Time `json:"completed_at"`

	// Confirmed, Failed and Skipped count action outcomes.
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	// Aborted reports whether an abort won the transition.
	Aborted bool `json:"aborted"`

	// AbortReason is the winning abort's reason, empty when not aborted.
	AbortReason string `json:"abort_reason,omitempty"`

	// CompletionAction is the follow-up the completed transition requested.
	CompletionAction string `json:"completion_action"`

	// Actions holds the per-action outcomes. Populated by GetTransition;
	// ListTransitions leaves it empty.
	Actions []ActionRecord `json:"actions,omitempty"`
}

// ActionRecord is the stored outcome of one action in a transition.
type ActionRecord struct {
	ActionID int    `json:"action_id"`
	Name     string `json:"name"`
	Task     string `json:"task"`
	Node     string `json:"node,omitempty"`
	Resource string `json:"resource,omitempty"`
	Pseudo   bool   `json:"pseudo"`
	Optional bool   `json:"optional"`
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code"`
}

// RecordFromSummary builds a history record, action rows included, from a
// completion summary and the transition's start and completion timestamps.
func RecordFromSummary(sum graph.Summary, started, completed time.Time) *TransitionRecord {
	rec := &TransitionRecord{
		UUID:             sum.UUID,
		Source:           sum.Source,
		StartedAt:        started,
		CompletedAt:      completed,
		Confirmed:        sum.Confirmed,
		Failed:           sum.Failed,
		Skipped:          sum.Skipped,
		Aborted:          sum.Aborted,
		AbortReason:      sum.Reason,
		CompletionAction: string(sum.Action),
	}
	for _, a := range sum.Actions {
		rec.Actions = append(rec.Actions, ActionRecord{
			ActionID: a.ID,
			Name:     a.Name,
			Task:     a.Task,
			Node:     a.Node,
			Resource: a.Resource,
			Pseudo:   a.Pseudo,
			Optional: a.Optional,
			Status:   string(a.Status),
			ExitCode: a.ExitCode,
		})
	}
	return rec
}
