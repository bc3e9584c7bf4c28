package engine

import (
	"context"

	"github.com/openpacer/openpacer/pkg/graph"
)

// Executor dispatches actions to the local resource executor on a cluster
// node. Dispatch is a handoff: the eventual outcome arrives asynchronously
// through Engine.HandleCompletion, possibly never (node or network loss).
type Executor interface {
	// Dispatch hands an action to the remote executor. A non-nil error
	// means the handoff itself failed and the action is recorded as failed
	// immediately.
	Dispatch(ctx context.Context, action *graph.Action) error
}

// FenceRequester is the slice of the fencing subsystem the engine needs to
// dispatch fence actions.
type FenceRequester interface {
	// RequestFence asks the fencing subsystem to isolate a node. The ack is
	// for the request only; the fence outcome arrives as a completion
	// report.
	RequestFence(ctx context.Context, node string) error
}

// Fencer is the full consumed interface of the fencing subsystem.
type Fencer interface {
	FenceRequester

	// SubscribeAvailability registers a handler invoked with true on
	// (re)connect and false on disconnect. It returns an unsubscribe
	// function.
	SubscribeAvailability(handler func(up bool)) (func(), error)
}

// Diff is one configuration-store change notification.
type Diff struct {
	// Version is the store's document version after the change.
	Version int64

	// ConfigChanged is true when the change touches configuration rather
	// than recorded status. Configuration changes invalidate an in-flight
	// plan.
	ConfigChanged bool

	// Payload is the raw diff document.
	Payload []byte
}

// ConfigStore is the consumed interface of the replicated configuration
// store.
type ConfigStore interface {
	// QueryCurrent returns the current configuration document.
	QueryCurrent(ctx context.Context) ([]byte, error)

	// SubscribeDiff registers a handler for change notifications and
	// returns an unsubscribe function.
	SubscribeDiff(handler func(Diff)) (func(), error)

	// WriteBack records a result document in the store.
	WriteBack(ctx context.Context, doc []byte) error
}

// Notifier receives the upward graph-complete notification consumed by the
// enclosing cluster state machine.
type Notifier interface {
	TransitionComplete(summary graph.Summary)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(summary graph.Summary)

// TransitionComplete implements Notifier.
func (f NotifierFunc) TransitionComplete(summary graph.Summary) { f(summary) }
