package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openpacer/openpacer/pkg/datetime"
	"github.com/openpacer/openpacer/pkg/graph"
	"github.com/openpacer/openpacer/pkg/telemetry"
)

// State is the abort/restart controller state for the current graph
// instance.
type State string

const (
	// StateIdle means the engine is not running or holds no graph.
	StateIdle State = "idle"

	// StateActive means dispatch is proceeding.
	StateActive State = "active"

	// StateAborting means an abort was accepted: no new dispatches are
	// issued and in-flight actions are draining.
	StateAborting State = "aborting"

	// StateComplete is terminal for the graph instance; a new graph may be
	// loaded.
	StateComplete State = "complete"
)

// Options configures an Engine.
type Options struct {
	// Executor dispatches non-fence actions. Required.
	Executor Executor

	// Fencer dispatches fence actions. When nil, fence actions are routed
	// to the Executor (the simulator does this).
	Fencer FenceRequester

	// Notifier receives the graph-complete summary. Optional.
	Notifier Notifier

	// IsCoordinator guards Start. When set and returning false, Start
	// fails with NOT_COORDINATOR.
	IsCoordinator func() bool

	// OnRestart is invoked when a completed graph requests replanning.
	OnRestart func(reason string)

	// OnHalt is invoked when a completed graph requests an engine halt.
	OnHalt func(reason string)

	// Logger is the engine's structured logger.
	Logger *telemetry.Logger

	// Metrics records engine metrics. Optional.
	Metrics *telemetry.Metrics

	// Tracer opens a span per transition. Optional.
	Tracer *telemetry.Tracer

	// Clock supplies timestamps; defaults to the system clock.
	Clock datetime.Clock

	// MailboxSize bounds the inbound message queue. Defaults to 256.
	MailboxSize int
}

// Engine is the transition engine: it owns the current transition graph and
// serializes all graph mutation, timer expiry and event-bridge callbacks onto
// a single evaluation goroutine. Remote dispatch handoffs and completion
// reports are the only genuinely asynchronous events.
type Engine struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	running bool
	mailbox chan message
	done    chan struct{}

	// Everything below is owned by the evaluation goroutine.
	state    State
	g        *graph.Graph
	uuid     string
	started  time.Time
	timers   *TimerService
	inFlight map[int]struct{}
	fencerUp bool
	span     trace.Span
}

// Status is a point-in-time snapshot of the engine.
type Status struct {
	State    State  `json:"state"`
	UUID     string `json:"uuid,omitempty"`
	Source   string `json:"source,omitempty"`
	InFlight int    `json:"in_flight"`
}

// New creates an engine. The executor is required; everything else is
// optional.
func New(opts Options) (*Engine, error) {
	if opts.Executor == nil {
		return nil, NewError(CodeStopped, "executor is required")
	}
	if opts.Clock == nil {
		opts.Clock = datetime.SystemClock{}
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 256
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.Nop()
	}
	return &Engine{
		opts:  opts,
		log:   opts.Logger.NewComponentLogger("engine").Zerolog(),
		state: StateIdle,
	}, nil
}

// Start brings the engine up as the cluster coordinator. It installs a
// blank, already-complete placeholder graph so that any stray dispatch query
// before the first real graph is a safe no-op. Start on a running engine is a
// no-op.
func (e *Engine) Start() error {
	if e.opts.IsCoordinator != nil && !e.opts.IsCoordinator() {
		return NewError(CodeNotCoordinator, "this node is not the cluster coordinator")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	e.uuid = uuid.New().String()
	e.g = graph.Blank("coordinator takeover")
	e.state = StateComplete
	e.inFlight = make(map[int]struct{})
	e.fencerUp = true
	e.mailbox = make(chan message, e.opts.MailboxSize)
	e.done = make(chan struct{})
	e.timers = NewTimerService(func(scope string, actionID int) {
		e.post(timerMsg{scope: scope, actionID: actionID})
	})
	e.running = true

	e.log.Info().Str("uuid", e.uuid).Msg("transition engine started")
	go e.run()
	return nil
}

// Stop discards the current graph, cancels all timers and stops the
// evaluation loop. It is safe to call from any state and is idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	mailbox, done := e.mailbox, e.done
	e.mu.Unlock()

	mailbox <- stopMsg{}
	<-done
}

// LoadGraph parses and installs a new transition graph, returning the
// transition UUID. It fails with TRANSITION_ACTIVE while the current graph
// has not completed; the active graph is additionally aborted so that it
// drains and replanning can install a successor.
func (e *Engine) LoadGraph(doc []byte) (string, error) {
	g, err := graph.ParseDocument(doc)
	if err != nil {
		return "", WrapError(CodeMalformedGraph, "graph rejected", err)
	}
	reply := make(chan loadReply, 1)
	if err := e.send(loadMsg{g: g, reply: reply}); err != nil {
		return "", err
	}
	r := <-reply
	return r.uuid, r.err
}

// Cancel aborts the current transition at peer-cancel priority and requests
// replanning.
func (e *Engine) Cancel(reason string) {
	if reason == "" {
		reason = "peer cancelled"
	}
	e.Abort(graph.PriorityCancel, reason, graph.CompletionRestart)
}

// Halt aborts the current transition at peer-cancel priority and requests a
// halt: no replanning until the engine is restarted.
func (e *Engine) Halt(reason string) {
	if reason == "" {
		reason = "peer halt"
	}
	e.Abort(graph.PriorityCancel, reason, graph.CompletionStop)
}

// Abort submits an abort request. During Idle or Complete it is a no-op.
func (e *Engine) Abort(priority graph.AbortPriority, reason string, action graph.CompletionAction) {
	_ = e.send(abortMsg{priority: priority, reason: reason, completion: action})
}

// HandleCompletion delivers a remote completion report for a dispatched
// action. Reports for unknown or already-terminal actions are logged and
// dropped.
func (e *Engine) HandleCompletion(actionID int, success bool, code int) {
	_ = e.send(completionMsg{actionID: actionID, success: success, code: code})
}

// Trigger forces a dispatcher re-evaluation. The event bridge calls this
// when pending configuration updates settle.
func (e *Engine) Trigger() {
	_ = e.send(triggerMsg{})
}

// SetFencerAvailable records fencing-subsystem availability. While the
// fencer is down, fence actions and successors of unsatisfied fencing-stop
// edges are held rather than failed.
func (e *Engine) SetFencerAvailable(up bool) {
	_ = e.send(fencerMsg{up: up})
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	reply := make(chan Status, 1)
	if err := e.send(statusMsg{reply: reply}); err != nil {
		return Status{State: StateIdle}
	}
	return <-reply
}

// DumpDOT writes the current graph as a Graphviz document. Diagnostic only.
func (e *Engine) DumpDOT(w io.Writer, all bool) error {
	reply := make(chan error, 1)
	if err := e.send(dumpMsg{w: w, all: all, reply: reply}); err != nil {
		return err
	}
	return <-reply
}

func (e *Engine) post(m message) {
	_ = e.send(m)
}

func (e *Engine) send(m message) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return NewError(CodeStopped, "transition engine is not running")
	}
	mailbox := e.mailbox
	e.mu.Unlock()

	select {
	case mailbox <- m:
		return nil
	case <-e.done:
		return NewError(CodeStopped, "transition engine is shutting down")
	}
}

// run is the single evaluation goroutine. All graph mutation happens here.
func (e *Engine) run() {
	ctx := context.Background()
	for m := range e.mailbox {
		switch msg := m.(type) {
		case stopMsg:
			e.shutdown()
			return
		case loadMsg:
			e.handleLoad(ctx, msg)
		case completionMsg:
			e.handleCompletion(ctx, msg)
		case timerMsg:
			e.handleTimer(ctx, msg)
		case abortMsg:
			e.handleAbort(ctx, msg.priority, msg.reason, msg.completion)
		case fencerMsg:
			e.handleFencer(ctx, msg)
		case triggerMsg:
			e.evaluate(ctx)
		case statusMsg:
			msg.reply <- Status{
				State:    e.state,
				UUID:     e.uuid,
				Source:   e.g.Source,
				InFlight: len(e.inFlight),
			}
		case dumpMsg:
			msg.reply <- e.g.WriteDOT(msg.w, graph.DOTOptions{AllActions: msg.all})
		}
	}
}

func (e *Engine) shutdown() {
	e.timers.CancelAll()
	e.endSpan(false)
	e.g = nil
	e.inFlight = nil
	e.state = StateIdle
	e.log.Info().Msg("transition engine stopped")
	close(e.done)
}

func (e *Engine) handleLoad(ctx context.Context, msg loadMsg) {
	if e.state == StateActive || e.state == StateAborting {
		e.log.Info().Str("uuid", e.uuid).Msg("another transition is already active")
		e.handleAbort(ctx, graph.PriorityCancel, "transition active", graph.CompletionRestart)
		msg.reply <- loadReply{err: NewError(CodeTransitionActive, "a transition is already active")}
		return
	}

	e.g = msg.g
	e.uuid = uuid.New().String()
	e.started = e.opts.Clock.Now()
	e.state = StateActive
	e.inFlight = make(map[int]struct{})
	if e.g.Timeout > 0 {
		e.timers.ArmTransition(e.g.Timeout)
	}

	e.opts.Metrics.TransitionStarted(e.g.Source)
	_, e.span = e.opts.Tracer.Start(ctx, "transition",
		attribute.String("transition.uuid", e.uuid),
		attribute.String("transition.source", e.g.Source),
		attribute.Int("transition.actions", e.g.Len()),
	)

	e.log.Info().
		Str("uuid", e.uuid).
		Str("source", e.g.Source).
		Int("actions", e.g.Len()).
		Dur("timeout", e.g.Timeout).
		Msg("transition graph installed")

	msg.reply <- loadReply{uuid: e.uuid}
	e.evaluate(ctx)
}

func (e *Engine) handleCompletion(ctx context.Context, msg completionMsg) {
	if e.state != StateActive && e.state != StateAborting {
		e.log.Debug().Int("action", msg.actionID).Msg("dropping completion report outside a transition")
		return
	}
	a := e.g.Action(msg.actionID)
	if a == nil || a.Status != graph.StatusDispatched {
		e.log.Warn().Int("action", msg.actionID).Msg("dropping completion report for unknown or settled action")
		return
	}

	e.timers.CancelAction(a.ID)
	delete(e.inFlight, a.ID)

	if msg.success {
		if err := e.g.MarkConfirmed(a.ID); err != nil {
			e.log.Error().Err(err).Int("action", a.ID).Msg("confirm failed")
			return
		}
		e.opts.Metrics.ActionCompleted(a.Task, true)
		e.log.Debug().Str("action", a.Name()).Msg("action confirmed")
	} else {
		if err := e.g.MarkFailed(a.ID, msg.code); err != nil {
			e.log.Error().Err(err).Int("action", a.ID).Msg("fail mark failed")
			return
		}
		e.opts.Metrics.ActionCompleted(a.Task, false)
		if a.Optional {
			e.log.Info().Str("action", a.Name()).Int("code", msg.code).
				Msg("optional action failed; recorded for summary only")
		} else {
			e.log.Warn().Str("code", CodeActionFailed).
				Str("action", a.Name()).Int("rc", msg.code).Msg("mandatory action failed")
			reason := fmt.Sprintf("action %s failed rc=%d", a.Name(), msg.code)
			e.handleAbort(ctx, graph.PriorityActionFailed, reason, e.g.OnFailure)
			return
		}
	}

	e.evaluate(ctx)
}

func (e *Engine) handleTimer(ctx context.Context, msg timerMsg) {
	if e.state != StateActive && e.state != StateAborting {
		return
	}
	e.opts.Metrics.TimerExpired(msg.scope)
	e.log.Warn().Str("code", CodeTimeout).Str("scope", msg.scope).Msg("deadline expired")

	// A per-action deadline also settles the action itself: the report, if
	// it ever arrives, would be for a transition that no longer wants it.
	if msg.actionID >= 0 {
		if a := e.g.Action(msg.actionID); a != nil && a.Status == graph.StatusDispatched {
			delete(e.inFlight, a.ID)
			if err := e.g.MarkFailed(a.ID, timeoutExitCode); err != nil {
				e.log.Error().Err(err).Int("action", a.ID).Msg("timeout fail mark failed")
			}
			e.opts.Metrics.ActionCompleted(a.Task, false)
		}
	}

	e.handleAbort(ctx, graph.PriorityTimeout, "timeout:"+msg.scope, graph.CompletionRestart)
}

// timeoutExitCode marks an action settled by deadline expiry rather than an
// executor report.
const timeoutExitCode = -2

func (e *Engine) handleAbort(ctx context.Context, priority graph.AbortPriority, reason string, action graph.CompletionAction) {
	if e.state != StateActive && e.state != StateAborting {
		e.log.Debug().Str("reason", reason).Msg("ignoring abort outside an active transition")
		return
	}

	if e.g.RecordAbort(priority, reason, action) {
		e.opts.Metrics.AbortRecorded(priority.String())
		e.log.Info().
			Str("uuid", e.uuid).
			Str("reason", reason).
			Str("completion", string(action)).
			Int("priority", int(priority)).
			Msg("abort recorded")
	}

	if e.state == StateActive {
		e.state = StateAborting
		e.log.Info().Str("uuid", e.uuid).Int("in_flight", len(e.inFlight)).
			Msg("transition aborting; draining in-flight actions")
	}
	e.evaluate(ctx)
}

func (e *Engine) handleFencer(ctx context.Context, msg fencerMsg) {
	if e.fencerUp == msg.up {
		return
	}
	e.fencerUp = msg.up
	if msg.up {
		e.log.Info().Msg("fencing subsystem available")
		e.evaluate(ctx)
	} else {
		e.log.Warn().Str("code", CodeDependencyUnavailable).
			Msg("fencing subsystem unavailable; holding fencing-ordered actions")
	}
}

// complete finishes the current graph instance: timers cancelled, summary
// published upward, completion action applied.
func (e *Engine) complete() {
	e.timers.CancelAll()
	e.state = StateComplete

	sum := e.g.Summarize(e.uuid)
	elapsed := e.opts.Clock.Now().Sub(e.started)
	e.opts.Metrics.TransitionCompleted(sum.Aborted, string(sum.Action), elapsed.Seconds())
	e.endSpan(sum.Aborted)

	ev := e.log.Info().
		Str("uuid", sum.UUID).
		Str("source", sum.Source).
		Int("confirmed", sum.Confirmed).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Dur("elapsed", elapsed)
	if sum.Aborted {
		ev = ev.Str("abort_reason", sum.Reason)
	}
	ev.Msg("transition complete")

	// Callbacks run off the evaluation goroutine so they may call back
	// into the engine (e.g. LoadGraph from the replanner).
	if e.opts.Notifier != nil {
		go e.opts.Notifier.TransitionComplete(sum)
	}
	switch sum.Action {
	case graph.CompletionRestart:
		if e.opts.OnRestart != nil {
			go e.opts.OnRestart(sum.Reason)
		}
	case graph.CompletionStop:
		if e.opts.OnHalt != nil {
			go e.opts.OnHalt(sum.Reason)
		}
	}
}

func (e *Engine) endSpan(aborted bool) {
	if e.span == nil {
		return
	}
	e.span.SetAttributes(attribute.Bool("transition.aborted", aborted))
	e.span.End()
	e.span = nil
}
