package engine

import (
	"io"

	"github.com/openpacer/openpacer/pkg/graph"
)

// message is an inbound event on the single-consumer evaluation queue.
// However many OS threads deliver completion reports, timer expiries and
// bridge callbacks, the loop consumes them one at a time.
type message interface {
	isMessage()
}

type stopMsg struct{}

type loadMsg struct {
	g     *graph.Graph
	reply chan loadReply
}

type loadReply struct {
	uuid string
	err  error
}

type completionMsg struct {
	actionID int
	success  bool
	code     int
}

type timerMsg struct {
	scope    string
	actionID int
}

type abortMsg struct {
	priority   graph.AbortPriority
	reason     string
	completion graph.CompletionAction
}

type fencerMsg struct {
	up bool
}

type triggerMsg struct{}

type statusMsg struct {
	reply chan Status
}

type dumpMsg struct {
	w     io.Writer
	all   bool
	reply chan error
}

func (stopMsg) isMessage()       {}
func (loadMsg) isMessage()       {}
func (completionMsg) isMessage() {}
func (timerMsg) isMessage()      {}
func (abortMsg) isMessage()      {}
func (fencerMsg) isMessage()     {}
func (triggerMsg) isMessage()    {}
func (statusMsg) isMessage()     {}
func (dumpMsg) isMessage()       {}
