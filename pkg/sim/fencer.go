package sim

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FencerOptions configures a synthetic fencing subsystem.
type FencerOptions struct {
	// Latency is the simulated time to carry out a fence operation.
	Latency time.Duration

	// FailNodes lists nodes whose fence operations report failure.
	FailNodes map[string]bool

	// Resolve maps a fenced node back to the fence action awaiting the
	// outcome. Required when a Target is set.
	Resolve func(node string) (actionID int, ok bool)
}

// Fencer is a synthetic fencing subsystem: fence requests are acknowledged
// immediately and their outcome is reported through the completion target
// after the configured latency.
type Fencer struct {
	opts FencerOptions

	mu       sync.Mutex
	target   CompletionTarget
	up       bool
	handlers map[int]func(up bool)
	nextSub  int
	fenced   []string
}

// NewFencer creates a synthetic fencer, initially available.
func NewFencer(opts FencerOptions) *Fencer {
	if opts.FailNodes == nil {
		opts.FailNodes = make(map[string]bool)
	}
	return &Fencer{
		opts:     opts,
		up:       true,
		handlers: make(map[int]func(up bool)),
	}
}

// SetTarget wires the completion sink.
func (f *Fencer) SetTarget(target CompletionTarget) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = target
}

// RequestFence implements engine.FenceRequester.
func (f *Fencer) RequestFence(ctx context.Context, node string) error {
	f.mu.Lock()
	if !f.up {
		f.mu.Unlock()
		return fmt.Errorf("fencing subsystem unavailable")
	}
	f.fenced = append(f.fenced, node)
	target := f.target
	f.mu.Unlock()

	if target == nil || f.opts.Resolve == nil {
		return nil
	}
	actionID, ok := f.opts.Resolve(node)
	if !ok {
		return fmt.Errorf("no fence action pending for node %s", node)
	}

	failed := f.opts.FailNodes[node]
	go func() {
		select {
		case <-time.After(f.opts.Latency):
		case <-ctx.Done():
			return
		}
		code := 0
		if failed {
			code = 1
		}
		target.HandleCompletion(actionID, !failed, code)
	}()
	return nil
}

// SubscribeAvailability implements engine.Fencer.
func (f *Fencer) SubscribeAvailability(handler func(up bool)) (func(), error) {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.handlers[id] = handler
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}, nil
}

// SetAvailable flips fencing availability and notifies subscribers.
func (f *Fencer) SetAvailable(up bool) {
	f.mu.Lock()
	f.up = up
	handlers := make([]func(up bool), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(up)
	}
}

// Fenced returns the nodes fenced so far, in request order.
func (f *Fencer) Fenced() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fenced...)
}
