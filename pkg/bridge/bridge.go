package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openpacer/openpacer/pkg/engine"
	"github.com/openpacer/openpacer/pkg/graph"
	"github.com/openpacer/openpacer/pkg/telemetry"
)

// Engine is the slice of the transition engine the bridge drives.
type Engine interface {
	Abort(priority graph.AbortPriority, reason string, action graph.CompletionAction)
	Trigger()
	SetFencerAvailable(up bool)
}

// Options configures a Bridge.
type Options struct {
	// Store is the replicated configuration store. Required.
	Store engine.ConfigStore

	// Engine receives abort, trigger and fencer-availability events. Required.
	Engine Engine

	// Fencer is the fencing subsystem. Optional; when nil the bridge only
	// relays configuration events.
	Fencer engine.Fencer

	// Logger is the bridge's structured logger.
	Logger *telemetry.Logger
}

// Bridge connects the configuration store and the fencing subsystem to the
// transition engine. It turns store diff notifications into abort or trigger
// events, tracks the engine's own write-backs so they do not abort the
// transition they belong to, and buffers fence requests across fencing
// outages.
type Bridge struct {
	opts Options
	log  zerolog.Logger

	queue *fenceQueue

	mu      sync.Mutex
	started bool
	pending int
	unsub   []func()
}

// New creates a bridge. Store and Engine are required.
func New(opts Options) (*Bridge, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("configuration store is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.Nop()
	}

	b := &Bridge{
		opts: opts,
		log:  opts.Logger.NewComponentLogger("bridge").Zerolog(),
	}
	if opts.Fencer != nil {
		b.queue = newFenceQueue(opts.Fencer, b.log)
	}
	return b, nil
}

// Start subscribes to store diff notifications and, when a fencer is
// configured, to fencing availability changes.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	unsubDiff, err := b.opts.Store.SubscribeDiff(b.onDiff)
	if err != nil {
		return fmt.Errorf("failed to subscribe to store diffs: %w", err)
	}
	b.unsub = append(b.unsub, unsubDiff)

	if b.opts.Fencer != nil {
		unsubFence, err := b.opts.Fencer.SubscribeAvailability(b.onFencerAvailability)
		if err != nil {
			unsubDiff()
			b.unsub = nil
			return fmt.Errorf("failed to subscribe to fencer availability: %w", err)
		}
		b.unsub = append(b.unsub, unsubFence)
	}

	b.started = true
	b.log.Info().Bool("fencer", b.opts.Fencer != nil).Msg("event bridge started")
	return nil
}

// Stop removes all subscriptions. Idempotent.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return
	}
	for _, unsub := range b.unsub {
		unsub()
	}
	b.unsub = nil
	b.started = false
	b.log.Info().Msg("event bridge stopped")
}

// WriteBack records a result document in the store and marks the resulting
// diff notification as self-originated: it will fire a dispatcher trigger
// instead of an abort when the updates settle.
func (b *Bridge) WriteBack(ctx context.Context, doc []byte) error {
	b.mu.Lock()
	b.pending++
	b.mu.Unlock()

	if err := b.opts.Store.WriteBack(ctx, doc); err != nil {
		b.mu.Lock()
		b.pending--
		b.mu.Unlock()
		return fmt.Errorf("store write-back failed: %w", err)
	}
	return nil
}

// Pending returns the number of write-backs still awaiting their diff
// notification.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// RequestFence implements engine.FenceRequester. Requests made while the
// fencing subsystem is down are queued and replayed on reconnect.
func (b *Bridge) RequestFence(ctx context.Context, node string) error {
	if b.queue == nil {
		return fmt.Errorf("no fencing subsystem configured")
	}
	return b.queue.request(ctx, node)
}

func (b *Bridge) onDiff(d engine.Diff) {
	if d.ConfigChanged {
		b.log.Info().Int64("version", d.Version).Msg("configuration changed; aborting active transition")
		b.opts.Engine.Abort(graph.PriorityExternalEvent, "configuration changed", graph.CompletionRestart)
		return
	}

	b.mu.Lock()
	settled := false
	if b.pending > 0 {
		b.pending--
		settled = b.pending == 0
	}
	b.mu.Unlock()

	if settled {
		b.log.Debug().Int64("version", d.Version).Msg("write-backs settled")
		b.opts.Engine.Trigger()
	}
}

func (b *Bridge) onFencerAvailability(up bool) {
	if b.queue != nil {
		b.queue.setAvailable(up)
	}
	b.opts.Engine.SetFencerAvailable(up)
	if up && b.queue != nil {
		go b.queue.flush(context.Background())
	}
}
