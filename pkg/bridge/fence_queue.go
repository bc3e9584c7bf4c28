package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/openpacer/openpacer/pkg/engine"
)

// fenceQueue buffers fence requests while the fencing subsystem is
// unreachable and replays them on reconnect with exponential backoff.
type fenceQueue struct {
	fencer engine.FenceRequester
	log    zerolog.Logger

	mu     sync.Mutex
	up     bool
	queued []string
}

func newFenceQueue(fencer engine.FenceRequester, log zerolog.Logger) *fenceQueue {
	return &fenceQueue{
		fencer: fencer,
		log:    log,
		up:     true,
	}
}

func (q *fenceQueue) setAvailable(up bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.up = up
}

// request forwards a fence request, or queues it when the subsystem is down.
// A queued request is acknowledged: the outcome arrives as a completion
// report once the replay goes through.
func (q *fenceQueue) request(ctx context.Context, node string) error {
	q.mu.Lock()
	if !q.up {
		q.queued = append(q.queued, node)
		q.mu.Unlock()
		q.log.Warn().Str("node", node).Msg("fencing subsystem down; request queued")
		return nil
	}
	q.mu.Unlock()

	return q.fencer.RequestFence(ctx, node)
}

// flush replays queued requests after a reconnect. Requests that keep failing
// are dropped after the retry budget; the per-action timer will settle the
// corresponding action.
func (q *fenceQueue) flush(ctx context.Context) {
	q.mu.Lock()
	queued := q.queued
	q.queued = nil
	q.mu.Unlock()

	for _, node := range queued {
		policy := backoff.WithContext(backoff.WithMaxRetries(newFlushBackOff(), 5), ctx)
		err := backoff.Retry(func() error {
			return q.fencer.RequestFence(ctx, node)
		}, policy)
		if err != nil {
			q.log.Error().Err(err).Str("node", node).Msg("queued fence request abandoned")
			continue
		}
		q.log.Info().Str("node", node).Msg("queued fence request replayed")
	}
}

func newFlushBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 30 * time.Second
	return bo
}
