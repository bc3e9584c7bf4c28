package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpacer/openpacer/pkg/engine"
	"github.com/openpacer/openpacer/pkg/graph"
)

type mockEngine struct {
	mu       sync.Mutex
	aborts   []string
	triggers int
	fencerUp []bool
}

func (m *mockEngine) Abort(priority graph.AbortPriority, reason string, action graph.CompletionAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborts = append(m.aborts, reason)
}

func (m *mockEngine) Trigger() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers++
}

func (m *mockEngine) SetFencerAvailable(up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fencerUp = append(m.fencerUp, up)
}

func (m *mockEngine) snapshot() (aborts []string, triggers int, fencerUp []bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.aborts...), m.triggers, append([]bool(nil), m.fencerUp...)
}

type mockStore struct {
	mu           sync.Mutex
	diffHandler  func(engine.Diff)
	written      [][]byte
	writeErr     error
	unsubscribed bool
}

func (m *mockStore) QueryCurrent(ctx context.Context) ([]byte, error) {
	return []byte(`{}`), nil
}

func (m *mockStore) SubscribeDiff(handler func(engine.Diff)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diffHandler = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.unsubscribed = true
	}, nil
}

func (m *mockStore) WriteBack(ctx context.Context, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, doc)
	return nil
}

func (m *mockStore) notify(d engine.Diff) {
	m.mu.Lock()
	handler := m.diffHandler
	m.mu.Unlock()
	handler(d)
}

type mockFencer struct {
	mu           sync.Mutex
	availability func(up bool)
	requests     []string
	failures     int
}

func (m *mockFencer) RequestFence(ctx context.Context, node string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("fencer unreachable")
	}
	m.requests = append(m.requests, node)
	return nil
}

func (m *mockFencer) SubscribeAvailability(handler func(up bool)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availability = handler
	return func() {}, nil
}

func (m *mockFencer) requested() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

func (m *mockFencer) setAvailable(up bool) {
	m.mu.Lock()
	handler := m.availability
	m.mu.Unlock()
	handler(up)
}

func newTestBridge(t *testing.T, store *mockStore, fencer *mockFencer) (*Bridge, *mockEngine) {
	t.Helper()
	eng := &mockEngine{}
	opts := Options{Store: store, Engine: eng}
	if fencer != nil {
		opts.Fencer = fencer
	}
	b, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(b.Stop)
	return b, eng
}

func TestConfigDiffAborts(t *testing.T) {
	store := &mockStore{}
	_, eng := newTestBridge(t, store, nil)

	store.notify(engine.Diff{Version: 7, ConfigChanged: true})

	aborts, triggers, _ := eng.snapshot()
	require.Len(t, aborts, 1)
	assert.Equal(t, "configuration changed", aborts[0])
	assert.Zero(t, triggers)
}

func TestWriteBackSettleTriggers(t *testing.T) {
	store := &mockStore{}
	b, eng := newTestBridge(t, store, nil)

	ctx := context.Background()
	require.NoError(t, b.WriteBack(ctx, []byte(`{"op":1}`)))
	require.NoError(t, b.WriteBack(ctx, []byte(`{"op":2}`)))
	assert.Equal(t, 2, b.Pending())

	store.notify(engine.Diff{Version: 8})
	_, triggers, _ := eng.snapshot()
	assert.Zero(t, triggers, "trigger must wait for all write-backs to settle")
	assert.Equal(t, 1, b.Pending())

	store.notify(engine.Diff{Version: 9})
	aborts, triggers, _ := eng.snapshot()
	assert.Empty(t, aborts)
	assert.Equal(t, 1, triggers)
	assert.Zero(t, b.Pending())
}

func TestStatusDiffWithoutPendingIgnored(t *testing.T) {
	store := &mockStore{}
	_, eng := newTestBridge(t, store, nil)

	store.notify(engine.Diff{Version: 3})

	aborts, triggers, _ := eng.snapshot()
	assert.Empty(t, aborts)
	assert.Zero(t, triggers)
}

func TestWriteBackErrorReleasesPending(t *testing.T) {
	store := &mockStore{writeErr: errors.New("store down")}
	b, _ := newTestBridge(t, store, nil)

	err := b.WriteBack(context.Background(), []byte(`{}`))
	assert.Error(t, err)
	assert.Zero(t, b.Pending())
}

func TestFencerOutageQueuesAndReplays(t *testing.T) {
	store := &mockStore{}
	fencer := &mockFencer{}
	b, eng := newTestBridge(t, store, fencer)

	ctx := context.Background()
	require.NoError(t, b.RequestFence(ctx, "n1"))
	assert.Equal(t, []string{"n1"}, fencer.requested())

	fencer.setAvailable(false)
	require.NoError(t, b.RequestFence(ctx, "n2"))
	assert.Equal(t, []string{"n1"}, fencer.requested(), "request during outage must be queued, not sent")

	fencer.setAvailable(true)
	require.Eventually(t, func() bool {
		got := fencer.requested()
		return len(got) == 2 && got[1] == "n2"
	}, 2*time.Second, 10*time.Millisecond)

	_, _, fencerUp := eng.snapshot()
	assert.Equal(t, []bool{false, true}, fencerUp)
}

func TestFlushRetriesTransientFailures(t *testing.T) {
	store := &mockStore{}
	fencer := &mockFencer{}
	b, _ := newTestBridge(t, store, fencer)

	ctx := context.Background()
	fencer.setAvailable(false)
	require.NoError(t, b.RequestFence(ctx, "n3"))

	fencer.mu.Lock()
	fencer.failures = 2
	fencer.mu.Unlock()

	fencer.setAvailable(true)
	require.Eventually(t, func() bool {
		got := fencer.requested()
		return len(got) == 1 && got[0] == "n3"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRequestFenceWithoutFencer(t *testing.T) {
	store := &mockStore{}
	b, _ := newTestBridge(t, store, nil)
	assert.Error(t, b.RequestFence(context.Background(), "n1"))
}

func TestStopUnsubscribes(t *testing.T) {
	store := &mockStore{}
	eng := &mockEngine{}
	b, err := New(Options{Store: store, Engine: eng})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))

	b.Stop()
	b.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.True(t, store.unsubscribed)
}
