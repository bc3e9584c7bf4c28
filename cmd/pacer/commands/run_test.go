package commands

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpacer/openpacer/pkg/bridge"
	"github.com/openpacer/openpacer/pkg/engine"
	"github.com/openpacer/openpacer/pkg/graph"
	"github.com/openpacer/openpacer/pkg/sim"
)

const fenceDoc = `{"source": "pe-fence", "actions": [
	{"id": 1, "task": "fence", "node": "n3"},
	{"id": 2, "task": "stop", "resource": "db", "node": "n3"}],
	"edges": [{"from": 1, "to": 2, "kind": "fence_stop"}]}`

type nopEngine struct{}

func (nopEngine) Abort(graph.AbortPriority, string, graph.CompletionAction) {}
func (nopEngine) Trigger()                                                  {}
func (nopEngine) SetFencerAvailable(bool)                                   {}

// Fence actions must reach the fencing subsystem through the bridge, the way
// runDaemon wires them, not fall through to the remote executor.
func TestDaemonFenceRouting(t *testing.T) {
	fences := &fenceIndex{}
	router := &bridgeRouter{}
	executor := sim.NewExecutor(sim.ExecutorOptions{Latency: time.Millisecond})
	store := sim.NewConfigStore([]byte(`{}`))
	fencer := sim.NewFencer(sim.FencerOptions{
		Latency: time.Millisecond,
		Resolve: fences.resolve,
	})

	done := make(chan graph.Summary, 1)
	eng, err := engine.New(engine.Options{
		Executor: executor,
		Fencer:   router,
		Notifier: engine.NotifierFunc(func(s graph.Summary) { done <- s }),
	})
	require.NoError(t, err)
	executor.SetTarget(eng)
	fencer.SetTarget(eng)
	require.NoError(t, eng.Start())
	t.Cleanup(eng.Stop)

	br, err := bridge.New(bridge.Options{Store: store, Engine: eng, Fencer: fencer})
	require.NoError(t, err)
	require.NoError(t, br.Start(context.Background()))
	t.Cleanup(br.Stop)
	router.set(br)

	g, err := graph.ParseDocument([]byte(fenceDoc))
	require.NoError(t, err)
	fences.install(g)

	_, err = eng.LoadGraph([]byte(fenceDoc))
	require.NoError(t, err)

	select {
	case sum := <-done:
		assert.False(t, sum.Aborted)
		assert.Equal(t, 2, sum.Confirmed)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transition completion")
	}

	assert.Equal(t, []string{"n3"}, fencer.Fenced())
	for _, a := range executor.Dispatched() {
		assert.NotEqual(t, 1, a.ID, "fence action must not reach the executor")
	}
}

// Completion summaries written back through the router must land in the store
// and settle without leaving pending write-backs behind.
func TestDaemonSummaryWriteBack(t *testing.T) {
	router := &bridgeRouter{}
	require.Error(t, router.WriteBack(context.Background(), []byte(`{}`)),
		"write-back before the bridge is wired must fail")
	require.Error(t, router.RequestFence(context.Background(), "n1"),
		"fence request before the bridge is wired must fail")

	store := sim.NewConfigStore([]byte(`{}`))
	br, err := bridge.New(bridge.Options{Store: store, Engine: nopEngine{}})
	require.NoError(t, err)
	require.NoError(t, br.Start(context.Background()))
	t.Cleanup(br.Stop)
	router.set(br)

	require.NoError(t, router.WriteBack(context.Background(), []byte(`{"uuid":"u1"}`)))
	require.Len(t, store.Writes(), 1)
	assert.Equal(t, 0, br.Pending(), "synchronous store diff should settle the write-back")
}

func TestFenceIndexResolve(t *testing.T) {
	g, err := graph.ParseDocument([]byte(fenceDoc))
	require.NoError(t, err)

	fences := &fenceIndex{}
	_, ok := fences.resolve("n3")
	assert.False(t, ok, "empty index must not resolve")

	fences.install(g)
	id, ok := fences.resolve("n3")
	require.True(t, ok)
	assert.Equal(t, 1, id)
	_, ok = fences.resolve("n9")
	assert.False(t, ok)
}
