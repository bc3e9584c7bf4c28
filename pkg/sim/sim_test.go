package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpacer/openpacer/pkg/engine"
	"github.com/openpacer/openpacer/pkg/graph"
)

const failoverDoc = `{
	"source": "whatif",
	"actions": [
		{"id": 1, "task": "stop", "resource": "db", "node": "n1"},
		{"id": 2, "task": "all-stopped", "pseudo": true},
		{"id": 3, "task": "start", "resource": "db", "node": "n2"}
	],
	"edges": [
		{"from": 1, "to": 2},
		{"from": 2, "to": 3}
	]
}`

func runSimulation(t *testing.T, exec *Executor, doc string) graph.Summary {
	t.Helper()

	done := make(chan graph.Summary, 1)
	eng, err := engine.New(engine.Options{
		Executor: exec,
		Notifier: engine.NotifierFunc(func(s graph.Summary) { done <- s }),
	})
	require.NoError(t, err)
	exec.SetTarget(eng)

	require.NoError(t, eng.Start())
	t.Cleanup(eng.Stop)

	_, err = eng.LoadGraph([]byte(doc))
	require.NoError(t, err)

	select {
	case s := <-done:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("simulation did not complete")
		return graph.Summary{}
	}
}

func TestSimulatedFailover(t *testing.T) {
	exec := NewExecutor(ExecutorOptions{Latency: time.Millisecond})
	sum := runSimulation(t, exec, failoverDoc)

	assert.False(t, sum.Aborted)
	assert.Equal(t, 3, sum.Confirmed)

	dispatched := exec.Dispatched()
	require.Len(t, dispatched, 2, "pseudo action must not reach the executor")
	assert.Equal(t, 1, dispatched[0].ID)
	assert.Equal(t, 3, dispatched[1].ID)
}

func TestSimulatedFailureInjection(t *testing.T) {
	exec := NewExecutor(ExecutorOptions{
		Latency:  time.Millisecond,
		Failures: map[int]int{1: 1},
	})
	sum := runSimulation(t, exec, failoverDoc)

	assert.True(t, sum.Aborted)
	assert.Contains(t, sum.Reason, "stop_db_n1_1 failed rc=1")
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Skipped)
}

func TestConfigStoreDiffs(t *testing.T) {
	store := NewConfigStore([]byte(`{"nodes": 2}`))

	var diffs []engine.Diff
	unsub, err := store.SubscribeDiff(func(d engine.Diff) { diffs = append(diffs, d) })
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, store.WriteBack(context.Background(), []byte(`{"result": 1}`)))
	store.ReplaceConfig([]byte(`{"nodes": 3}`))

	require.Len(t, diffs, 2)
	assert.False(t, diffs[0].ConfigChanged)
	assert.True(t, diffs[1].ConfigChanged)
	assert.Equal(t, int64(2), diffs[1].Version)

	doc, err := store.QueryCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"nodes": 3}`, string(doc))
	assert.Len(t, store.Writes(), 1)
}

func TestFencerReportsOutcome(t *testing.T) {
	reports := make(chan int, 1)
	fencer := NewFencer(FencerOptions{
		Latency: time.Millisecond,
		Resolve: func(node string) (int, bool) { return 9, node == "n3" },
	})
	fencer.SetTarget(completionFunc(func(actionID int, success bool, code int) {
		if success {
			reports <- actionID
		}
	}))

	require.NoError(t, fencer.RequestFence(context.Background(), "n3"))

	select {
	case id := <-reports:
		assert.Equal(t, 9, id)
	case <-time.After(time.Second):
		t.Fatal("fence outcome not reported")
	}
	assert.Equal(t, []string{"n3"}, fencer.Fenced())
}

func TestFencerUnavailable(t *testing.T) {
	fencer := NewFencer(FencerOptions{})

	var seen []bool
	unsub, err := fencer.SubscribeAvailability(func(up bool) { seen = append(seen, up) })
	require.NoError(t, err)
	defer unsub()

	fencer.SetAvailable(false)
	assert.Error(t, fencer.RequestFence(context.Background(), "n1"))

	fencer.SetAvailable(true)
	assert.Equal(t, []bool{false, true}, seen)
}

type completionFunc func(actionID int, success bool, code int)

func (f completionFunc) HandleCompletion(actionID int, success bool, code int) {
	f(actionID, success, code)
}
