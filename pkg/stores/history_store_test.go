package stores

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpacer/openpacer/pkg/graph"
)

func setupTestStore(t *testing.T) *HistoryStore {
	t.Helper()

	store, err := NewHistoryStore(Config{
		Path: ":memory:",
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func sampleRecord(uuid string, started time.Time) *TransitionRecord {
	return &TransitionRecord{
		UUID:             uuid,
		Source:           "config:42",
		StartedAt:        started,
		CompletedAt:      started.Add(3 * time.Second),
		Confirmed:        4,
		Failed:           1,
		Skipped:          2,
		Aborted:          true,
		AbortReason:      "action stop_db_n1_5 failed rc=1",
		CompletionAction: "restart",
		Actions: []ActionRecord{
			{ActionID: 1, Name: "stop_db_n1_1", Task: "stop", Node: "n1", Resource: "db", Status: "confirmed"},
			{ActionID: 2, Name: "all-stopped_2", Task: "all-stopped", Pseudo: true, Status: "confirmed"},
			{ActionID: 5, Name: "stop_db_n1_5", Task: "stop", Node: "n1", Resource: "db", Status: "failed", ExitCode: 1},
		},
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewHistoryStore(Config{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.HealthCheck(ctx))
	require.NoError(t, store.Close())
}

func TestStoreRequiresPath(t *testing.T) {
	_, err := NewHistoryStore(Config{})
	assert.Error(t, err)
}

func TestSaveAndGetTransition(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	rec := sampleRecord("txn-001", started)
	require.NoError(t, store.SaveTransition(ctx, rec))

	got, err := store.GetTransition(ctx, "txn-001")
	require.NoError(t, err)

	assert.Equal(t, rec.UUID, got.UUID)
	assert.Equal(t, rec.Source, got.Source)
	assert.True(t, got.StartedAt.Equal(rec.StartedAt))
	assert.True(t, got.CompletedAt.Equal(rec.CompletedAt))
	assert.Equal(t, rec.Confirmed, got.Confirmed)
	assert.Equal(t, rec.Failed, got.Failed)
	assert.Equal(t, rec.Skipped, got.Skipped)
	assert.True(t, got.Aborted)
	assert.Equal(t, rec.AbortReason, got.AbortReason)
	assert.Equal(t, rec.CompletionAction, got.CompletionAction)

	require.Len(t, got.Actions, 3)
	assert.Equal(t, "stop_db_n1_1", got.Actions[0].Name)
	assert.True(t, got.Actions[1].Pseudo)
	assert.Equal(t, 1, got.Actions[2].ExitCode)
	assert.Equal(t, "failed", got.Actions[2].Status)
}

func TestGetTransitionNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetTransition(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateUUIDRejected(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransition(ctx, sampleRecord("txn-dup", started)))
	assert.Error(t, store.SaveTransition(ctx, sampleRecord("txn-dup", started)))
}

func TestListTransitionsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i, uuid := range []string{"txn-a", "txn-b", "txn-c"} {
		rec := sampleRecord(uuid, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.SaveTransition(ctx, rec))
	}

	records, err := store.ListTransitions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "txn-c", records[0].UUID)
	assert.Equal(t, "txn-a", records[2].UUID)
	assert.Empty(t, records[0].Actions)

	page, err := store.ListTransitions(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "txn-b", page[0].UUID)
}

func TestRecordFromSummary(t *testing.T) {
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	sum := graph.Summary{
		UUID:      "txn-sum",
		Source:    "config:7",
		Confirmed: 1,
		Failed:    1,
		Aborted:   true,
		Reason:    "timeout:transition",
		Action:    graph.CompletionRestart,
		Actions: []graph.ActionOutcome{
			{ID: 1, Name: "stop_db_n1_1", Task: "stop", Node: "n1", Resource: "db", Status: graph.StatusConfirmed},
			{ID: 2, Name: "start_db_n2_2", Task: "start", Node: "n2", Resource: "db", Status: graph.StatusFailed, ExitCode: -2},
		},
	}

	rec := RecordFromSummary(sum, started, started.Add(time.Minute))
	assert.Equal(t, "txn-sum", rec.UUID)
	assert.Equal(t, "restart", rec.CompletionAction)
	require.Len(t, rec.Actions, 2)
	assert.Equal(t, "failed", rec.Actions[1].Status)
	assert.Equal(t, -2, rec.Actions[1].ExitCode)

	store := setupTestStore(t)
	require.NoError(t, store.SaveTransition(context.Background(), rec))
	got, err := store.GetTransition(context.Background(), "txn-sum")
	require.NoError(t, err)
	assert.Len(t, got.Actions, 2)
}

func TestPruneBefore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTransition(ctx, sampleRecord("txn-old", base)))
	require.NoError(t, store.SaveTransition(ctx, sampleRecord("txn-new", base.Add(time.Hour))))

	pruned, err := store.PruneBefore(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	_, err = store.GetTransition(ctx, "txn-old")
	assert.ErrorIs(t, err, ErrNotFound)

	kept, err := store.GetTransition(ctx, "txn-new")
	require.NoError(t, err)
	assert.Equal(t, "txn-new", kept.UUID)
}
