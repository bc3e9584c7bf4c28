package spool

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type submitRecorder struct {
	mu   sync.Mutex
	docs []string
}

func (r *submitRecorder) submit(doc []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, string(doc))
	return nil
}

func (r *submitRecorder) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.docs...)
}

func startTestIntake(t *testing.T, dir string, rec *submitRecorder) {
	t.Helper()
	intake, err := NewIntake(Options{Dir: dir, Submit: rec.submit})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, intake.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = intake.Stop()
	})
}

func TestIntakeRequiresOptions(t *testing.T) {
	_, err := NewIntake(Options{Submit: func([]byte) error { return nil }})
	assert.Error(t, err)

	_, err = NewIntake(Options{Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestIntakeDrainsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001.json"), []byte(`{"a":1}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002.json"), []byte(`{"a":2}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`skip me`), 0o600))

	rec := &submitRecorder{}
	startTestIntake(t, dir, rec)

	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`}, rec.received())

	// Consumed files are unlinked; unrelated files are left alone.
	_, err := os.Stat(filepath.Join(dir, "0001.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err)
}

func TestIntakeConsumesNewFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &submitRecorder{}
	startTestIntake(t, dir, rec)

	path := filepath.Join(dir, "graph.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"source":"planner"}`), 0o600))

	require.Eventually(t, func() bool {
		got := rec.received()
		return len(got) == 1 && got[0] == `{"source":"planner"}`
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIntakeIgnoresNonJSON(t *testing.T) {
	dir := t.TempDir()
	rec := &submitRecorder{}
	startTestIntake(t, dir, rec)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "graph.tmp"), []byte(`partial`), 0o600))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.received())
}

func TestIntakeMissingDirectory(t *testing.T) {
	intake, err := NewIntake(Options{
		Dir:    filepath.Join(t.TempDir(), "missing"),
		Submit: func([]byte) error { return nil },
	})
	require.NoError(t, err)
	assert.Error(t, intake.Start(context.Background()))
}
