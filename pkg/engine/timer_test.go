package engine

import (
	"sync"
	"testing"
	"time"
)

type expiryRecorder struct {
	mu      sync.Mutex
	expired []string
}

func (r *expiryRecorder) record(scope string, actionID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired = append(r.expired, scope)
}

func (r *expiryRecorder) scopes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.expired...)
}

func TestTimerExpiry(t *testing.T) {
	rec := &expiryRecorder{}
	ts := NewTimerService(rec.record)

	ts.ArmTransition(20 * time.Millisecond)
	ts.ArmAction(1, "stop_db_n1_1", 20*time.Millisecond)
	if got := ts.Armed(); got != 2 {
		t.Fatalf("Armed() = %d, want 2", got)
	}

	time.Sleep(80 * time.Millisecond)
	got := rec.scopes()
	if len(got) != 2 {
		t.Fatalf("expiries = %v, want 2", got)
	}
	if got[0] != TransitionScope && got[1] != TransitionScope {
		t.Errorf("transition scope missing from %v", got)
	}
	if ts.Armed() != 0 {
		t.Errorf("Armed() = %d after expiry", ts.Armed())
	}
}

func TestTimerCancelBeforeExpiry(t *testing.T) {
	rec := &expiryRecorder{}
	ts := NewTimerService(rec.record)

	ts.ArmTransition(30 * time.Millisecond)
	ts.ArmAction(1, "stop_db_n1_1", 30*time.Millisecond)
	ts.CancelTransition()
	ts.CancelAction(1)

	// Cancels are idempotent, including for timers that never existed.
	ts.CancelTransition()
	ts.CancelAction(1)
	ts.CancelAction(99)

	time.Sleep(80 * time.Millisecond)
	if got := rec.scopes(); len(got) != 0 {
		t.Errorf("cancelled timers expired: %v", got)
	}
}

func TestTimerRearmReplaces(t *testing.T) {
	rec := &expiryRecorder{}
	ts := NewTimerService(rec.record)

	// The second arm supersedes the first; exactly one expiry fires.
	ts.ArmAction(1, "first", time.Hour)
	ts.ArmAction(1, "second", 20*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	got := rec.scopes()
	if len(got) != 1 || got[0] != "second" {
		t.Errorf("expiries = %v, want [second]", got)
	}
}

func TestTimerCancelAll(t *testing.T) {
	rec := &expiryRecorder{}
	ts := NewTimerService(rec.record)

	ts.ArmTransition(30 * time.Millisecond)
	ts.ArmAction(1, "a", 30*time.Millisecond)
	ts.ArmAction(2, "b", 30*time.Millisecond)
	ts.CancelAll()

	if ts.Armed() != 0 {
		t.Fatalf("Armed() = %d after CancelAll", ts.Armed())
	}
	time.Sleep(80 * time.Millisecond)
	if got := rec.scopes(); len(got) != 0 {
		t.Errorf("cancelled timers expired: %v", got)
	}
}
