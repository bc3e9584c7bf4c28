package engine

import (
	"sync"
	"time"
)

// TransitionScope is the timer scope covering the whole transition.
const TransitionScope = "transition"

type armedTimer struct {
	timer *time.Timer
	gen   uint64
}

// TimerService arms and cancels single-shot deadlines for the transition and
// for individual actions. Arming a scope replaces any timer already armed for
// that scope; cancellation is idempotent; an armed timer's handler fires
// exactly once even when it races a cancel or a re-arm.
type TimerService struct {
	mu sync.Mutex

	// expire receives the scope of the expired timer plus the originating
	// action ID (-1 for the transition scope).
	expire func(scope string, actionID int)

	transition *armedTimer
	actions    map[int]*armedTimer
	gen        uint64
}

// NewTimerService creates a timer service delivering expiries to the given
// handler. The handler runs on the timer goroutine; it must only post a
// message and return.
func NewTimerService(expire func(scope string, actionID int)) *TimerService {
	return &TimerService{
		expire:  expire,
		actions: make(map[int]*armedTimer),
	}
}

// ArmTransition arms (or replaces) the transition-level timer.
func (s *TimerService) ArmTransition(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transition != nil {
		s.transition.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.transition = &armedTimer{gen: gen}
	s.transition.timer = time.AfterFunc(d, func() {
		if s.takeTransition(gen) {
			s.expire(TransitionScope, -1)
		}
	})
}

// ArmAction arms (or replaces) the per-action timer for the given action.
// The scope string appears in the abort reason as "timeout:<scope>".
func (s *TimerService) ArmAction(id int, scope string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.actions[id]; ok {
		prev.timer.Stop()
	}
	s.gen++
	gen := s.gen
	at := &armedTimer{gen: gen}
	at.timer = time.AfterFunc(d, func() {
		if s.takeAction(id, gen) {
			s.expire(scope, id)
		}
	})
	s.actions[id] = at
}

// CancelTransition cancels the transition-level timer if armed.
func (s *TimerService) CancelTransition() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transition != nil {
		s.transition.timer.Stop()
		s.transition = nil
	}
}

// CancelAction cancels the per-action timer for id if armed.
func (s *TimerService) CancelAction(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if at, ok := s.actions[id]; ok {
		at.timer.Stop()
		delete(s.actions, id)
	}
}

// CancelAll cancels every armed timer.
func (s *TimerService) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transition != nil {
		s.transition.timer.Stop()
		s.transition = nil
	}
	for id, at := range s.actions {
		at.timer.Stop()
		delete(s.actions, id)
	}
}

// Armed returns the number of currently armed timers.
func (s *TimerService) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.actions)
	if s.transition != nil {
		n++
	}
	return n
}

// takeTransition claims the transition timer for expiry. It returns false if
// the timer was cancelled or replaced after the deadline fired.
func (s *TimerService) takeTransition(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transition == nil || s.transition.gen != gen {
		return false
	}
	s.transition = nil
	return true
}

func (s *TimerService) takeAction(id int, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.actions[id]
	if !ok || at.gen != gen {
		return false
	}
	delete(s.actions, id)
	return true
}
