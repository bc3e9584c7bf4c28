package sim

import (
	"context"
	"sync"

	"github.com/openpacer/openpacer/pkg/engine"
)

// ConfigStore is an in-memory configuration store: enough of the replicated
// store's surface for the bridge and for self-contained runs. Diff
// notifications are delivered synchronously to subscribers.
type ConfigStore struct {
	mu          sync.Mutex
	doc         []byte
	version     int64
	writes      [][]byte
	subscribers map[int]func(engine.Diff)
	nextSub     int
}

// NewConfigStore creates a store holding the given configuration document.
func NewConfigStore(doc []byte) *ConfigStore {
	return &ConfigStore{
		doc:         doc,
		subscribers: make(map[int]func(engine.Diff)),
	}
}

// QueryCurrent implements engine.ConfigStore.
func (s *ConfigStore) QueryCurrent(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.doc...), nil
}

// SubscribeDiff implements engine.ConfigStore.
func (s *ConfigStore) SubscribeDiff(handler func(engine.Diff)) (func(), error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = handler
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}, nil
}

// WriteBack implements engine.ConfigStore. The write is recorded and a
// status-only diff is published, the way a real store acknowledges a result
// update.
func (s *ConfigStore) WriteBack(ctx context.Context, doc []byte) error {
	s.mu.Lock()
	s.writes = append(s.writes, append([]byte(nil), doc...))
	s.version++
	diff := engine.Diff{Version: s.version, Payload: append([]byte(nil), doc...)}
	handlers := s.handlers()
	s.mu.Unlock()

	for _, h := range handlers {
		h(diff)
	}
	return nil
}

// ReplaceConfig installs a new configuration document and publishes a
// configuration-changed diff, simulating an administrator edit.
func (s *ConfigStore) ReplaceConfig(doc []byte) {
	s.mu.Lock()
	s.doc = append([]byte(nil), doc...)
	s.version++
	diff := engine.Diff{Version: s.version, ConfigChanged: true, Payload: append([]byte(nil), doc...)}
	handlers := s.handlers()
	s.mu.Unlock()

	for _, h := range handlers {
		h(diff)
	}
}

// Writes returns the documents written back so far.
func (s *ConfigStore) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.writes))
	copy(out, s.writes)
	return out
}

// handlers must be called with the lock held.
func (s *ConfigStore) handlers() []func(engine.Diff) {
	out := make([]func(engine.Diff), 0, len(s.subscribers))
	for _, h := range s.subscribers {
		out = append(out, h)
	}
	return out
}
