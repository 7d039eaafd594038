package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/signalsfoundry/mission-runtime/model"
)

// MemoryStore is an in-memory SessionStore for tests and single-node
// development. Documents are deep-copied on the way in and out so callers
// never share state with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]memoryDoc
}

type memoryDoc struct {
	sess    *model.Session
	version int64
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memoryDoc)}
}

// Get implements SessionStore.
func (s *MemoryStore) Get(ctx context.Context, id string) (Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[id]
	if !ok {
		return Doc{}, fmt.Errorf("get session %q: %w", id, ErrNotFound)
	}
	return Doc{Session: d.sess.Clone(), Version: d.version}, nil
}

// Create implements SessionStore.
func (s *MemoryStore) Create(ctx context.Context, sess *model.Session) (Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[sess.ID]; ok {
		return Doc{}, fmt.Errorf("create session %q: %w", sess.ID, ErrExists)
	}
	s.docs[sess.ID] = memoryDoc{sess: sess.Clone(), version: 1}
	return Doc{Session: sess.Clone(), Version: 1}, nil
}

// Put implements SessionStore.
func (s *MemoryStore) Put(ctx context.Context, sess *model.Session, expectedVersion int64) (Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[sess.ID]
	if !ok {
		return Doc{}, fmt.Errorf("put session %q: %w", sess.ID, ErrNotFound)
	}
	if d.version != expectedVersion {
		return Doc{}, fmt.Errorf("put session %q at version %d (stored %d): %w",
			sess.ID, expectedVersion, d.version, ErrVersionConflict)
	}
	next := memoryDoc{sess: sess.Clone(), version: d.version + 1}
	s.docs[sess.ID] = next
	return Doc{Session: next.sess.Clone(), Version: next.version}, nil
}

// Delete implements SessionStore.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}
