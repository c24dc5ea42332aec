package store

import (
	"context"
	"sync"
	"time"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/models"
)

// MemoryStore is an in-process EntitlementStore used when no Firebase
// credentials are configured (development) and in tests. It honors the same
// contract as the Firestore adapter, including write-ordered delivery to
// listeners of a given user's document.
type MemoryStore struct {
	mu        sync.Mutex
	docs      map[string]models.EntitlementState
	listeners map[string]map[int]*memoryListener
	nextID    int
	now       func() time.Time
}

type memoryListener struct {
	ch   chan models.EntitlementState
	done chan struct{}
	once sync.Once
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[string]models.EntitlementState),
		listeners: make(map[string]map[int]*memoryListener),
		now:       time.Now,
	}
}

// Fetch returns the stored state, or the normalized default when the user has
// no record yet.
func (s *MemoryStore) Fetch(ctx context.Context, userID string) (models.EntitlementState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.docs[userID]
	if !ok {
		return models.DefaultEntitlement(), nil
	}
	return state, nil
}

// Upsert stores the normalized state, stamps updatedAt with the store's own
// clock, and fans the new state out to listeners in write order.
func (s *MemoryStore) Upsert(ctx context.Context, userID string, state models.EntitlementState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state = models.Normalize(state)
	written := s.now().UTC()
	state.UpdatedAt = &written
	s.docs[userID] = state

	// Enqueue under the lock so every listener observes this user's writes
	// in the order they landed.
	for _, l := range s.listeners[userID] {
		select {
		case l.ch <- state:
		case <-l.done:
		}
	}
	return nil
}

// Listen registers a listener for the user's record. The current state is
// delivered immediately, then every subsequent write.
func (s *MemoryStore) Listen(ctx context.Context, userID string, onChange func(models.EntitlementState), onError func(error)) (CancelFunc, error) {
	l := &memoryListener{
		ch:   make(chan models.EntitlementState, 64),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.listeners[userID] == nil {
		s.listeners[userID] = make(map[int]*memoryListener)
	}
	s.listeners[userID][id] = l

	initial, ok := s.docs[userID]
	if !ok {
		initial = models.DefaultEntitlement()
	}
	l.ch <- initial
	s.mu.Unlock()

	go func() {
		for {
			select {
			case state := <-l.ch:
				onChange(state)
			case <-l.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		l.once.Do(func() { close(l.done) })
		s.mu.Lock()
		delete(s.listeners[userID], id)
		s.mu.Unlock()
	}
	return CancelFunc(cancel), nil
}
