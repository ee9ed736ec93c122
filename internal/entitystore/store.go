package entitystore

import (
	"fmt"
	"sort"
	"sync"

	"entitystore/internal/reactive"
)

// Listener receives every committed state together with its version.
// Versions increase by one per committed dispatch. Under concurrent
// dispatches, or a dispatch made from inside a listener, listeners may be
// called with versions out of order and should ignore versions older than
// one they have already seen.
type Listener func(state *State, version uint64)

// Store owns the current State. Dispatch is the only way to change it.
type Store struct {
	dispatchMu sync.Mutex

	mu        sync.RWMutex
	state     *State
	version   uint64
	listeners map[uint64]Listener
	nextID    uint64
}

// NewStore returns a store with an empty branch per entity type.
func NewStore() *Store {
	return &Store{
		state:     NewState(),
		listeners: make(map[uint64]Listener),
	}
}

// State returns the current state.
func (s *Store) State() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns the current state and its version.
func (s *Store) Snapshot() (*State, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.version
}

// Dispatch reduces the actions in order and commits the outcome as a single
// step. If any action fails, nothing is committed. Listeners are notified
// only when the resulting state differs from the current one.
func (s *Store) Dispatch(actions ...Action) error {
	s.dispatchMu.Lock()
	current := s.State()
	next := current
	for _, action := range actions {
		reduced, err := Reduce(next, action)
		if err != nil {
			s.dispatchMu.Unlock()
			return fmt.Errorf("%s: %w", action.Name(), err)
		}
		next = reduced
	}
	if next == current {
		s.dispatchMu.Unlock()
		return nil
	}

	s.mu.Lock()
	s.state = next
	s.version++
	version := s.version
	listeners := s.sortedListeners()
	s.mu.Unlock()
	s.dispatchMu.Unlock()

	for _, l := range listeners {
		l(next, version)
	}
	return nil
}

// Subscribe registers l and immediately calls it with the current state.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	state, version := s.state, s.version
	s.mu.Unlock()

	l(state, version)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Listeners returns the number of registered listeners.
func (s *Store) Listeners() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

func (s *Store) sortedListeners() []Listener {
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Listener, len(ids))
	for i, id := range ids {
		out[i] = s.listeners[id]
	}
	return out
}

// Select returns an observable of selector applied to each committed state.
// Values equal to the previous one (per equal) are not re-emitted. The store
// subscription is shared by all subscribers of the returned observable.
func Select[T any](s *Store, selector func(*State) T, equal func(a, b T) bool) *reactive.Observable[T] {
	return reactive.New(func(emit reactive.EmitFunc[T]) func() {
		return s.Subscribe(func(state *State, version uint64) {
			emit(selector(state), version)
		})
	}, equal)
}
