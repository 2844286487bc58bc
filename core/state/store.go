// Package state owns the canonical charger state. Every mutation goes through
// Store.Update, which serialises writers and publishes a Transition whenever the
// state structurally changed.
package state

import (
	"sync"

	"github.com/kilianp07/evcharger/core/model"
	"github.com/kilianp07/evcharger/internal/eventbus"
)

// Mutator edits the state in place. A returned error is handed back to the
// caller of Update; it does not roll back edits already made.
type Mutator func(s *model.ChargerState) error

// Store holds the charger state behind a mutex and fans transitions out to
// subscribers.
type Store struct {
	mu    sync.Mutex
	state model.ChargerState
	bus   *eventbus.TypedBus[model.Transition]
}

// New creates a Store in the Shutdown state with the default history depth.
func New() *Store { return NewWithDepth(eventbus.DefaultDepth) }

// NewWithDepth creates a Store whose subscribers may fall depth transitions
// behind before they are told they lagged.
func NewWithDepth(depth int) *Store {
	return &Store{
		state: model.Shutdown(),
		bus:   eventbus.NewTypedWithDepth[model.Transition](depth),
	}
}

// Update runs fn with exclusive access to the state. If the state after fn
// differs from the state before, exactly one Transition is published, even
// when fn returns an error. The transition is published before the lock is
// released so subscribers see mutations in the order they were applied.
func (s *Store) Update(fn Mutator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.state.Clone()
	err := fn(&s.state)
	if !old.Equal(s.state) {
		s.bus.Publish(model.Transition{Old: old, New: s.state.Clone()})
	}
	return err
}

// Read returns a snapshot of the current state.
func (s *Store) Read() model.ChargerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe returns a receiver observing every transition published from now on.
func (s *Store) Subscribe() *eventbus.Receiver[model.Transition] {
	return s.bus.Subscribe()
}

// Resync drops whatever rx has not consumed yet and returns the current state.
// Both happen under the writer lock, so the snapshot reflects exactly the
// transitions rx skipped and nothing published afterwards.
func (s *Store) Resync(rx *eventbus.Receiver[model.Transition]) model.ChargerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	rx.Skip()
	return s.state.Clone()
}

// Close ends the transition stream. Pending transitions stay readable.
func (s *Store) Close() { s.bus.Close() }
