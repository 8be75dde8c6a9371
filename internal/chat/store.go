package chat

import "sync"

// Store serializes transitions on a State and notifies subscribers of each
// new snapshot. Snapshots are immutable and safe to keep.
type Store struct {
	mu    sync.Mutex
	state State
	subs  []func(State)
}

// NewStore creates a store holding initial
func NewStore(initial State) *Store {
	return &Store{state: initial}
}

// Snapshot returns the current state
func (st *Store) Snapshot() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// Apply runs a transition and returns the resulting state
func (st *Store) Apply(fn func(State) State) State {
	st.mu.Lock()
	next := fn(st.state)
	st.state = next
	subs := st.subs
	st.mu.Unlock()

	for _, sub := range subs {
		sub(next)
	}
	return next
}

// Subscribe registers fn to receive every new state
func (st *Store) Subscribe(fn func(State)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.subs = append(st.subs[:len(st.subs):len(st.subs)], fn)
}
