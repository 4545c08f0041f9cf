// Package memstore provides an in-memory prefs.Store.
//
// Transactions are serialized by a mutex, so every Edit observes the
// result of the previous one. It is used by tests and by applications that
// persist settings elsewhere.
package memstore

import (
	"context"
	"sync"

	"github.com/dshills/prefkit/internal/prefs"
)

// Store is an in-memory prefs.Store.
type Store struct {
	mu      sync.Mutex
	current *prefs.Prefs
	commits int
	closed  bool

	bc prefs.Broadcaster
}

var _ prefs.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{current: prefs.Empty()}
}

// NewWith creates a store seeded with initial values.
func NewWith(initial map[string]prefs.Value) *Store {
	return &Store{current: prefs.FromMap(initial)}
}

// Snapshot returns the current contents.
func (s *Store) Snapshot(ctx context.Context) (*prefs.Prefs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, prefs.ErrStoreClosed
	}
	return s.current, nil
}

// Subscribe streams committed snapshots.
func (s *Store) Subscribe(ctx context.Context) (<-chan *prefs.Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, prefs.ErrStoreClosed
	}
	return s.bc.Add(ctx, s.current)
}

// Edit applies fn atomically. Nothing is committed or published when fn
// fails or stages no effective change.
func (s *Store) Edit(ctx context.Context, fn func(*prefs.Mutable) error) (*prefs.Prefs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, prefs.ErrStoreClosed
	}

	m := s.current.Edit()
	if err := fn(m); err != nil {
		return nil, err
	}
	if !m.Dirty() {
		return s.current, nil
	}

	s.current = m.Freeze()
	s.commits++
	s.bc.Publish(s.current)
	return s.current, nil
}

// Commits returns how many transactions changed the store.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Close closes all subscriptions.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.bc.Close()
	return nil
}
