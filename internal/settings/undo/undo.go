// Package undo keeps a bounded history of single-field changes and
// replays them through a setter.
package undo

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/prefkit/internal/settings"
	"github.com/dshills/prefkit/internal/settings/notify"
)

// DefaultCapacity is the history size used when none is given.
const DefaultCapacity = 20

// Setter writes one field by name. *repository.Repository implements it.
type Setter interface {
	SetFrom(ctx context.Context, name string, value any, source notify.Source) error
}

// Change is one recorded field change.
type Change struct {
	Field     string
	OldValue  any
	NewValue  any
	Timestamp time.Time
}

// Manager is an undo/redo history. It is safe for concurrent use.
type Manager struct {
	setter   Setter
	capacity int
	now      func() time.Time

	mu   sync.Mutex
	undo []Change
	redo []Change
}

// New creates a manager with the given capacity. Non-positive capacity
// means DefaultCapacity.
func New(setter Setter, capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{setter: setter, capacity: capacity, now: time.Now}
}

// Record pushes a change and clears the redo history. The oldest entry is
// evicted when the history is full.
func (m *Manager) Record(field string, oldValue, newValue any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.undo = append(m.undo, Change{Field: field, OldValue: oldValue, NewValue: newValue, Timestamp: m.now()})
	if over := len(m.undo) - m.capacity; over > 0 {
		m.undo = append(m.undo[:0:0], m.undo[over:]...)
	}
	m.redo = nil
}

// Observer returns a change observer that records every change not made
// by this manager, for use with Repository.OnChange.
func (m *Manager) Observer() notify.Observer {
	return func(c notify.Change) {
		if c.Source == notify.SourceUndo || c.Source == notify.SourceRedo {
			return
		}
		m.Record(c.Field, c.OldValue, c.NewValue)
	}
}

// Undo reverts the most recent change. It reports false when the history
// is empty or the change's old value is nil; such a change is dropped.
// The setter runs without the history lock held, so listeners may query
// the manager.
func (m *Manager) Undo(ctx context.Context) (bool, error) {
	return m.replay(ctx, &m.undo, &m.redo, notify.SourceUndo, func(c Change) any { return c.OldValue })
}

// Redo reapplies the most recently undone change. It reports false when
// there is nothing to redo or the new value is nil.
func (m *Manager) Redo(ctx context.Context) (bool, error) {
	return m.replay(ctx, &m.redo, &m.undo, notify.SourceRedo, func(c Change) any { return c.NewValue })
}

func (m *Manager) replay(ctx context.Context, from, to *[]Change, source notify.Source, value func(Change) any) (bool, error) {
	m.mu.Lock()
	c, ok := pop(from)
	m.mu.Unlock()
	if !ok || settings.IsNil(value(c)) {
		return false, nil
	}

	if err := m.setter.SetFrom(ctx, c.Field, value(c), source); err != nil {
		m.mu.Lock()
		*from = append(*from, c)
		m.mu.Unlock()
		return false, err
	}

	m.mu.Lock()
	*to = append(*to, c)
	m.mu.Unlock()
	return true, nil
}

// CanUndo reports whether Undo has a change to revert.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo) > 0
}

// CanRedo reports whether Redo has a change to reapply.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo) > 0
}

// UndoDescription describes the next undo, or "" when there is none.
func (m *Manager) UndoDescription() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.undo) == 0 {
		return ""
	}
	return "Undo: " + m.undo[len(m.undo)-1].Field
}

// RedoDescription describes the next redo, or "" when there is none.
func (m *Manager) RedoDescription() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.redo) == 0 {
		return ""
	}
	return "Redo: " + m.redo[len(m.redo)-1].Field
}

// Len returns the undo and redo history sizes.
func (m *Manager) Len() (undo, redo int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo), len(m.redo)
}

// ClearHistory drops both histories.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undo, m.redo = nil, nil
}

func pop(stack *[]Change) (Change, bool) {
	s := *stack
	if len(s) == 0 {
		return Change{}, false
	}
	c := s[len(s)-1]
	*stack = s[:len(s)-1]
	return c, true
}
