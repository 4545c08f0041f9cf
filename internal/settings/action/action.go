// Package action maps button field action ids to handlers.
//
// A Registry is built by the composition root and passed to whatever
// renders button fields. There is no package-level registry.
package action

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrNoHandler indicates no handler is registered for an action id.
	ErrNoHandler = errors.New("action: no handler registered")

	// ErrPanic indicates a handler panicked.
	ErrPanic = errors.New("action: handler panic")
)

// Handler runs an action.
type Handler func(ctx context.Context) error

// Action describes how a button action is presented.
type Action struct {
	ID                   string
	RequiresConfirmation bool
	Dangerous            bool
	ConfirmationTitle    string
	ConfirmationMessage  string
}

// Dangerous returns an Action that requires confirmation and is marked
// destructive.
func Dangerous(id, title, message string) Action {
	return Action{
		ID:                   id,
		RequiresConfirmation: true,
		Dangerous:            true,
		ConfirmationTitle:    title,
		ConfirmationMessage:  message,
	}
}

func (a Action) withDefaults() Action {
	if a.ConfirmationTitle == "" {
		a.ConfirmationTitle = "Confirm"
	}
	if a.ConfirmationMessage == "" {
		a.ConfirmationMessage = "Are you sure?"
	}
	return a
}

type entry struct {
	action  Action
	handler Handler
}

// Registry holds action handlers by id.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	logger  *zap.Logger
}

// NewRegistry creates an empty registry. A nil logger disables logging.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{entries: make(map[string]entry), logger: logger}
}

// Register installs h for a.ID, replacing any previous handler.
func (r *Registry) Register(a Action, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[a.ID] = entry{action: a.withDefaults(), handler: h}
}

// Unregister removes the handler for id.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Lookup reports whether a handler is registered for id.
func (r *Registry) Lookup(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.handler, ok
}

// Describe returns the presentation of id.
func (r *Registry) Describe(id string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.action, ok
}

// List returns the registered ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Execute runs the handler for id. Confirmation is the caller's job; the
// registry only describes it. A panicking handler returns ErrPanic.
func (r *Registry) Execute(ctx context.Context, id string) error {
	h, ok := r.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, id)
	}
	if err := run(ctx, id, h); err != nil {
		r.logger.Warn("action failed", zap.String("action", id), zap.Error(err))
		return err
	}
	r.logger.Debug("action executed", zap.String("action", id))
	return nil
}

func run(ctx context.Context, id string, h Handler) (err error) {
	defer func() {
		if p := recover(); p != nil {
			stack := make([]byte, 4096)
			n := runtime.Stack(stack, false)
			err = fmt.Errorf("%w for %s: %v\n%s", ErrPanic, id, p, stack[:n])
		}
	}()
	return h(ctx)
}
