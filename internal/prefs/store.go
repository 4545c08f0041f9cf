package prefs

import (
	"context"
	"sync"
)

// Store is an atomic key-value preference store with a change stream.
type Store interface {
	// Snapshot returns the current committed contents.
	Snapshot(ctx context.Context) (*Prefs, error)

	// Subscribe streams committed snapshots. The current snapshot is sent
	// first; slow consumers only see the latest. The channel closes when
	// ctx is done or the store is closed.
	Subscribe(ctx context.Context) (<-chan *Prefs, error)

	// Edit runs fn against a Mutable view and commits its changes
	// atomically. An error from fn aborts the transaction. Implementations
	// may run fn more than once on conflict, so fn must only depend on
	// the view it is given.
	Edit(ctx context.Context, fn func(*Mutable) error) (*Prefs, error)

	// Close releases resources and closes all subscriptions.
	Close() error
}

// Broadcaster fans snapshots out to subscribers, keeping at most one
// pending snapshot per subscriber. Store implementations embed it.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]chan *Prefs
	nextID uint64
	closed bool
	done   chan struct{}
}

// Add registers a subscriber that first receives initial. The channel is
// removed and closed when ctx is done or the Broadcaster closes.
func (b *Broadcaster) Add(ctx context.Context, initial *Prefs) (<-chan *Prefs, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrStoreClosed
	}
	if b.subs == nil {
		b.subs = make(map[uint64]chan *Prefs)
		b.done = make(chan struct{})
	}
	id := b.nextID
	b.nextID++
	ch := make(chan *Prefs, 1)
	ch <- initial
	b.subs[id] = ch

	done := b.done
	go func() {
		select {
		case <-ctx.Done():
			b.remove(id)
		case <-done:
		}
	}()
	return ch, nil
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers p to every subscriber, replacing any snapshot they have
// not consumed yet.
func (b *Broadcaster) Publish(p *Prefs) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- p:
		default:
			// Drop the stale pending snapshot and queue the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
}

// Close closes every subscriber channel. It is safe to call more than once.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.done != nil {
		close(b.done)
	}
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
