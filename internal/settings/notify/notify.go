// Package notify delivers settings change notifications.
//
// Observers subscribe either to every change or to the changes of one
// field name. Delivery is synchronous by default: Notify returns after
// every matching observer has run.
package notify

import (
	"slices"
	"sync"
)

// Source identifies the component that produced a change.
type Source string

// Change sources.
const (
	SourceUpdate  Source = "update"
	SourceSet     Source = "set"
	SourceUndo    Source = "undo"
	SourceRedo    Source = "redo"
	SourceReset   Source = "reset"
	SourceImport  Source = "import"
	SourceMigrate Source = "migrate"
)

// Change describes one field changing value.
type Change struct {
	// Field is the field name.
	Field string

	// Key is the field's persistence key.
	Key string

	// OldValue is the previous value (may be nil).
	OldValue any

	// NewValue is the new value (may be nil for nullable fields).
	NewValue any

	// Source identifies where the change came from.
	Source Source
}

// Observer is called when a field changes.
type Observer func(change Change)

type entry struct {
	id       uint64
	observer Observer
}

// Subscription represents an active observer subscription.
type Subscription struct {
	id       uint64
	notifier *Notifier
}

// Unsubscribe removes this subscription. It is safe to call more than
// once.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.notifier != nil {
		s.notifier.unsubscribe(s.id)
	}
}

// Notifier manages change subscriptions.
type Notifier struct {
	mu sync.RWMutex

	// Observers of every change
	global []entry

	// Observers keyed by field name
	fields map[string][]entry

	nextID uint64

	async  bool
	buffer chan Change
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAsync delivers changes from a background goroutine through a
// buffer of the given size. Changes are still delivered in order.
func WithAsync(bufferSize int) Option {
	return func(n *Notifier) {
		if bufferSize > 0 {
			n.async = true
			n.buffer = make(chan Change, bufferSize)
		}
	}
}

// New creates a Notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		fields: make(map[string][]entry),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.async {
		n.wg.Add(1)
		go n.processAsync()
	}
	return n
}

// Subscribe registers an observer for every change.
func (n *Notifier) Subscribe(observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.global = append(n.global, entry{id: id, observer: observer})
	return &Subscription{id: id, notifier: n}
}

// SubscribeField registers an observer for changes to one field name.
func (n *Notifier) SubscribeField(field string, observer Observer) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.fields[field] = append(n.fields[field], entry{id: id, observer: observer})
	return &Subscription{id: id, notifier: n}
}

// Notify delivers a change to matching observers.
func (n *Notifier) Notify(change Change) {
	n.mu.RLock()
	closed := n.closed
	n.mu.RUnlock()
	if closed {
		return
	}

	if n.async {
		select {
		case n.buffer <- change:
		case <-n.done:
		}
		return
	}
	n.deliver(change)
}

// NotifyAll delivers changes in order.
func (n *Notifier) NotifyAll(changes []Change) {
	for _, c := range changes {
		n.Notify(c)
	}
}

// Len returns the number of active subscriptions.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	total := len(n.global)
	for _, obs := range n.fields {
		total += len(obs)
	}
	return total
}

// Close shuts down the notifier. Buffered async changes are drained
// first. It is safe to call Close multiple times.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	close(n.done)
	n.wg.Wait()
}

func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	match := func(e entry) bool { return e.id == id }
	n.global = slices.DeleteFunc(n.global, match)
	for field, obs := range n.fields {
		obs = slices.DeleteFunc(obs, match)
		if len(obs) == 0 {
			delete(n.fields, field)
		} else {
			n.fields[field] = obs
		}
	}
}

// deliver calls global observers, then field observers, each in
// subscription order.
func (n *Notifier) deliver(change Change) {
	n.mu.RLock()
	observers := make([]Observer, 0, len(n.global)+len(n.fields[change.Field]))
	for _, e := range n.global {
		observers = append(observers, e.observer)
	}
	for _, e := range n.fields[change.Field] {
		observers = append(observers, e.observer)
	}
	n.mu.RUnlock()

	// Call observers outside the lock
	for _, obs := range observers {
		obs(change)
	}
}

func (n *Notifier) processAsync() {
	defer n.wg.Done()

	for {
		select {
		case change := <-n.buffer:
			n.deliver(change)
		case <-n.done:
			for {
				select {
				case change := <-n.buffer:
					n.deliver(change)
				default:
					return
				}
			}
		}
	}
}

// Batch collects changes and delivers them together.
type Batch struct {
	notifier *Notifier
	mu       sync.Mutex
	changes  []Change
}

// NewBatch creates a batch for collecting changes.
func (n *Notifier) NewBatch() *Batch {
	return &Batch{notifier: n}
}

// Add appends a change to the batch.
func (b *Batch) Add(change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changes = append(b.changes, change)
}

// Changes returns a copy of the pending changes.
func (b *Batch) Changes() []Change {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.changes)
}

// Commit delivers pending changes in the order they were added and
// clears the batch.
func (b *Batch) Commit() {
	b.mu.Lock()
	changes := b.changes
	b.changes = nil
	b.mu.Unlock()

	b.notifier.NotifyAll(changes)
}

// Discard clears the batch without delivering.
func (b *Batch) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changes = nil
}

// Len returns the number of pending changes.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.changes)
}
