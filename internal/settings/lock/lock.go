// Package lock gates settings behind a PIN.
//
// Lock state lives in the settings store under reserved keys, so it is
// shared by every process using the same store. With a zero timeout an
// enabled lock stays locked until Unlock; otherwise it relocks once the
// timeout has elapsed since the last unlock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dshills/prefkit/internal/metrics"
	"github.com/dshills/prefkit/internal/prefs"
)

// Reserved store keys. Application schemas must not use them.
const (
	KeyEnabled    = "__settings_lock_enabled__"
	KeyPinHash    = "__settings_pin_hash__"
	KeyTimeout    = "__settings_lock_timeout__"
	KeyLastUnlock = "__settings_last_unlock__"
)

// ErrPinSet is returned by EnableLock when a PIN already exists. Replacing
// it requires the current PIN through ChangePin.
var ErrPinSet = errors.New("lock: a PIN is already set")

// MinPinLength is the shortest accepted PIN, in characters.
const MinPinLength = 4

// UnlockResult is the outcome of Unlock.
type UnlockResult int

// Unlock outcomes.
const (
	Success UnlockResult = iota
	InvalidPin
	NotEnabled
)

// String returns the result name.
func (r UnlockResult) String() string {
	switch r {
	case Success:
		return "success"
	case InvalidPin:
		return "invalid_pin"
	case NotEnabled:
		return "not_enabled"
	default:
		return "unknown"
	}
}

// State is the decoded lock state.
type State struct {
	Enabled    bool
	HasPin     bool
	Timeout    time.Duration
	LastUnlock time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithHasher sets the PIN hasher. The default is WeakHasher.
func WithHasher(h PinHasher) Option {
	return func(m *Manager) {
		if h != nil {
			m.hasher = h
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics counts unlock attempts.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager reads and changes lock state.
type Manager struct {
	store   prefs.Store
	hasher  PinHasher
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a lock manager over store.
func New(store prefs.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		hasher: WeakHasher{},
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func readState(r prefs.Reader) State {
	var s State
	s.Enabled, _ = r.Bool(KeyEnabled)
	_, s.HasPin = r.String(KeyPinHash)
	if ms, ok := r.Long(KeyTimeout); ok {
		s.Timeout = time.Duration(ms) * time.Millisecond
	}
	if ms, ok := r.Long(KeyLastUnlock); ok && ms > 0 {
		s.LastUnlock = time.UnixMilli(ms)
	}
	return s
}

// Locked derives the locked state at now.
func (s State) Locked(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.Timeout == 0 {
		return true
	}
	return now.UnixMilli()-s.LastUnlock.UnixMilli() > s.Timeout.Milliseconds()
}

// State returns the current lock state.
func (m *Manager) State(ctx context.Context) (State, error) {
	p, err := m.store.Snapshot(ctx)
	if err != nil {
		return State{}, fmt.Errorf("read snapshot: %w", err)
	}
	return readState(p), nil
}

// IsLockEnabled reports whether the lock is enabled.
func (m *Manager) IsLockEnabled(ctx context.Context) (bool, error) {
	s, err := m.State(ctx)
	return s.Enabled, err
}

// IsLocked reports whether settings are currently locked.
func (m *Manager) IsLocked(ctx context.Context) (bool, error) {
	s, err := m.State(ctx)
	if err != nil {
		return false, err
	}
	return s.Locked(m.now()), nil
}

// HasPinSet reports whether a PIN hash is stored.
func (m *Manager) HasPinSet(ctx context.Context) (bool, error) {
	s, err := m.State(ctx)
	return s.HasPin, err
}

// WatchLocked streams the locked state, sending only transitions. A
// timeout expiring relocks without any store change.
func (m *Manager) WatchLocked(ctx context.Context) (<-chan bool, error) {
	snaps, err := m.store.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan bool)
	go func() {
		defer close(out)
		timer := time.NewTimer(time.Hour)
		timer.Stop()
		defer timer.Stop()

		var state State
		var last, sent bool
		emit := func() bool {
			now := m.now()
			locked := state.Locked(now)
			if state.Enabled && !locked && state.Timeout > 0 {
				wait := state.LastUnlock.Add(state.Timeout).Sub(now) + time.Millisecond
				timer.Reset(wait)
			}
			if sent && locked == last {
				return true
			}
			select {
			case out <- locked:
				last, sent = locked, true
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case p, ok := <-snaps:
				if !ok {
					return
				}
				state = readState(p)
				if !emit() {
					return
				}
			case <-timer.C:
				if !emit() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// EnableLock stores pin's hash and enables the lock. It reports false
// when the PIN is too short and fails with ErrPinSet when a PIN exists.
func (m *Manager) EnableLock(ctx context.Context, pin string) (bool, error) {
	if utf8.RuneCountInString(pin) < MinPinLength {
		return false, nil
	}
	hash, err := m.hasher.Hash(pin)
	if err != nil {
		return false, fmt.Errorf("hash pin: %w", err)
	}
	if err := m.edit(ctx, "lock_enable", func(mut *prefs.Mutable) error {
		if _, ok := mut.String(KeyPinHash); ok {
			return ErrPinSet
		}
		mut.SetBool(KeyEnabled, true)
		mut.SetString(KeyPinHash, hash)
		return nil
	}); err != nil {
		return false, err
	}
	m.logger.Info("settings lock enabled")
	return true, nil
}

// DisableLock disables the lock and forgets the PIN. It reports false when
// pin does not match.
func (m *Manager) DisableLock(ctx context.Context, pin string) (bool, error) {
	ok, err := m.ValidatePin(ctx, pin)
	if err != nil || !ok {
		return false, err
	}
	if err := m.edit(ctx, "lock_disable", func(mut *prefs.Mutable) error {
		mut.SetBool(KeyEnabled, false)
		mut.Remove(KeyPinHash)
		mut.Remove(KeyLastUnlock)
		return nil
	}); err != nil {
		return false, err
	}
	m.logger.Info("settings lock disabled")
	return true, nil
}

// ValidatePin reports whether pin matches the stored hash. With no PIN
// set it reports false.
func (m *Manager) ValidatePin(ctx context.Context, pin string) (bool, error) {
	p, err := m.store.Snapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("read snapshot: %w", err)
	}
	hash, ok := p.String(KeyPinHash)
	if !ok {
		return false, nil
	}
	return m.hasher.Verify(pin, hash), nil
}

// Unlock records an unlock at the current time when pin matches.
func (m *Manager) Unlock(ctx context.Context, pin string) (UnlockResult, error) {
	has, err := m.HasPinSet(ctx)
	if err != nil {
		return InvalidPin, err
	}
	result := NotEnabled
	if has {
		result = InvalidPin
		ok, err := m.ValidatePin(ctx, pin)
		if err != nil {
			return InvalidPin, err
		}
		if ok {
			result = Success
		}
	}
	m.metrics.RecordUnlock(result.String())
	if result != Success {
		m.logger.Debug("unlock refused", zap.Stringer("result", result))
		return result, nil
	}

	now := m.now().UnixMilli()
	if err := m.edit(ctx, "unlock", func(mut *prefs.Mutable) error {
		mut.SetLong(KeyLastUnlock, now)
		return nil
	}); err != nil {
		return InvalidPin, err
	}
	return Success, nil
}

// Lock relocks immediately.
func (m *Manager) Lock(ctx context.Context) error {
	return m.edit(ctx, "lock", func(mut *prefs.Mutable) error {
		mut.SetLong(KeyLastUnlock, 0)
		return nil
	})
}

// SetLockTimeout sets how long an unlock lasts. Zero keeps the lock
// engaged until the next explicit Unlock.
func (m *Manager) SetLockTimeout(ctx context.Context, timeout time.Duration) error {
	if timeout < 0 {
		return fmt.Errorf("negative lock timeout %s", timeout)
	}
	return m.edit(ctx, "lock_timeout", func(mut *prefs.Mutable) error {
		mut.SetLong(KeyTimeout, timeout.Milliseconds())
		return nil
	})
}

// ChangePin replaces the PIN. It reports false when current does not
// match or next is too short.
func (m *Manager) ChangePin(ctx context.Context, current, next string) (bool, error) {
	ok, err := m.ValidatePin(ctx, current)
	if err != nil || !ok {
		return false, err
	}
	if utf8.RuneCountInString(next) < MinPinLength {
		return false, nil
	}
	hash, err := m.hasher.Hash(next)
	if err != nil {
		return false, fmt.Errorf("hash pin: %w", err)
	}
	if err := m.edit(ctx, "lock_change_pin", func(mut *prefs.Mutable) error {
		mut.SetString(KeyPinHash, hash)
		return nil
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) edit(ctx context.Context, op string, fn func(*prefs.Mutable) error) error {
	_, err := m.store.Edit(ctx, fn)
	m.metrics.RecordTransaction(op, err)
	if errors.Is(err, ErrPinSet) {
		return err
	}
	if err != nil {
		m.logger.Error("lock state update failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
