// Package redisstore provides a prefs.Store backed by a Redis hash.
//
// Values live in the hash "<namespace>:prefs" in their tagged text form.
// Edits use optimistic transactions (WATCH / MULTI / EXEC) and are retried
// when another client commits first. After each commit a notification is
// published on "<namespace>:changes"; subscribers re-read the hash when it
// arrives.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dshills/prefkit/internal/prefs"
)

// DefaultMaxRetries bounds optimistic transaction retries.
const DefaultMaxRetries = 16

// Store is a Redis-backed prefs.Store.
type Store struct {
	rdb        *redis.Client
	hashKey    string
	channel    string
	maxRetries int
	logger     *zap.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ prefs.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxRetries sets how many times a conflicting Edit is retried.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// Connect parses a redis:// URL, verifies connectivity and returns a
// store rooted at namespace.
func Connect(ctx context.Context, url, namespace string, opts ...Option) (*Store, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return New(rdb, namespace, opts...), nil
}

// New wraps an existing client. The store owns the client and closes it.
func New(rdb *redis.Client, namespace string, opts ...Option) *Store {
	if namespace == "" {
		namespace = "prefkit"
	}
	s := &Store{
		rdb:        rdb,
		hashKey:    namespace + ":prefs",
		channel:    namespace + ":changes",
		maxRetries: DefaultMaxRetries,
		logger:     zap.NewNop(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot reads the whole hash.
func (s *Store) Snapshot(ctx context.Context) (*prefs.Prefs, error) {
	if s.isClosed() {
		return nil, prefs.ErrStoreClosed
	}
	return s.read(ctx, s.rdb)
}

// Edit applies fn inside an optimistic transaction.
func (s *Store) Edit(ctx context.Context, fn func(*prefs.Mutable) error) (*prefs.Prefs, error) {
	if s.isClosed() {
		return nil, prefs.ErrStoreClosed
	}

	var committed *prefs.Prefs
	txf := func(tx *redis.Tx) error {
		current, err := s.read(ctx, tx)
		if err != nil {
			return err
		}
		m := current.Edit()
		if err := fn(m); err != nil {
			return err
		}
		changed := m.Changed()
		if len(changed) == 0 {
			committed = current
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range changed {
				if v, ok := m.Get(key); ok {
					pipe.HSet(ctx, s.hashKey, key, prefs.FormatValue(v))
				} else {
					pipe.HDel(ctx, s.hashKey, key)
				}
			}
			pipe.Publish(ctx, s.channel, len(changed))
			return nil
		})
		if err != nil {
			return err
		}
		committed = m.Freeze()
		return nil
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, s.hashKey)
		if err == nil {
			return committed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("transaction conflict, retrying", zap.Int("attempt", attempt+1))
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w after %d attempts", prefs.ErrConflict, s.maxRetries)
}

// Subscribe streams snapshots, re-reading the hash on every change
// notification.
func (s *Store) Subscribe(ctx context.Context) (<-chan *prefs.Prefs, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, prefs.ErrStoreClosed
	}
	s.mu.Unlock()

	pubsub := s.rdb.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", s.channel, err)
	}

	initial, err := s.read(ctx, s.rdb)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	var bc prefs.Broadcaster
	out, err := bc.Add(ctx, initial)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer bc.Close()
		defer pubsub.Close()

		last := initial
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				next, err := s.read(ctx, s.rdb)
				if err != nil {
					s.logger.Warn("re-reading store after change", zap.Error(err))
					continue
				}
				if next.Equal(last) {
					continue
				}
				last = next
				bc.Publish(next)
			}
		}
	}()
	return out, nil
}

// Close ends active subscriptions and closes the Redis client.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	return s.rdb.Close()
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (s *Store) read(ctx context.Context, c hashReader) (*prefs.Prefs, error) {
	raw, err := c.HGetAll(ctx, s.hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.hashKey, err)
	}
	out := make(map[string]prefs.Value, len(raw))
	for key, text := range raw {
		v, err := prefs.ParseValue(text)
		if err != nil {
			s.logger.Debug("dropping undecodable value", zap.String("key", key), zap.Error(err))
			continue
		}
		out[key] = v
	}
	return prefs.FromMap(out), nil
}
