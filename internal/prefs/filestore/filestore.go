// Package filestore provides a prefs.Store persisted as a TOML document.
//
// Every value is stored in its tagged text form ("b:true", "i:42", ...) so
// kinds survive the round trip exactly. Writes go to a temporary file that
// is renamed over the target. The parent directory is watched with
// fsnotify so edits made by other processes reach subscribers.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/dshills/prefkit/internal/prefs"
)

// formatVersion is written to every document.
const formatVersion = 1

type document struct {
	Version int               `toml:"version"`
	Values  map[string]string `toml:"values"`
}

// Store is a file-backed prefs.Store.
type Store struct {
	mu      sync.Mutex
	path    string
	current *prefs.Prefs
	closed  bool

	bc      prefs.Broadcaster
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	closeCh  chan struct{}
	closedWg sync.WaitGroup
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

// Open loads path (a missing file is an empty store) and starts watching
// it for external changes.
func Open(path string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:    abs,
		logger:  zap.NewNop(),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	current, err := s.load()
	if err != nil {
		return nil, err
	}
	s.current = current

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	s.watcher = w

	s.closedWg.Add(1)
	go s.processLoop()

	return s, nil
}

// Path returns the absolute path of the backing file.
func (s *Store) Path() string { return s.path }

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

// Edit applies fn to the latest on-disk contents and persists the result.
func (s *Store) Edit(ctx context.Context, fn func(*prefs.Mutable) error) (*prefs.Prefs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, prefs.ErrStoreClosed
	}

	// Pick up external edits that the watcher has not delivered yet.
	latest, err := s.load()
	if err != nil {
		return nil, err
	}
	if !latest.Equal(s.current) {
		s.current = latest
		s.bc.Publish(latest)
	}

	m := s.current.Edit()
	if err := fn(m); err != nil {
		return nil, err
	}
	if !m.Dirty() {
		return s.current, nil
	}

	next := m.Freeze()
	if err := s.write(next); err != nil {
		return nil, err
	}
	s.current = next
	s.bc.Publish(next)
	return next, nil
}

// Close stops the watcher and closes all subscriptions.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	s.mu.Unlock()

	s.closedWg.Wait()
	s.bc.Close()
	return s.watcher.Close()
}

// load reads and decodes the backing file. Undecodable entries are dropped
// so one corrupt value cannot hide the rest.
func (s *Store) load() (*prefs.Prefs, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return prefs.Empty(), nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}

	out := make(map[string]prefs.Value, len(doc.Values))
	for key, text := range doc.Values {
		v, err := prefs.ParseValue(text)
		if err != nil {
			s.logger.Debug("dropping undecodable value",
				zap.String("key", key), zap.Error(err))
			continue
		}
		out[key] = v
	}
	return prefs.FromMap(out), nil
}

func (s *Store) write(p *prefs.Prefs) error {
	doc := document{Version: formatVersion, Values: make(map[string]string, p.Len())}
	for _, key := range p.Keys() {
		v, _ := p.Get(key)
		doc.Values[key] = prefs.FormatValue(v)
	}

	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".prefs-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}

// processLoop handles incoming fsnotify events.
func (s *Store) processLoop() {
	defer s.closedWg.Done()

	for {
		select {
		case <-s.closeCh:
			return

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) ||
				ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				s.reload()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("store watcher error", zap.Error(err))
		}
	}
}

// reload re-reads the file after an external change and publishes it if
// the contents differ from what subscribers last saw.
func (s *Store) reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	latest, err := s.load()
	if err != nil {
		// Partially written by another process; the next event retries.
		s.logger.Debug("reload failed", zap.Error(err))
		return
	}
	if latest.Equal(s.current) {
		return
	}
	s.current = latest
	s.bc.Publish(latest)
}
