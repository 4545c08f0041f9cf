// Package migration upgrades stored settings between schema versions.
//
// The stored version lives under VersionKey. Migrate selects every
// registered migration whose range lies inside [stored, current], runs
// them in ascending From order inside one store transaction, and always
// advances the stored version to the current one. A failing migration is
// rolled back on its own and reported; it does not stop the others.
package migration

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/prefkit/internal/metrics"
	"github.com/dshills/prefkit/internal/prefs"
)

// VersionKey is the reserved key holding the stored schema version.
const VersionKey = "__schema_version__"

// Migration transforms stored values from one schema version to another.
type Migration struct {
	// From is the version the migration applies to.
	From int

	// To is the version it produces.
	To int

	// Description is shown in logs.
	Description string

	// Apply stages the transformation. It must only touch m.
	Apply func(ctx context.Context, m *prefs.Mutable) error
}

// Status classifies a migration run.
type Status int

// Migration outcomes.
const (
	NoMigrationNeeded Status = iota
	Success
	PartialSuccess
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case NoMigrationNeeded:
		return "no migration needed"
	case Success:
		return "success"
	case PartialSuccess:
		return "partial success"
	default:
		return "unknown"
	}
}

// Failure is one migration that did not apply.
type Failure struct {
	// Version is the failing migration's target version.
	Version int
	Err     error
}

// Message returns the error text.
func (f Failure) Message() string {
	if f.Err == nil {
		return "unknown error"
	}
	return f.Err.Error()
}

// Result reports a migration run.
type Result struct {
	Status   Status
	From     int
	To       int
	Applied  int
	Failures []Failure

	// VersionAdvanced is set when the stored version was written, which
	// also happens when a version gap had no migrations to cover it.
	VersionAdvanced bool
}

// String summarizes the result.
func (r Result) String() string {
	switch r.Status {
	case Success:
		return fmt.Sprintf("migrated %d -> %d (%d applied)", r.From, r.To, r.Applied)
	case PartialSuccess:
		parts := make([]string, len(r.Failures))
		for i, f := range r.Failures {
			parts[i] = fmt.Sprintf("v%d: %s", f.Version, f.Message())
		}
		return fmt.Sprintf("migrated %d -> %d (%d applied, %d failed: %s)",
			r.From, r.To, r.Applied, len(r.Failures), strings.Join(parts, "; "))
	default:
		return r.Status.String()
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records migration runs.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// Manager runs migrations against a store.
type Manager struct {
	store   prefs.Store
	current int
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	migrations []Migration
}

// New creates a manager that migrates store up to currentVersion.
func New(store prefs.Store, currentVersion int, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		current: currentVersion,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CurrentVersion returns the version the code declares.
func (m *Manager) CurrentVersion() int { return m.current }

// Add registers a migration.
func (m *Manager) Add(mig Migration) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.migrations = append(m.migrations, mig)
	return m
}

// AddKeyRename registers a migration moving oldKey's value to newKey.
// Nothing happens when oldKey is absent.
func (m *Manager) AddKeyRename(from, to int, oldKey, newKey string) *Manager {
	return m.Add(Migration{
		From:        from,
		To:          to,
		Description: fmt.Sprintf("rename %s to %s", oldKey, newKey),
		Apply: func(_ context.Context, mut *prefs.Mutable) error {
			v, ok := mut.Get(oldKey)
			if !ok {
				return nil
			}
			mut.Set(newKey, v)
			mut.Remove(oldKey)
			return nil
		},
	})
}

// AddKeyDeletion registers a migration removing keys, whatever they hold.
func (m *Manager) AddKeyDeletion(from, to int, keys ...string) *Manager {
	keys = slices.Clone(keys)
	return m.Add(Migration{
		From:        from,
		To:          to,
		Description: "delete " + strings.Join(keys, ", "),
		Apply: func(_ context.Context, mut *prefs.Mutable) error {
			for _, k := range keys {
				mut.Remove(k)
			}
			return nil
		},
	})
}

// AddScript registers a Lua migration. The source is compiled now so
// syntax errors surface at registration.
func (m *Manager) AddScript(from, to int, name, source string, opts ...ScriptOption) error {
	mig, err := Script(from, to, name, source, opts...)
	if err != nil {
		return err
	}
	m.Add(mig)
	return nil
}

// StoredVersion returns the persisted version, 0 when none is stored.
func (m *Manager) StoredVersion(ctx context.Context) (int, error) {
	p, err := m.store.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("read snapshot: %w", err)
	}
	return storedVersion(p), nil
}

func storedVersion(r prefs.Reader) int {
	v, ok := r.Int(VersionKey)
	if !ok {
		return 0
	}
	return int(v)
}

// applicable returns the migrations inside [stored, current] sorted by
// From. Registration order breaks ties.
func (m *Manager) applicable(stored int) []Migration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Migration
	for _, mig := range m.migrations {
		if mig.From >= stored && mig.To <= m.current {
			out = append(out, mig)
		}
	}
	slices.SortStableFunc(out, func(a, b Migration) int { return cmp.Compare(a.From, b.From) })
	return out
}

// Migrate brings the store up to the current version. The returned error
// is reserved for store failures; migration failures are in the Result.
func (m *Manager) Migrate(ctx context.Context) (Result, error) {
	stored, err := m.StoredVersion(ctx)
	if err != nil {
		return Result{}, err
	}
	if stored >= m.current {
		return Result{Status: NoMigrationNeeded, From: stored, To: stored}, nil
	}

	start := time.Now()
	var res Result
	_, err = m.store.Edit(ctx, func(mut *prefs.Mutable) error {
		// Re-read inside the transaction; another process may have
		// migrated since the snapshot.
		stored := storedVersion(mut)
		res = Result{Status: NoMigrationNeeded, From: stored, To: stored}
		if stored >= m.current {
			return nil
		}

		for _, mig := range m.applicable(stored) {
			sp := mut.Savepoint()
			if err := run(ctx, mig, mut); err != nil {
				mut.Rollback(sp)
				res.Failures = append(res.Failures, Failure{Version: mig.To, Err: err})
				continue
			}
			res.Applied++
		}

		mut.SetInt(VersionKey, int32(m.current))
		res.To = m.current
		res.VersionAdvanced = true
		switch {
		case len(res.Failures) > 0:
			res.Status = PartialSuccess
		case res.Applied > 0:
			res.Status = Success
		}
		return nil
	})
	m.metrics.RecordTransaction("migrate", err)
	m.metrics.RecordDuration("migrate", time.Since(start))
	if err != nil {
		m.logger.Error("migration transaction failed", zap.Error(err))
		return Result{}, fmt.Errorf("migrate: %w", err)
	}

	failed := make([]int, len(res.Failures))
	for i, f := range res.Failures {
		failed[i] = f.Version
		m.logger.Warn("migration failed",
			zap.Int("to_version", f.Version),
			zap.Error(f.Err))
	}
	if res.VersionAdvanced {
		m.metrics.RecordMigration(res.To, res.Applied, failed)
		if res.Applied == 0 && len(res.Failures) == 0 {
			m.logger.Info("schema version advanced without migrations",
				zap.Int("from", res.From),
				zap.Int("to", res.To))
		} else {
			m.logger.Info("settings migrated",
				zap.Int("from", res.From),
				zap.Int("to", res.To),
				zap.Int("applied", res.Applied),
				zap.Int("failed", len(res.Failures)))
		}
	}
	return res, nil
}

// run applies one migration, turning a panic into an error.
func run(ctx context.Context, mig Migration, mut *prefs.Mutable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("migration %d -> %d panicked: %v", mig.From, mig.To, r)
		}
	}()
	if mig.Apply == nil {
		return fmt.Errorf("migration %d -> %d has no Apply func", mig.From, mig.To)
	}
	return mig.Apply(ctx, mut)
}
