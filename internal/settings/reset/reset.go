// Package reset restores settings to their schema defaults and captures
// ad hoc snapshots for preview and cancel flows.
package reset

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/prefkit/internal/metrics"
	"github.com/dshills/prefkit/internal/prefs"
	"github.com/dshills/prefkit/internal/settings"
	"github.com/dshills/prefkit/internal/settings/notify"
)

// Snapshot holds field values by name. A nil value means the field was
// not stored when the snapshot was taken.
type Snapshot struct {
	Timestamp time.Time
	Values    map[string]any
}

// Option configures a Manager.
type Option func(*config)

type config struct {
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	onChanges func([]notify.Change)
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records reset counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithClock overrides the snapshot timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithChangeHandler receives the field changes a reset or restore
// committed.
func WithChangeHandler(fn func([]notify.Change)) Option {
	return func(c *config) { c.onChanges = fn }
}

// Manager resets fields of one schema.
type Manager[M any] struct {
	store  prefs.Store
	schema *settings.Schema[M]
	cfg    config
}

// New creates a reset manager.
func New[M any](store prefs.Store, schema *settings.Schema[M], opts ...Option) *Manager[M] {
	cfg := config{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager[M]{store: store, schema: schema, cfg: cfg}
}

// ResetField writes the named field's default. It reports false for an
// unknown name.
func (m *Manager[M]) ResetField(ctx context.Context, name string) (bool, error) {
	if _, ok := m.schema.FieldByName(name); !ok {
		return false, nil
	}
	n, err := m.ResetFields(ctx, name)
	return n == 1, err
}

// ResetFields writes the defaults of the named fields in one transaction
// and returns how many names resolved. Unknown names are ignored. A
// default that cannot be encoded is skipped, not counted, and reported
// in the returned settings.WriteErrors.
func (m *Manager[M]) ResetFields(ctx context.Context, names ...string) (int, error) {
	fields := make([]settings.Field[M], 0, len(names))
	for _, name := range names {
		if f, ok := m.schema.FieldByName(name); ok {
			fields = append(fields, f)
		}
	}
	return m.reset(ctx, fields)
}

// ResetCategory resets the resettable fields of one category.
func (m *Manager[M]) ResetCategory(ctx context.Context, categoryID string) (int, error) {
	return m.reset(ctx, m.schema.ResettableFieldsInCategory(categoryID))
}

// ResetUISettings resets the user-facing fields not marked NoReset.
func (m *Manager[M]) ResetUISettings(ctx context.Context) (int, error) {
	var fields []settings.Field[M]
	for _, f := range m.schema.UIFields() {
		if !f.Meta().NoReset {
			fields = append(fields, f)
		}
	}
	return m.reset(ctx, fields)
}

// ResetAll resets every field not marked NoReset.
func (m *Manager[M]) ResetAll(ctx context.Context) (int, error) {
	return m.reset(ctx, m.schema.ResettableFields())
}

func (m *Manager[M]) reset(ctx context.Context, fields []settings.Field[M]) (int, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	def := m.schema.Default()

	var count int
	var failed settings.WriteErrors
	var changes []notify.Change
	_, err := m.store.Edit(ctx, func(mut *prefs.Mutable) error {
		count, failed, changes = 0, nil, nil
		for _, f := range fields {
			old, present := f.ReadAny(mut)
			if !present {
				old = f.GetAny(def)
			}
			value := f.GetAny(def)
			if err := f.WriteAny(mut, value); err != nil {
				failed = append(failed, asWriteError(f, err))
				continue
			}
			count++
			if !f.EqualAny(old, value) {
				changes = append(changes, notify.Change{
					Field:    f.Name(),
					Key:      f.KeyName(),
					OldValue: old,
					NewValue: value,
					Source:   notify.SourceReset,
				})
			}
		}
		return nil
	})
	m.cfg.metrics.RecordTransaction("reset", err)
	if err != nil {
		m.cfg.logger.Error("reset failed", zap.Error(err))
		return 0, fmt.Errorf("reset: %w", err)
	}

	m.cfg.metrics.RecordReset(count)
	m.cfg.logger.Debug("fields reset", zap.Int("count", count), zap.Int("changed", len(changes)))
	if m.cfg.onChanges != nil && len(changes) > 0 {
		m.cfg.onChanges(changes)
	}
	if len(failed) > 0 {
		return count, failed
	}
	return count, nil
}

// CreateSnapshot reads the named fields, or every field when no names are
// given. Unknown names are ignored.
func (m *Manager[M]) CreateSnapshot(ctx context.Context, names ...string) (Snapshot, error) {
	p, err := m.store.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	fields := m.schema.Fields()
	if len(names) > 0 {
		fields = fields[:0]
		for _, name := range names {
			if f, ok := m.schema.FieldByName(name); ok {
				fields = append(fields, f)
			}
		}
	}

	values := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := f.ReadAny(p)
		if !ok {
			v = nil
		}
		values[f.Name()] = v
	}
	return Snapshot{Timestamp: m.cfg.now(), Values: values}, nil
}

// RestoreSnapshot writes a snapshot back in one transaction and returns
// how many fields were written. Nil values and unknown names are skipped,
// so fields absent at snapshot time keep their current value.
func (m *Manager[M]) RestoreSnapshot(ctx context.Context, snap Snapshot) (int, error) {
	var count int
	var failed settings.WriteErrors
	var changes []notify.Change
	_, err := m.store.Edit(ctx, func(mut *prefs.Mutable) error {
		count, failed, changes = 0, nil, nil
		// Schema order keeps the transaction and notifications
		// deterministic.
		for _, f := range m.schema.Fields() {
			value, ok := snap.Values[f.Name()]
			if !ok || settings.IsNil(value) {
				continue
			}
			old, present := f.ReadAny(mut)
			if !present {
				old = f.GetAny(m.schema.Default())
			}
			if err := f.WriteAny(mut, value); err != nil {
				failed = append(failed, asWriteError(f, err))
				continue
			}
			count++
			if !f.EqualAny(old, value) {
				changes = append(changes, notify.Change{
					Field:    f.Name(),
					Key:      f.KeyName(),
					OldValue: old,
					NewValue: value,
					Source:   notify.SourceReset,
				})
			}
		}
		return nil
	})
	m.cfg.metrics.RecordTransaction("restore", err)
	if err != nil {
		m.cfg.logger.Error("restore failed", zap.Error(err))
		return 0, fmt.Errorf("restore snapshot: %w", err)
	}
	if m.cfg.onChanges != nil && len(changes) > 0 {
		m.cfg.onChanges(changes)
	}
	if len(failed) > 0 {
		return count, failed
	}
	return count, nil
}

func asWriteError[M any](f settings.Field[M], err error) *settings.WriteError {
	if we, ok := err.(*settings.WriteError); ok {
		return we
	}
	return &settings.WriteError{Field: f.Name(), Key: f.StoreKey(), Err: err}
}
