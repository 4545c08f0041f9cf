// Package repository is the typed read/write surface over a settings
// store.
//
// A Repository materializes the store into a model through its schema,
// keeps a de-duplicated live view of that model, and applies whole-model
// and single-field updates inside one store transaction each. Listeners
// registered with OnChange and OnFieldChange run synchronously after the
// transaction commits, once per changed field in schema order.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/prefkit/internal/metrics"
	"github.com/dshills/prefkit/internal/prefs"
	"github.com/dshills/prefkit/internal/settings"
	"github.com/dshills/prefkit/internal/settings/notify"
)

// Result reports the outcome of an update.
type Result struct {
	// Changes are the committed field changes in schema order.
	Changes []notify.Change

	// Failed lists fields whose new value could not be encoded. They were
	// skipped; the rest of the update committed.
	Failed settings.WriteErrors
}

// Changed reports whether anything was written.
func (r Result) Changed() bool { return len(r.Changes) > 0 }

// Option configures a Repository.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	metrics  *metrics.Metrics
	notifier *notify.Notifier
	validate bool
	strict   bool
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records repository activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithNotifier shares a notifier, for example an async one. The
// repository closes it on Close.
func WithNotifier(n *notify.Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithValidation rejects Set and Update values that fail their field's
// validation rules before anything is written.
func WithValidation() Option {
	return func(o *options) {
		o.validate = true
	}
}

// WithStrictWrites aborts an Update when any field fails to encode,
// instead of skipping that field.
func WithStrictWrites() Option {
	return func(o *options) {
		o.strict = true
	}
}

// Repository bridges a prefs.Store and the typed model M.
type Repository[M any] struct {
	store    prefs.Store
	schema   *settings.Schema[M]
	notifier *notify.Notifier
	logger   *zap.Logger
	metrics  *metrics.Metrics
	validate bool
	strict   bool
}

// New creates a repository over store. The store stays owned by the
// caller.
func New[M any](store prefs.Store, schema *settings.Schema[M], opts ...Option) *Repository[M] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.notifier == nil {
		o.notifier = notify.New()
	}
	return &Repository[M]{
		store:    store,
		schema:   schema,
		notifier: o.notifier,
		logger:   o.logger,
		metrics:  o.metrics,
		validate: o.validate,
		strict:   o.strict,
	}
}

// Schema returns the repository's schema.
func (r *Repository[M]) Schema() *settings.Schema[M] { return r.schema }

// Store returns the underlying store.
func (r *Repository[M]) Store() prefs.Store { return r.store }

// Current materializes the current store snapshot.
func (r *Repository[M]) Current(ctx context.Context) (M, error) {
	p, err := r.store.Snapshot(ctx)
	if err != nil {
		var zero M
		return zero, fmt.Errorf("read snapshot: %w", err)
	}
	return r.schema.Materialize(p), nil
}

// Get returns the current value of the named field. ok is false for an
// unknown name.
func (r *Repository[M]) Get(ctx context.Context, name string) (value any, ok bool, err error) {
	f, found := r.schema.FieldByName(name)
	if !found {
		return nil, false, nil
	}
	m, err := r.Current(ctx)
	if err != nil {
		return nil, false, err
	}
	return f.GetAny(m), true, nil
}

// Watch streams the materialized model. The current model is sent first;
// after that a model is sent only when it differs from the previous one.
// The channel closes when ctx is done or the store closes.
func (r *Repository[M]) Watch(ctx context.Context) (<-chan M, error) {
	snaps, err := r.store.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan M)
	go func() {
		defer close(out)
		var prev M
		first := true
		for p := range snaps {
			m := r.schema.Materialize(p)
			if !first && r.schema.Equal(prev, m) {
				continue
			}
			first = false
			prev = m
			r.metrics.RecordEmission()
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Update applies transform to the current model and writes the fields
// whose value changed inside one transaction. transform may run more
// than once if the store retries the transaction, so it must be pure.
func (r *Repository[M]) Update(ctx context.Context, transform func(M) M) (Result, error) {
	return r.update(ctx, "update", notify.SourceUpdate, transform)
}

func (r *Repository[M]) update(ctx context.Context, op string, source notify.Source, transform func(M) M) (Result, error) {
	start := time.Now()
	var res Result
	batch := r.notifier.NewBatch()

	_, err := r.store.Edit(ctx, func(mut *prefs.Mutable) error {
		res = Result{}
		batch.Discard()

		current := r.schema.Materialize(mut)
		next := transform(current)

		for _, f := range r.schema.Diff(current, next) {
			oldV, newV := f.GetAny(current), f.GetAny(next)
			if r.validate {
				if err := r.schema.Validate(f.Name(), newV); err != nil {
					return err
				}
			}
			if err := f.WriteAny(mut, newV); err != nil {
				var we *settings.WriteError
				if !errors.As(err, &we) {
					we = &settings.WriteError{Field: f.Name(), Key: f.StoreKey(), Err: err}
				}
				if r.strict {
					return settings.WriteErrors{we}
				}
				res.Failed = append(res.Failed, we)
				continue
			}
			batch.Add(notify.Change{
				Field:    f.Name(),
				Key:      f.KeyName(),
				OldValue: oldV,
				NewValue: newV,
				Source:   source,
			})
		}
		return nil
	})
	r.metrics.RecordTransaction(op, err)
	r.metrics.RecordDuration(op, time.Since(start))
	if err != nil {
		var ve *settings.ValidationError
		var wes settings.WriteErrors
		switch {
		case errors.As(err, &ve), errors.As(err, &wes):
			r.logger.Debug("update rejected", zap.String("op", op), zap.Error(err))
		default:
			r.logger.Error("update failed", zap.String("op", op), zap.Error(err))
		}
		batch.Discard()
		return Result{}, err
	}

	res.Changes = batch.Changes()
	for _, we := range res.Failed {
		r.metrics.RecordWriteError(we.Field)
		r.logger.Warn("field write skipped",
			zap.String("field", we.Field),
			zap.String("key", we.Key),
			zap.Error(we.Err))
	}
	r.commit(batch)
	return res, nil
}

// Set writes one field by name. An unknown name is ignored. Listeners are
// notified only when the value differs from the current one.
func (r *Repository[M]) Set(ctx context.Context, name string, value any) error {
	return r.SetFrom(ctx, name, value, notify.SourceSet)
}

// SetFrom is Set with an explicit change source.
func (r *Repository[M]) SetFrom(ctx context.Context, name string, value any, source notify.Source) error {
	f, ok := r.schema.FieldByName(name)
	if !ok {
		r.logger.Debug("set on unknown field ignored", zap.String("field", name))
		return nil
	}
	if r.validate {
		if err := r.schema.Validate(name, value); err != nil {
			return err
		}
	}

	start := time.Now()
	var change *notify.Change
	_, err := r.store.Edit(ctx, func(mut *prefs.Mutable) error {
		change = nil
		old, present := f.ReadAny(mut)
		if !present {
			old = f.GetAny(r.schema.Default())
		}
		if f.EqualAny(old, value) {
			return nil
		}
		if err := f.WriteAny(mut, value); err != nil {
			return err
		}
		change = &notify.Change{
			Field:    f.Name(),
			Key:      f.KeyName(),
			OldValue: old,
			NewValue: value,
			Source:   source,
		}
		return nil
	})
	r.metrics.RecordTransaction("set", err)
	r.metrics.RecordDuration("set", time.Since(start))
	if err != nil {
		var we *settings.WriteError
		if errors.As(err, &we) {
			r.metrics.RecordWriteError(we.Field)
			r.logger.Warn("field write failed", zap.String("field", name), zap.Error(err))
		} else {
			r.logger.Error("set failed", zap.String("field", name), zap.Error(err))
		}
		return err
	}
	if change != nil {
		r.publish([]notify.Change{*change})
	}
	return nil
}

func (r *Repository[M]) publish(changes []notify.Change) {
	batch := r.notifier.NewBatch()
	for _, c := range changes {
		batch.Add(c)
	}
	r.commit(batch)
}

// commit delivers one transaction's changes together.
func (r *Repository[M]) commit(batch *notify.Batch) {
	n := batch.Len()
	if n == 0 {
		return
	}
	for _, c := range batch.Changes() {
		r.metrics.RecordFieldWrite(c.Field)
	}
	batch.Commit()
	r.metrics.RecordNotifications(n)
}

// Notify delivers changes made outside Update and Set, such as resets or
// imports, to this repository's listeners.
func (r *Repository[M]) Notify(changes []notify.Change) {
	r.publish(changes)
}

// Listeners returns the number of registered listeners.
func (r *Repository[M]) Listeners() int { return r.notifier.Len() }

// OnChange registers a listener for every field change.
func (r *Repository[M]) OnChange(observer notify.Observer) *notify.Subscription {
	return r.notifier.Subscribe(observer)
}

// OnFieldChange registers a listener for one field's changes.
func (r *Repository[M]) OnFieldChange(name string, observer notify.Observer) *notify.Subscription {
	return r.notifier.SubscribeField(name, observer)
}

// ObserveField streams one field's value from the live view, skipping
// consecutive duplicates. An unknown name fails immediately.
func (r *Repository[M]) ObserveField(ctx context.Context, name string) (<-chan any, error) {
	f, ok := r.schema.FieldByName(name)
	if !ok {
		return nil, fmt.Errorf("observe %q: %w", name, settings.ErrUnknownField)
	}
	models, err := r.Watch(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan any)
	go func() {
		defer close(out)
		var prev any
		first := true
		for m := range models {
			v := f.GetAny(m)
			if !first && f.EqualAny(prev, v) {
				continue
			}
			first = false
			prev = v
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close releases the repository's notifier. The store is not closed.
func (r *Repository[M]) Close() {
	r.notifier.Close()
}

// ObserveField is the typed form of Repository.ObserveField. It fails if
// the field does not hold values of type V.
func ObserveField[V, M any](ctx context.Context, r *Repository[M], name string) (<-chan V, error) {
	f, ok := r.schema.FieldByName(name)
	if !ok {
		return nil, fmt.Errorf("observe %q: %w", name, settings.ErrUnknownField)
	}
	if _, ok := f.GetAny(r.schema.Default()).(V); !ok {
		var zero V
		return nil, fmt.Errorf("observe %q as %T: %w", name, zero, settings.ErrTypeMismatch)
	}
	values, err := r.ObserveField(ctx, name)
	if err != nil {
		return nil, err
	}

	out := make(chan V)
	go func() {
		defer close(out)
		for v := range values {
			tv, _ := v.(V)
			select {
			case out <- tv:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
