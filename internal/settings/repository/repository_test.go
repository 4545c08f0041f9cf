package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dshills/prefkit/internal/prefs"
	"github.com/dshills/prefkit/internal/prefs/memstore"
	"github.com/dshills/prefkit/internal/settings"
	"github.com/dshills/prefkit/internal/settings/notify"
)

type profile struct {
	Dark     bool
	FontSize int
	Nick     string
	Bad      func()
}

func profileSchema(t *testing.T) *settings.Schema[profile] {
	t.Helper()
	s, err := settings.NewSchema[profile](profile{FontSize: 14},
		settings.Bool("dark", "dark",
			func(p profile) bool { return p.Dark },
			func(p profile, v bool) profile { p.Dark = v; return p }),
		settings.Int("fontSize", "font_size",
			func(p profile) int { return p.FontSize },
			func(p profile, v int) profile { p.FontSize = v; return p },
			settings.WithMeta(settings.Meta{Validation: settings.Range(8, 32)})),
		settings.String("nick", "nick",
			func(p profile) string { return p.Nick },
			func(p profile, v string) profile { p.Nick = v; return p }),
		settings.Serialized("bad", "bad",
			func(p profile) func() { return p.Bad },
			func(p profile, v func()) profile { p.Bad = v; return p }),
	)
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}
	return s
}

type recorder struct {
	mu      sync.Mutex
	changes []notify.Change
}

func (r *recorder) observe(c notify.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) fields() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.Field
	}
	return out
}

func TestRepository_CurrentMaterializes(t *testing.T) {
	store := memstore.NewWith(map[string]prefs.Value{
		"dark":      prefs.BoolValue(true),
		"font_size": prefs.StringValue("nope"),
	})
	repo := New(store, profileSchema(t))

	got, err := repo.Current(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !got.Dark || got.FontSize != 14 {
		t.Errorf("Current() = %+v", got)
	}

	v, ok, err := repo.Get(context.Background(), "dark")
	if err != nil || !ok || v != true {
		t.Errorf("Get(dark) = %v, %v, %v", v, ok, err)
	}
	if _, ok, _ := repo.Get(context.Background(), "missing"); ok {
		t.Error("Get(missing) should report unknown")
	}
}

func TestRepository_IdentityUpdateWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo := New(store, profileSchema(t))
	rec := &recorder{}
	repo.OnChange(rec.observe)

	res, err := repo.Update(ctx, func(p profile) profile { return p })
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed() {
		t.Errorf("identity update changed %v", res.Changes)
	}
	if store.Commits() != 0 {
		t.Errorf("Commits() = %d, want 0", store.Commits())
	}
	if len(rec.fields()) != 0 {
		t.Errorf("listeners got %v", rec.fields())
	}
}

func TestRepository_UpdateWritesChangedFieldsInSchemaOrder(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo := New(store, profileSchema(t))
	rec := &recorder{}
	repo.OnChange(rec.observe)

	res, err := repo.Update(ctx, func(p profile) profile {
		p.Nick = "x"
		p.Dark = true
		return p
	})
	if err != nil {
		t.Fatal(err)
	}
	if store.Commits() != 1 {
		t.Errorf("Commits() = %d, want 1", store.Commits())
	}
	got := rec.fields()
	if len(got) != 2 || got[0] != "dark" || got[1] != "nick" {
		t.Errorf("notifications = %v, want [dark nick]", got)
	}
	if len(res.Changes) != 2 || res.Changes[0].Source != notify.SourceUpdate {
		t.Errorf("Result.Changes = %+v", res.Changes)
	}

	snap, _ := store.Snapshot(ctx)
	if _, ok := snap.Get("font_size"); ok {
		t.Error("unchanged field was written")
	}
	if v, _ := snap.String("nick"); v != "x" {
		t.Errorf("nick = %q", v)
	}
}

func TestRepository_UpdateSkipsUnencodableField(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo := New(store, profileSchema(t))

	res, err := repo.Update(ctx, func(p profile) profile {
		p.Dark = true
		p.Bad = func() {}
		return p
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(res.Failed) != 1 || res.Failed[0].Field != "bad" {
		t.Errorf("Failed = %v", res.Failed)
	}
	if !errors.Is(res.Failed[0], settings.ErrEncode) {
		t.Errorf("Failed[0] = %v, want ErrEncode", res.Failed[0])
	}
	cur, _ := repo.Current(ctx)
	if !cur.Dark {
		t.Error("encodable field not committed")
	}
}

func TestRepository_StrictUpdateAborts(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo := New(store, profileSchema(t), WithStrictWrites())

	_, err := repo.Update(ctx, func(p profile) profile {
		p.Dark = true
		p.Bad = func() {}
		return p
	})
	var wes settings.WriteErrors
	if !errors.As(err, &wes) || !errors.Is(err, settings.ErrEncode) {
		t.Fatalf("Update() error = %v, want WriteErrors", err)
	}
	if store.Commits() != 0 {
		t.Error("strict failure committed")
	}
}

func TestRepository_UpdateValidation(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo := New(store, profileSchema(t), WithValidation())

	_, err := repo.Update(ctx, func(p profile) profile { p.FontSize = 100; return p })
	if !errors.Is(err, settings.ErrValidationFailed) {
		t.Fatalf("Update() error = %v, want validation failure", err)
	}
	if err := repo.Set(ctx, "fontSize", 2); !errors.Is(err, settings.ErrValidationFailed) {
		t.Errorf("Set() error = %v, want validation failure", err)
	}
	if store.Commits() != 0 {
		t.Error("rejected value committed")
	}
}

func TestRepository_Set(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	repo := New(store, profileSchema(t))
	rec := &recorder{}
	field := &recorder{}
	repo.OnChange(rec.observe)
	repo.OnFieldChange("fontSize", field.observe)

	if err := repo.Set(ctx, "missing", 1); err != nil {
		t.Errorf("Set(missing) error = %v", err)
	}
	// Equal to the default: nothing to do.
	if err := repo.Set(ctx, "fontSize", 14); err != nil {
		t.Fatal(err)
	}
	if store.Commits() != 0 || len(rec.fields()) != 0 {
		t.Fatalf("no-op Set committed %d, notified %v", store.Commits(), rec.fields())
	}

	if err := repo.Set(ctx, "fontSize", 18); err != nil {
		t.Fatal(err)
	}
	if err := repo.Set(ctx, "dark", true); err != nil {
		t.Fatal(err)
	}
	if got := rec.fields(); len(got) != 2 {
		t.Errorf("global notifications = %v", got)
	}
	if got := field.fields(); len(got) != 1 {
		t.Errorf("field notifications = %v", got)
	}
	c := field.changes[0]
	if c.OldValue != 14 || c.NewValue != 18 || c.Source != notify.SourceSet {
		t.Errorf("change = %+v", c)
	}

	if err := repo.Set(ctx, "fontSize", "big"); !errors.Is(err, settings.ErrTypeMismatch) {
		t.Errorf("Set(wrong type) error = %v", err)
	}
}

func TestRepository_UnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	repo := New(memstore.New(), profileSchema(t))
	rec := &recorder{}
	sub := repo.OnChange(rec.observe)

	_ = repo.Set(ctx, "dark", true)
	sub.Unsubscribe()
	_ = repo.Set(ctx, "dark", false)

	if got := rec.fields(); len(got) != 1 {
		t.Errorf("notifications = %v, want 1", got)
	}
}

func TestRepository_WatchDeduplicates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := memstore.New()
	repo := New(store, profileSchema(t))

	models, err := repo.Watch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	first := receive(t, models)
	if first.FontSize != 14 {
		t.Errorf("initial model = %+v", first)
	}

	// Writing the default value changes the store but not the model.
	if _, err := store.Edit(ctx, func(m *prefs.Mutable) error {
		m.SetInt("font_size", 14)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Set(ctx, "dark", true); err != nil {
		t.Fatal(err)
	}

	next := receive(t, models)
	if !next.Dark {
		t.Errorf("second model = %+v, want the dark change", next)
	}
}

func TestObserveField(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := New(memstore.New(), profileSchema(t))

	if _, err := ObserveField[int](ctx, repo, "missing"); !errors.Is(err, settings.ErrUnknownField) {
		t.Errorf("ObserveField(missing) error = %v", err)
	}
	if _, err := ObserveField[string](ctx, repo, "fontSize"); !errors.Is(err, settings.ErrTypeMismatch) {
		t.Errorf("ObserveField[string](fontSize) error = %v", err)
	}

	sizes, err := ObserveField[int](ctx, repo, "fontSize")
	if err != nil {
		t.Fatal(err)
	}
	if v := receive(t, sizes); v != 14 {
		t.Errorf("initial fontSize = %d", v)
	}

	// A change to another field is not an emission for this one.
	_ = repo.Set(ctx, "dark", true)
	_ = repo.Set(ctx, "fontSize", 20)
	if v := receive(t, sizes); v != 20 {
		t.Errorf("next fontSize = %d, want 20", v)
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
	}
	var zero T
	return zero
}

// retryStore runs every edit callback twice, discarding the first run,
// the way a store retries after a conflict.
type retryStore struct {
	prefs.Store
}

func (s retryStore) Edit(ctx context.Context, fn func(*prefs.Mutable) error) (*prefs.Prefs, error) {
	return s.Store.Edit(ctx, func(mut *prefs.Mutable) error {
		sp := mut.Savepoint()
		if err := fn(mut); err != nil {
			return err
		}
		mut.Rollback(sp)
		return fn(mut)
	})
}

func TestRepository_RetriedUpdateNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	repo := New(retryStore{memstore.New()}, profileSchema(t))
	rec := &recorder{}
	repo.OnChange(rec.observe)

	res, err := repo.Update(ctx, func(p profile) profile {
		p.Dark = true
		p.Nick = "y"
		return p
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := rec.fields(); len(got) != 2 {
		t.Errorf("notifications = %v, want [dark nick]", got)
	}
	if len(res.Changes) != 2 {
		t.Errorf("Result.Changes = %+v", res.Changes)
	}
}

func TestRepository_AsyncNotifier(t *testing.T) {
	ctx := context.Background()
	repo := New(memstore.New(), profileSchema(t), WithNotifier(notify.New(notify.WithAsync(8))))

	got := make(chan notify.Change, 4)
	repo.OnChange(func(c notify.Change) { got <- c })
	repo.OnFieldChange("nick", func(notify.Change) {})
	if n := repo.Listeners(); n != 2 {
		t.Errorf("Listeners() = %d, want 2", n)
	}

	if _, err := repo.Update(ctx, func(p profile) profile { p.Dark = true; p.Nick = "z"; return p }); err != nil {
		t.Fatal(err)
	}
	repo.Close()
	close(got)

	var fields []string
	for c := range got {
		fields = append(fields, c.Field)
	}
	if len(fields) != 2 || fields[0] != "dark" || fields[1] != "nick" {
		t.Errorf("delivered = %v, want [dark nick]", fields)
	}
}
