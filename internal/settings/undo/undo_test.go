package undo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dshills/prefkit/internal/prefs/memstore"
	"github.com/dshills/prefkit/internal/settings"
	"github.com/dshills/prefkit/internal/settings/notify"
	"github.com/dshills/prefkit/internal/settings/repository"
)

type counter struct {
	X    int
	Name *string
}

func newRepo(t *testing.T) *repository.Repository[counter] {
	t.Helper()
	s, err := settings.NewSchema[counter](counter{X: 1},
		settings.Int("x", "x",
			func(c counter) int { return c.X },
			func(c counter, v int) counter { c.X = v; return c }),
		settings.NullableString("name", "name",
			func(c counter) *string { return c.Name },
			func(c counter, v *string) counter { c.Name = v; return c }),
	)
	if err != nil {
		t.Fatal(err)
	}
	return repository.New(memstore.New(), s)
}

func currentX(t *testing.T, repo *repository.Repository[counter]) int {
	t.Helper()
	m, err := repo.Current(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return m.X
}

func TestUndoRedo(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	mgr := New(repo, 0)

	if ok, err := mgr.Undo(ctx); ok || err != nil {
		t.Fatalf("Undo() on empty history = %v, %v", ok, err)
	}

	mgr.Record("x", 1, 2)
	if err := repo.Set(ctx, "x", 2); err != nil {
		t.Fatal(err)
	}
	if got := mgr.UndoDescription(); got != "Undo: x" {
		t.Errorf("UndoDescription() = %q", got)
	}

	if ok, err := mgr.Undo(ctx); !ok || err != nil {
		t.Fatalf("Undo() = %v, %v", ok, err)
	}
	if x := currentX(t, repo); x != 1 {
		t.Errorf("x after undo = %d, want 1", x)
	}
	if mgr.CanUndo() || !mgr.CanRedo() || mgr.RedoDescription() != "Redo: x" {
		t.Errorf("state after undo: canUndo=%v canRedo=%v", mgr.CanUndo(), mgr.CanRedo())
	}

	if ok, err := mgr.Redo(ctx); !ok || err != nil {
		t.Fatalf("Redo() = %v, %v", ok, err)
	}
	if x := currentX(t, repo); x != 2 {
		t.Errorf("x after redo = %d, want 2", x)
	}
	if !mgr.CanUndo() || mgr.CanRedo() {
		t.Error("redo should move the change back to the undo stack")
	}
}

func TestRecordClearsRedo(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	mgr := New(repo, 0)

	mgr.Record("x", 1, 2)
	_ = repo.Set(ctx, "x", 2)
	if _, err := mgr.Undo(ctx); err != nil {
		t.Fatal(err)
	}
	mgr.Record("x", 1, 5)
	if mgr.CanRedo() {
		t.Error("Record did not clear redo history")
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	mgr := New(newRepo(t), 3)
	for i := 0; i < 5; i++ {
		mgr.Record(fmt.Sprintf("f%d", i), i, i+1)
	}
	if u, _ := mgr.Len(); u != 3 {
		t.Fatalf("undo len = %d, want 3", u)
	}
	if got := mgr.UndoDescription(); got != "Undo: f4" {
		t.Errorf("UndoDescription() = %q", got)
	}

	if New(nil, 0).capacity != DefaultCapacity {
		t.Error("default capacity not applied")
	}
}

func TestNilValuesAreSkipped(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	mgr := New(repo, 0)

	name := "n"
	mgr.Record("name", (*string)(nil), &name)
	if ok, err := mgr.Undo(ctx); ok || err != nil {
		t.Errorf("Undo() of nil old value = %v, %v", ok, err)
	}
	if mgr.CanUndo() || mgr.CanRedo() {
		t.Error("skipped change should be dropped")
	}
}

func TestObserverRecordsRepositoryChanges(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	mgr := New(repo, 0)
	repo.OnChange(mgr.Observer())

	if err := repo.Set(ctx, "x", 7); err != nil {
		t.Fatal(err)
	}
	if u, _ := mgr.Len(); u != 1 {
		t.Fatalf("recorded %d changes, want 1", u)
	}

	// Replays are not recorded again.
	if ok, _ := mgr.Undo(ctx); !ok {
		t.Fatal("Undo() failed")
	}
	if u, r := mgr.Len(); u != 0 || r != 1 {
		t.Errorf("Len() = %d, %d after undo", u, r)
	}
	if x := currentX(t, repo); x != 1 {
		t.Errorf("x = %d, want 1", x)
	}
}

type failingSetter struct{ err error }

func (f failingSetter) SetFrom(context.Context, string, any, notify.Source) error { return f.err }

func TestSetterErrorKeepsHistory(t *testing.T) {
	boom := errors.New("boom")
	mgr := New(failingSetter{err: boom}, 0)
	mgr.Record("x", 1, 2)

	if ok, err := mgr.Undo(context.Background()); ok || !errors.Is(err, boom) {
		t.Errorf("Undo() = %v, %v", ok, err)
	}
	if !mgr.CanUndo() {
		t.Error("failed undo lost the change")
	}

	mgr.ClearHistory()
	if mgr.CanUndo() || mgr.CanRedo() {
		t.Error("ClearHistory left entries")
	}
}
