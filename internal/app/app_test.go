package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dshills/prefkit/internal/appsettings"
	"github.com/dshills/prefkit/internal/settings/backup"
	"github.com/dshills/prefkit/internal/settings/migration"
	"github.com/dshills/prefkit/internal/settings/notify"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "prefkit.toml")
	body += "\n[backup]\ndir = \"" + filepath.ToSlash(filepath.Join(dir, "backups")) + "\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newApp(t *testing.T, body string) *Application {
	t.Helper()
	app, err := New(context.Background(), Options{ConfigPath: writeConfig(t, body), LogOutput: &bytes.Buffer{}})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(app.Shutdown)
	return app
}

const memoryConfig = `
[store]
backend = "memory"

[lock]
hasher = "weak"
`

func TestNewRunsMigrations(t *testing.T) {
	app := newApp(t, memoryConfig)
	if app.Migration.Status != migration.Success || app.Migration.To != appsettings.SchemaVersion {
		t.Errorf("Migration = %s", app.Migration)
	}
	if v, _ := app.Migrator.StoredVersion(context.Background()); v != appsettings.SchemaVersion {
		t.Errorf("StoredVersion() = %d", v)
	}
}

func TestWiring(t *testing.T) {
	ctx := context.Background()
	app := newApp(t, memoryConfig)

	if err := app.Repository.Set(ctx, "fontSize", 18); err != nil {
		t.Fatal(err)
	}
	if !app.Undo.CanUndo() {
		t.Fatal("repository change not recorded for undo")
	}
	if ok, err := app.Undo.Undo(ctx); !ok || err != nil {
		t.Fatalf("Undo() = %v, %v", ok, err)
	}
	if m, _ := app.Repository.Current(ctx); m.FontSize != 14 {
		t.Errorf("FontSize after undo = %d", m.FontSize)
	}

	sink, err := app.FileSink()
	if err != nil {
		t.Fatal(err)
	}
	_ = app.Repository.Set(ctx, "tabSize", 2)
	name, err := app.Backup.ExportTo(ctx, sink)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := app.Reset.ResetAll(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := app.Backup.ImportFrom(ctx, sink, name, backup.DefaultImportOptions()); err != nil {
		t.Fatal(err)
	}
	if m, _ := app.Repository.Current(ctx); m.TabSize != 2 {
		t.Errorf("TabSize after restore = %d", m.TabSize)
	}

	if _, err := app.S3Sink(); !errors.Is(err, ErrNoS3) {
		t.Errorf("S3Sink() = %v", err)
	}
	if ok, _ := app.Lock.EnableLock(ctx, "2468"); !ok {
		t.Error("EnableLock failed")
	}
	if got := app.Actions.List(); len(got) != 1 || got[0] != appsettings.ActionClearRecent {
		t.Errorf("actions = %v", got)
	}
}

func TestAsyncNotifier(t *testing.T) {
	ctx := context.Background()
	app := newApp(t, memoryConfig+"\n[notify]\nbuffer = 16\n")

	got := make(chan notify.Change, 1)
	sub := app.Repository.OnFieldChange("tabSize", func(c notify.Change) { got <- c })
	defer sub.Unsubscribe()

	if n := app.Repository.Listeners(); n != 2 {
		t.Errorf("Listeners() = %d, want 2 (undo and test)", n)
	}
	if n, err := testutil.GatherAndCount(app.Registry, "prefkit_repository_listeners"); err != nil || n != 1 {
		t.Errorf("listener gauge series = %d, %v", n, err)
	}

	if err := app.Repository.Set(ctx, "tabSize", 8); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		if c.NewValue != 8 || c.OldValue != 4 || c.Source != notify.SourceSet {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("change not delivered")
	}
}

func TestFileBackendPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	body := "[store]\nbackend = \"file\"\npath = \"" + filepath.ToSlash(filepath.Join(dir, "settings.toml")) + "\"\n"
	path := writeConfig(t, body)

	app, err := New(ctx, Options{ConfigPath: path, LogOutput: &bytes.Buffer{}})
	if err != nil {
		t.Fatal(err)
	}
	if err := app.Repository.Set(ctx, "wordWrap", true); err != nil {
		t.Fatal(err)
	}
	app.Shutdown()

	app, err = New(ctx, Options{ConfigPath: path, LogOutput: &bytes.Buffer{}})
	if err != nil {
		t.Fatal(err)
	}
	defer app.Shutdown()
	if m, _ := app.Repository.Current(ctx); !m.WordWrap {
		t.Error("wordWrap not persisted")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), Options{ConfigPath: writeConfig(t, "[store]\nbackend = \"sqlite\"\n"), LogOutput: &bytes.Buffer{}})
	var ie *InitError
	if !errors.As(err, &ie) || ie.Component != "config" {
		t.Errorf("New() = %v", err)
	}

	_, err = New(context.Background(), Options{ConfigPath: writeConfig(t, memoryConfig), LogLevel: "loud", LogOutput: &bytes.Buffer{}})
	if !errors.As(err, &ie) {
		t.Errorf("New() with bad level = %v", err)
	}
}
