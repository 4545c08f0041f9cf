package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dshills/prefkit/internal/app"
	"github.com/dshills/prefkit/internal/appsettings"
	"github.com/dshills/prefkit/internal/metrics"
	"github.com/dshills/prefkit/internal/settings"
	"github.com/dshills/prefkit/internal/settings/backup"
	"github.com/dshills/prefkit/internal/settings/lock"
)

type env struct {
	app *app.Application
	out io.Writer
	pin string
}

type command struct {
	help  string
	usage string
	run   func(ctx context.Context, e *env, args []string) error
}

type usageError string

func (e usageError) Error() string { return string(e) }

var commands = map[string]command{
	"list":     {"List settings grouped by category", "[-all]", cmdList},
	"get":      {"Print one setting", "<name>", cmdGet},
	"set":      {"Change one setting", "[-yes] <name> <value>", cmdSet},
	"reset":    {"Reset settings to defaults", "[-all | -ui | -category id | names...] [-yes]", cmdReset},
	"export":   {"Export a backup bundle", "[-o file | -sink | -s3]", cmdExport},
	"import":   {"Import a backup bundle", "[-no-checksum] [-no-appid] [-strict] [-sink | -s3] <file|name>", cmdImport},
	"validate": {"Check a backup bundle without importing", "<file>", cmdValidate},
	"migrate":  {"Run pending schema migrations", "", cmdMigrate},
	"lock":     {"Manage the settings PIN lock", "enable <pin> | disable <pin> | unlock <pin> | lock | change <old> <new> | timeout <duration> | status", cmdLock},
	"action":   {"Run a button action", "[-yes] <id>", cmdAction},
	"watch":    {"Print setting changes as they happen", "[-metrics-addr addr] [-lock]", cmdWatch},
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError(err.Error())
	}
	return nil
}

// unlocked refuses changes while the settings lock is engaged, unless the
// global -pin unlocks it.
func (e *env) unlocked(ctx context.Context) error {
	locked, err := e.app.Lock.IsLocked(ctx)
	if err != nil || !locked {
		return err
	}
	if e.pin == "" {
		return errors.New("settings are locked; pass -pin")
	}
	res, err := e.app.Lock.Unlock(ctx, e.pin)
	if err != nil {
		return err
	}
	if res != lock.Success {
		return fmt.Errorf("unlock: %s", res)
	}
	return nil
}

func cmdList(ctx context.Context, e *env, args []string) error {
	fs := flags("list")
	all := fs.Bool("all", false, "include fields without metadata")
	if err := parse(fs, args); err != nil {
		return err
	}

	schema := e.app.Repository.Schema()
	model, err := e.app.Repository.Current(ctx)
	if err != nil {
		return err
	}

	for _, g := range schema.OrderedGroups() {
		fmt.Fprintf(e.out, "[%s]\n", g.Category.Title)
		for _, f := range g.Fields {
			printField(e.out, schema, model, f)
		}
	}

	if *all {
		fmt.Fprintf(e.out, "[hidden]\n")
		for _, f := range schema.Fields() {
			if f.Meta() == nil {
				fmt.Fprintf(e.out, "  %-16s %s\n", f.Name(), f.FormatText(f.GetAny(model)))
			}
		}
	}
	return nil
}

func printField(w io.Writer, schema *settings.Schema[appsettings.Editor], model appsettings.Editor, f settings.Field[appsettings.Editor]) {
	meta := f.Meta()
	value := f.FormatText(f.GetAny(model))
	if settings.IsNil(f.GetAny(model)) {
		value = "(unset)"
	}
	note := meta.UIType.String()
	if meta.UIType == settings.UIButton {
		value = "action " + meta.Action
	}
	if !schema.IsEnabled(model, f) {
		note += ", disabled"
	}
	fmt.Fprintf(w, "  %-16s %-24s %s (%s)\n", f.Name(), value, meta.Title, note)
}

func cmdGet(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return usageError("expected a setting name")
	}
	v, ok, err := e.app.Repository.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", settings.ErrUnknownField, args[0])
	}
	f, _ := e.app.Repository.Schema().FieldByName(args[0])
	fmt.Fprintln(e.out, f.FormatText(v))
	return nil
}

func cmdSet(ctx context.Context, e *env, args []string) error {
	fs := flags("set")
	yes := fs.Bool("yes", false, "confirm changes that ask for confirmation")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return usageError("expected a setting name and a value")
	}
	name, text := fs.Arg(0), fs.Arg(1)

	f, ok := e.app.Repository.Schema().FieldByName(name)
	if !ok {
		return fmt.Errorf("%w: %s", settings.ErrUnknownField, name)
	}
	if m := f.Meta(); m != nil && m.Confirmation != nil && !*yes {
		return fmt.Errorf("%s: %s (re-run with -yes)", m.Confirmation.Title, m.Confirmation.Message)
	}
	v, err := f.ParseText(text)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	if err := e.unlocked(ctx); err != nil {
		return err
	}
	if err := e.app.Repository.Set(ctx, name, v); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%s = %s\n", name, f.FormatText(v))
	return nil
}

func cmdReset(ctx context.Context, e *env, args []string) error {
	fs := flags("reset")
	all := fs.Bool("all", false, "reset every resettable setting")
	ui := fs.Bool("ui", false, "reset settings shown in the UI")
	category := fs.String("category", "", "reset one category")
	yes := fs.Bool("yes", false, "confirm resets that ask for confirmation")
	if err := parse(fs, args); err != nil {
		return err
	}

	var (
		fields []settings.Field[appsettings.Editor]
		run    func() (int, error)
	)
	schema := e.app.Repository.Schema()
	switch {
	case *all:
		fields = schema.ResettableFields()
		run = func() (int, error) { return e.app.Reset.ResetAll(ctx) }
	case *ui:
		fields = schema.UIFields()
		run = func() (int, error) { return e.app.Reset.ResetUISettings(ctx) }
	case *category != "":
		fields = schema.ResettableFieldsInCategory(*category)
		run = func() (int, error) { return e.app.Reset.ResetCategory(ctx, *category) }
	case fs.NArg() > 0:
		for _, name := range fs.Args() {
			if f, ok := schema.FieldByName(name); ok {
				fields = append(fields, f)
			}
		}
		run = func() (int, error) { return e.app.Reset.ResetFields(ctx, fs.Args()...) }
	default:
		return usageError("nothing to reset")
	}

	if !*yes {
		for _, f := range fields {
			if m := f.Meta(); m != nil && m.ConfirmReset != "" {
				return fmt.Errorf("%s: %s (re-run with -yes)", f.Name(), m.ConfirmReset)
			}
		}
	}
	if err := e.unlocked(ctx); err != nil {
		return err
	}
	n, err := run()
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "reset %d setting(s)\n", n)
	return nil
}

func (e *env) sink(useS3 bool) (backup.Sink, error) {
	if useS3 {
		return e.app.S3Sink()
	}
	return e.app.FileSink()
}

func cmdExport(ctx context.Context, e *env, args []string) error {
	fs := flags("export")
	out := fs.String("o", "", "write the bundle to a file")
	toSink := fs.Bool("sink", false, "store the bundle in the backup directory")
	toS3 := fs.Bool("s3", false, "upload the bundle to S3")
	if err := parse(fs, args); err != nil {
		return err
	}

	if *toSink || *toS3 {
		sink, err := e.sink(*toS3)
		if err != nil {
			return err
		}
		name, err := e.app.Backup.ExportTo(ctx, sink)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "exported %s\n", name)
		return nil
	}

	data, err := e.app.Backup.ExportJSON(ctx)
	if err != nil {
		return err
	}
	if *out == "" {
		_, err = fmt.Fprintf(e.out, "%s\n", data)
		return err
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "exported %s\n", *out)
	return nil
}

func cmdImport(ctx context.Context, e *env, args []string) error {
	fs := flags("import")
	noChecksum := fs.Bool("no-checksum", false, "skip checksum verification")
	noAppID := fs.Bool("no-appid", false, "accept bundles from other applications")
	strict := fs.Bool("strict", false, "reject bundles containing unknown keys")
	fromSink := fs.Bool("sink", false, "read the named bundle from the backup directory")
	fromS3 := fs.Bool("s3", false, "read the named bundle from S3")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("expected a bundle file or name")
	}

	opts := backup.DefaultImportOptions()
	opts.ValidateChecksum = !*noChecksum
	opts.ValidateAppID = !*noAppID
	opts.SkipUnknownFields = !*strict

	if err := e.unlocked(ctx); err != nil {
		return err
	}

	var (
		res backup.ImportResult
		err error
	)
	if *fromSink || *fromS3 {
		sink, serr := e.sink(*fromS3)
		if serr != nil {
			return serr
		}
		res, err = e.app.Backup.ImportFrom(ctx, sink, fs.Arg(0), opts)
	} else {
		data, rerr := readInput(fs.Arg(0))
		if rerr != nil {
			return rerr
		}
		res, err = e.app.Backup.Import(ctx, data, opts)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "applied %d, skipped %d, failed %d\n", res.Applied, res.Skipped, len(res.Errors))
	for _, ke := range res.Errors {
		fmt.Fprintf(e.out, "  %s: %v\n", ke.Key, ke.Err)
	}
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func cmdValidate(_ context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return usageError("expected a bundle file")
	}
	data, err := readInput(args[0])
	if err != nil {
		return err
	}
	r := e.app.Backup.Validate(data)
	fmt.Fprintf(e.out, "valid: %t\nsettings: %d\nschema version: %d\n", r.Valid, r.SettingsCount, r.SchemaVersion)
	if r.ExportedAt > 0 {
		fmt.Fprintf(e.out, "exported: %s\n", time.UnixMilli(r.ExportedAt).UTC().Format(time.RFC3339))
	}
	for _, issue := range r.Issues {
		fmt.Fprintf(e.out, "issue: %s\n", issue)
	}
	if !r.Valid {
		return errors.New("bundle is not valid")
	}
	return nil
}

func cmdMigrate(ctx context.Context, e *env, _ []string) error {
	res, err := e.app.Migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, res)
	return nil
}

func cmdLock(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return usageError("expected a lock command")
	}
	mgr := e.app.Lock
	arg := func(i int) (string, error) {
		if len(args) <= i {
			return "", usageError("missing argument for lock " + args[0])
		}
		return args[i], nil
	}
	report := func(ok bool, err error, msg string) error {
		if err != nil {
			return err
		}
		if !ok {
			return errors.New(msg)
		}
		fmt.Fprintln(e.out, "ok")
		return nil
	}

	switch args[0] {
	case "enable":
		pin, err := arg(1)
		if err != nil {
			return err
		}
		if err := e.unlocked(ctx); err != nil {
			return err
		}
		ok, err := mgr.EnableLock(ctx, pin)
		return report(ok, err, fmt.Sprintf("PIN must have at least %d characters", lock.MinPinLength))
	case "disable":
		pin, err := arg(1)
		if err != nil {
			return err
		}
		ok, err := mgr.DisableLock(ctx, pin)
		return report(ok, err, "wrong PIN")
	case "unlock":
		pin, err := arg(1)
		if err != nil {
			return err
		}
		res, err := mgr.Unlock(ctx, pin)
		return report(res == lock.Success, err, "unlock: "+res.String())
	case "lock":
		return report(true, mgr.Lock(ctx), "")
	case "change":
		current, err := arg(1)
		if err != nil {
			return err
		}
		next, err := arg(2)
		if err != nil {
			return err
		}
		ok, err := mgr.ChangePin(ctx, current, next)
		return report(ok, err, "wrong PIN or new PIN too short")
	case "timeout":
		text, err := arg(1)
		if err != nil {
			return err
		}
		d, err := time.ParseDuration(text)
		if err != nil {
			return usageError(err.Error())
		}
		if err := e.unlocked(ctx); err != nil {
			return err
		}
		return report(true, mgr.SetLockTimeout(ctx, d), "")
	case "status":
		st, err := mgr.State(ctx)
		if err != nil {
			return err
		}
		locked, err := mgr.IsLocked(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "enabled: %t\npin set: %t\nlocked: %t\ntimeout: %s\n", st.Enabled, st.HasPin, locked, st.Timeout)
		return nil
	default:
		return usageError("unknown lock command " + args[0])
	}
}

func cmdAction(ctx context.Context, e *env, args []string) error {
	fs := flags("action")
	yes := fs.Bool("yes", false, "confirm actions that ask for confirmation")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("expected an action id")
	}
	id := fs.Arg(0)
	a, ok := e.app.Actions.Describe(id)
	if !ok {
		return fmt.Errorf("unknown action %q (have %v)", id, e.app.Actions.List())
	}
	if a.RequiresConfirmation && !*yes {
		return fmt.Errorf("%s: %s (re-run with -yes)", a.ConfirmationTitle, a.ConfirmationMessage)
	}
	if err := e.unlocked(ctx); err != nil {
		return err
	}
	if err := e.app.Actions.Execute(ctx, id); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "ok")
	return nil
}

func cmdWatch(ctx context.Context, e *env, args []string) error {
	fs := flags("watch")
	addr := fs.String("metrics-addr", e.app.Config.Metrics.Addr, "serve prometheus metrics on this address")
	watchLock := fs.Bool("lock", false, "also print lock state changes")
	if err := parse(fs, args); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	if *addr != "" {
		go func() {
			errCh <- metrics.Serve(ctx, *addr, e.app.Registry, e.app.Logger)
		}()
	}

	models, err := e.app.Repository.Watch(ctx)
	if err != nil {
		return err
	}
	var lockStates <-chan bool
	if *watchLock {
		if lockStates, err = e.app.Lock.WatchLocked(ctx); err != nil {
			return err
		}
	}

	schema := e.app.Repository.Schema()
	var prev *appsettings.Editor
	for {
		select {
		case m, ok := <-models:
			if !ok {
				return nil
			}
			if prev == nil {
				fmt.Fprintf(e.out, "watching %d settings\n", schema.Len())
			} else {
				for _, f := range schema.Diff(*prev, m) {
					fmt.Fprintf(e.out, "%s: %s -> %s\n", f.Name(), f.FormatText(f.GetAny(*prev)), f.FormatText(f.GetAny(m)))
				}
			}
			prev = &m
		case locked, ok := <-lockStates:
			if !ok {
				lockStates = nil
				continue
			}
			fmt.Fprintf(e.out, "locked: %t\n", locked)
		case err := <-errCh:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
