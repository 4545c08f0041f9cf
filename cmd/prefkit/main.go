// Package main is the prefkit command: it inspects and edits the editor
// settings declared in internal/appsettings.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/prefkit/internal/app"
	"github.com/dshills/prefkit/internal/config/loader"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type globalOptions struct {
	configPath  string
	logLevel    string
	pin         string
	showVersion bool
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("prefkit", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts globalOptions
	fs.StringVar(&opts.configPath, "config", os.Getenv(loader.EnvPrefix+"CONFIG"), "Path to configuration file (TOML or YAML)")
	fs.StringVar(&opts.configPath, "c", os.Getenv(loader.EnvPrefix+"CONFIG"), "Path to configuration file (shorthand)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&opts.pin, "pin", "", "PIN used to unlock locked settings")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")
	fs.BoolVar(&opts.showVersion, "v", false, "Show version information (shorthand)")
	fs.Usage = func() { usage(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "prefkit %s\n", version)
		fmt.Fprintf(stdout, "Commit: %s\n", commit)
		fmt.Fprintf(stdout, "Built: %s\n", date)
		return 0
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", rest[0])
		fs.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.Version = version
	application, err := app.New(ctx, app.Options{
		ConfigPath:     opts.configPath,
		LogLevel:       opts.logLevel,
		LogOutput:      stderr,
		SkipMigrations: rest[0] == "migrate",
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	defer application.Shutdown()

	e := &env{app: application, out: stdout, pin: opts.pin}
	if err := cmd.run(ctx, e, rest[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(stderr, "Error: %v\nUsage: prefkit %s %s\n", err, rest[0], cmd.usage)
			return 2
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func usage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, "prefkit - typed settings store tool\n\n")
	fmt.Fprintf(w, "Usage: prefkit [options] <command> [arguments]\n\n")
	fmt.Fprintf(w, "Options:\n")
	fs.PrintDefaults()
	fmt.Fprintf(w, "\nCommands:\n")
	for _, name := range commandNames() {
		fmt.Fprintf(w, "  %-9s %s\n", name, commands[name].help)
	}
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  prefkit list                      Show every setting\n")
	fmt.Fprintf(w, "  prefkit set fontSize 16           Change a setting\n")
	fmt.Fprintf(w, "  prefkit reset -category editing   Reset one category\n")
	fmt.Fprintf(w, "  prefkit export -s3                Upload a backup bundle\n")
}
