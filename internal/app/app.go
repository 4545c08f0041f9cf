// Package app wires the prefkit components together: configuration,
// logging, metrics, the settings store and the managers built on it.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dshills/prefkit/internal/appsettings"
	"github.com/dshills/prefkit/internal/config"
	"github.com/dshills/prefkit/internal/logging"
	"github.com/dshills/prefkit/internal/metrics"
	"github.com/dshills/prefkit/internal/prefs"
	"github.com/dshills/prefkit/internal/prefs/filestore"
	"github.com/dshills/prefkit/internal/prefs/memstore"
	"github.com/dshills/prefkit/internal/prefs/redisstore"
	"github.com/dshills/prefkit/internal/settings/action"
	"github.com/dshills/prefkit/internal/settings/backup"
	"github.com/dshills/prefkit/internal/settings/lock"
	"github.com/dshills/prefkit/internal/settings/migration"
	"github.com/dshills/prefkit/internal/settings/notify"
	"github.com/dshills/prefkit/internal/settings/repository"
	"github.com/dshills/prefkit/internal/settings/reset"
	"github.com/dshills/prefkit/internal/settings/undo"
)

// Version is reported in backup device info. It is set by the command.
var Version = "dev"

// Options configures the application.
type Options struct {
	// ConfigPath is the configuration file. Empty uses defaults and the
	// environment only.
	ConfigPath string

	// LogLevel overrides the configured level when set.
	LogLevel string

	// LogOutput receives console logs. Nil means stderr.
	LogOutput io.Writer

	// SkipMigrations leaves the stored schema version untouched.
	SkipMigrations bool
}

// Application owns the settings components for one process.
type Application struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	Store      prefs.Store
	Repository *repository.Repository[appsettings.Editor]
	Migrator   *migration.Manager
	Backup     *backup.Manager[appsettings.Editor]
	Reset      *reset.Manager[appsettings.Editor]
	Lock       *lock.Manager
	Undo       *undo.Manager
	Actions    *action.Registry

	// Migration is the result of the startup migration run.
	Migration migration.Result

	closeLog func() error
	once     sync.Once
}

// New loads configuration and builds every component in dependency
// order. Migrations run before New returns.
func New(ctx context.Context, opts Options) (*Application, error) {
	app := &Application{}
	if err := app.bootstrap(ctx, opts); err != nil {
		app.Shutdown()
		return nil, err
	}
	return app, nil
}

func (app *Application) bootstrap(ctx context.Context, opts Options) error {
	// 1. Configuration
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return &InitError{Component: "config", Err: err}
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return &InitError{Component: "config", Err: err}
	}
	app.Config = cfg

	// 2. Logging
	app.Logger, app.closeLog, err = logging.New(cfg.Logging, opts.LogOutput)
	if err != nil {
		return &InitError{Component: "logging", Err: err}
	}
	if cfg.Source != "" {
		app.Logger.Debug("configuration loaded", zap.String("path", cfg.Source))
	}

	// 3. Metrics
	app.Metrics = metrics.New()
	app.Registry = metrics.NewRegistry(app.Metrics)

	// 4. Store
	app.Store, err = openStore(ctx, cfg.Store, app.Logger)
	if err != nil {
		return &InitError{Component: "store", Err: err}
	}

	// 5. Migrations
	app.Migrator, err = appsettings.NewMigrator(app.Store,
		migration.WithLogger(app.Logger), migration.WithMetrics(app.Metrics))
	if err != nil {
		return &InitError{Component: "migrations", Err: err}
	}
	if !opts.SkipMigrations {
		app.Migration, err = app.Migrator.Migrate(ctx)
		if err != nil {
			return &InitError{Component: "migrations", Err: err}
		}
	}

	// 6. Repository and managers
	schema := appsettings.Schema()
	app.Repository = repository.New(app.Store, schema,
		repository.WithLogger(app.Logger),
		repository.WithMetrics(app.Metrics),
		repository.WithNotifier(notify.New(notify.WithAsync(cfg.Notify.Buffer))),
		repository.WithValidation())
	app.Registry.MustRegister(metrics.NewListenerGauge(app.Repository.Listeners))

	app.Backup = backup.New(app.Store, schema, cfg.App.ID, appsettings.SchemaVersion,
		backup.WithLogger(app.Logger),
		backup.WithMetrics(app.Metrics),
		backup.WithDeviceInfo(deviceInfo),
		backup.WithChangeHandler(app.Repository.Notify))

	app.Reset = reset.New(app.Store, schema,
		reset.WithLogger(app.Logger),
		reset.WithMetrics(app.Metrics),
		reset.WithChangeHandler(app.Repository.Notify))

	app.Lock = lock.New(app.Store,
		lock.WithHasher(hasher(cfg.Lock)),
		lock.WithLogger(app.Logger),
		lock.WithMetrics(app.Metrics))

	app.Undo = undo.New(app.Repository, undo.DefaultCapacity)
	app.Repository.OnChange(app.Undo.Observer())

	app.Actions = action.NewRegistry(app.Logger)
	appsettings.RegisterActions(app.Actions, app.Repository, nil)

	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (prefs.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memstore.New(), nil
	case config.BackendFile:
		s, err := filestore.Open(cfg.Path, filestore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendRedis:
		s, err := redisstore.Connect(ctx, cfg.RedisURL, cfg.Namespace, redisstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func hasher(cfg config.LockConfig) lock.PinHasher {
	if cfg.Hasher == config.HasherWeak {
		return lock.WeakHasher{}
	}
	return lock.BcryptHasher{Cost: cfg.BcryptCost}
}

func deviceInfo() *backup.DeviceInfo {
	return &backup.DeviceInfo{
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		OSVersion:  runtime.Version(),
		AppVersion: Version,
	}
}

// FileSink returns the backup directory sink.
func (app *Application) FileSink() (*backup.FileSink, error) {
	return backup.NewFileSink(app.Config.Backup.Dir)
}

// S3Sink returns the configured S3 sink, or ErrNoS3.
func (app *Application) S3Sink() (*backup.S3Sink, error) {
	s3 := app.Config.Backup.S3
	if s3.Bucket == "" {
		return nil, ErrNoS3
	}
	return backup.NewS3Sink(backup.S3Options{
		Bucket:          s3.Bucket,
		Region:          s3.Region,
		Endpoint:        s3.Endpoint,
		AccessKeyID:     s3.AccessKeyID,
		SecretAccessKey: s3.SecretAccessKey,
		PathStyle:       s3.PathStyle,
		Prefix:          s3.Prefix,
	})
}

// Shutdown releases the store and flushes logs. It is safe to call more
// than once.
func (app *Application) Shutdown() {
	app.once.Do(func() {
		if app.Repository != nil {
			app.Repository.Close()
		}
		if app.Store != nil {
			if err := app.Store.Close(); err != nil && app.Logger != nil {
				app.Logger.Warn("closing store", zap.Error(err))
			}
		}
		if app.closeLog != nil {
			if err := app.closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "closing log: %v\n", err)
			}
		}
	})
}
