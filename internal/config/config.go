package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"

	"github.com/dshills/prefkit/internal/config/loader"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// PIN hashers.
const (
	HasherBcrypt = "bcrypt"
	HasherWeak   = "weak"
)

// AppConfig identifies the application whose settings are managed.
type AppConfig struct {
	// ID is written to backup bundles and checked on import.
	ID   string
	Name string
}

// StoreConfig selects and configures the settings store.
type StoreConfig struct {
	// Backend is one of memory, file or redis.
	Backend string

	// Path is the settings file for the file backend.
	Path string

	// RedisURL is a redis:// URL for the redis backend.
	RedisURL string

	// Namespace prefixes redis keys.
	Namespace string
}

// S3Config configures the remote backup sink. It is enabled when Bucket
// is set.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
	Prefix          string
}

// BackupConfig configures backup sinks.
type BackupConfig struct {
	// Dir holds file backups.
	Dir string
	S3  S3Config
}

// LockConfig configures PIN hashing.
type LockConfig struct {
	Hasher string
	// BcryptCost of zero means bcrypt.DefaultCost.
	BcryptCost int
}

// LoggingConfig configures the logger. File logging is disabled when File
// is empty.
type LoggingConfig struct {
	Level      string
	File       string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// NotifyConfig configures change listener delivery.
type NotifyConfig struct {
	// Buffer above zero delivers changes from a background goroutine
	// through a buffer of that size. Zero delivers synchronously.
	Buffer int
}

// MetricsConfig configures the metrics endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string
}

// Config is the resolved prefkit configuration.
type Config struct {
	App     AppConfig
	Store   StoreConfig
	Backup  BackupConfig
	Lock    LockConfig
	Logging LoggingConfig
	Notify  NotifyConfig
	Metrics MetricsConfig

	// Source is the config file that was read, if any.
	Source string

	problems []error
}

// Default returns the built-in configuration.
func Default() *Config {
	return fromTree(newTree(defaults()))
}

func defaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".prefkit"
	}
	return filepath.Join(dir, "prefkit")
}

func defaults() map[string]any {
	dir := defaultDir()
	return map[string]any{
		"app": map[string]any{
			"id":   "io.prefkit.demo",
			"name": "prefkit",
		},
		"store": map[string]any{
			"backend":   BackendFile,
			"path":      filepath.Join(dir, "settings.toml"),
			"namespace": "prefkit",
		},
		"backup": map[string]any{
			"dir": filepath.Join(dir, "backups"),
		},
		"lock": map[string]any{
			"hasher": HasherBcrypt,
		},
		"logging": map[string]any{
			"level":      "info",
			"maxSize":    10,
			"maxBackups": 5,
			"maxAge":     28,
			"compress":   true,
		},
	}
}

// Option configures Load.
type Option func(*options)

type options struct {
	fs  loader.FileSystem
	env loader.Loader
}

// WithFS reads config files from fsys.
func WithFS(fsys loader.FileSystem) Option {
	return func(o *options) { o.fs = fsys }
}

// WithEnv replaces the environment source.
func WithEnv(l loader.Loader) Option {
	return func(o *options) { o.env = l }
}

// Load merges defaults, the file at path (skipped when path is empty or
// missing) and the environment. Unreadable or malformed files are
// errors; ill-typed values are reported by Validate.
func Load(path string, opts ...Option) (*Config, error) {
	o := options{fs: loader.OSFS{}, env: loader.NewEnvLoader()}
	for _, opt := range opts {
		opt(&o)
	}

	merged := defaults()
	source := ""
	if path != "" {
		l, err := loader.ForPath(o.fs, path)
		if err != nil {
			return nil, err
		}
		file, err := l.Load()
		if err != nil {
			return nil, err
		}
		if file != nil {
			merged = loader.DeepMerge(merged, file)
			source = path
		}
	}

	if o.env != nil {
		env, err := o.env.Load()
		if err != nil {
			return nil, fmt.Errorf("loading environment: %w", err)
		}
		merged = loader.DeepMerge(merged, env)
	}

	cfg := fromTree(newTree(merged))
	cfg.Source = source
	return cfg, nil
}

func fromTree(t *tree) *Config {
	cfg := &Config{
		App: AppConfig{
			ID:   t.stringOr("app.id", ""),
			Name: t.stringOr("app.name", ""),
		},
		Store: StoreConfig{
			Backend:   t.stringOr("store.backend", BackendFile),
			Path:      t.stringOr("store.path", ""),
			RedisURL:  t.stringOr("store.redisUrl", ""),
			Namespace: t.stringOr("store.namespace", "prefkit"),
		},
		Backup: BackupConfig{
			Dir: t.stringOr("backup.dir", ""),
			S3: S3Config{
				Bucket:          t.stringOr("backup.s3.bucket", ""),
				Region:          t.stringOr("backup.s3.region", ""),
				Endpoint:        t.stringOr("backup.s3.endpoint", ""),
				AccessKeyID:     t.stringOr("backup.s3.accessKeyId", ""),
				SecretAccessKey: t.stringOr("backup.s3.secretAccessKey", ""),
				PathStyle:       t.boolOr("backup.s3.pathStyle", false),
				Prefix:          t.stringOr("backup.s3.prefix", ""),
			},
		},
		Lock: LockConfig{
			Hasher:     t.stringOr("lock.hasher", HasherBcrypt),
			BcryptCost: t.intOr("lock.bcryptCost", 0),
		},
		Logging: LoggingConfig{
			Level:      t.stringOr("logging.level", "info"),
			File:       t.stringOr("logging.file", ""),
			MaxSize:    t.intOr("logging.maxSize", 10),
			MaxBackups: t.intOr("logging.maxBackups", 5),
			MaxAge:     t.intOr("logging.maxAge", 28),
			Compress:   t.boolOr("logging.compress", true),
		},
		Notify: NotifyConfig{
			Buffer: t.intOr("notify.buffer", 0),
		},
		Metrics: MetricsConfig{
			Addr: t.stringOr("metrics.addr", ""),
		},
	}
	cfg.problems = t.errs
	return cfg
}

// Validate reports every type error found while loading and every value
// outside its accepted set.
func (c *Config) Validate() error {
	errs := slices.Clone(c.problems)

	if c.App.ID == "" {
		errs = append(errs, &ValueError{Path: "app.id", Value: `""`, Message: "must not be empty"})
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Store.Path == "" {
			errs = append(errs, &ValueError{Path: "store.path", Value: `""`, Message: "required for the file backend"})
		}
	case BackendRedis:
		if c.Store.RedisURL == "" {
			errs = append(errs, &ValueError{Path: "store.redisUrl", Value: `""`, Message: "required for the redis backend"})
		}
	default:
		errs = append(errs, &ValueError{Path: "store.backend", Value: c.Store.Backend, Message: "must be memory, file or redis"})
	}

	if s3 := c.Backup.S3; s3.Bucket != "" && s3.Region == "" {
		errs = append(errs, &ValueError{Path: "backup.s3.region", Value: `""`, Message: "required when a bucket is set"})
	}

	switch c.Lock.Hasher {
	case HasherBcrypt, HasherWeak:
	default:
		errs = append(errs, &ValueError{Path: "lock.hasher", Value: c.Lock.Hasher, Message: "must be bcrypt or weak"})
	}
	if cost := c.Lock.BcryptCost; cost != 0 && (cost < bcrypt.MinCost || cost > bcrypt.MaxCost) {
		errs = append(errs, &ValueError{Path: "lock.bcryptCost", Value: cost,
			Message: fmt.Sprintf("must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)})
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, &ValueError{Path: "logging.level", Value: c.Logging.Level, Message: "must be debug, info, warn or error"})
	}
	for _, lim := range []struct {
		path string
		n    int
	}{
		{"logging.maxSize", c.Logging.MaxSize},
		{"logging.maxBackups", c.Logging.MaxBackups},
		{"logging.maxAge", c.Logging.MaxAge},
		{"notify.buffer", c.Notify.Buffer},
	} {
		if lim.n < 0 {
			errs = append(errs, &ValueError{Path: lim.path, Value: lim.n, Message: "must not be negative"})
		}
	}

	return errors.Join(errs...)
}
