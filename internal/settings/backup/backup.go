// Package backup exports settings to a portable bundle and imports them
// back.
//
// Values are written in tagged text form ("b:true", "i:42", "j:{...}")
// keyed by persistence key. Import applies known keys inside one store
// transaction; unknown keys and undecodable values are counted, never
// fatal.
package backup

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/prefkit/internal/metrics"
	"github.com/dshills/prefkit/internal/prefs"
	"github.com/dshills/prefkit/internal/settings"
	"github.com/dshills/prefkit/internal/settings/notify"
)

// ErrorCode classifies a rejected import.
type ErrorCode int

// Import error codes.
const (
	ParseError ErrorCode = iota
	AppMismatch
	VersionTooNew
	ChecksumMismatch
	UnknownField
)

// String returns the code name.
func (c ErrorCode) String() string {
	switch c {
	case ParseError:
		return "parse_error"
	case AppMismatch:
		return "app_mismatch"
	case VersionTooNew:
		return "version_too_new"
	case ChecksumMismatch:
		return "checksum_mismatch"
	case UnknownField:
		return "unknown_field"
	default:
		return "unknown"
	}
}

// ImportError is returned when a bundle is rejected before anything is
// applied.
type ImportError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ImportError) Unwrap() error {
	return e.Err
}

// ImportOptions controls bundle checks.
type ImportOptions struct {
	// ValidateAppID rejects bundles from another application.
	ValidateAppID bool
	// ValidateChecksum rejects bundles whose checksum does not match.
	ValidateChecksum bool
	// SkipUnknownFields skips keys the schema does not know. When false
	// such a bundle is rejected with UnknownField.
	SkipUnknownFields bool
}

// DefaultImportOptions enables every check and skips unknown keys.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{ValidateAppID: true, ValidateChecksum: true, SkipUnknownFields: true}
}

// KeyError is one key that failed to import.
type KeyError struct {
	Key string
	Err error
}

// ImportResult counts what an import did.
type ImportResult struct {
	Applied int
	Skipped int
	Errors  []KeyError
}

// ValidationReport is the result of a dry-run check.
type ValidationReport struct {
	Valid         bool
	SettingsCount int
	SchemaVersion int
	ExportedAt    int64
	Issues        []string
}

// Option configures a Manager.
type Option func(*config)

type config struct {
	logger     *zap.Logger
	metrics    *metrics.Metrics
	deviceInfo func() *DeviceInfo
	now        func() time.Time
	onChanges  func([]notify.Change)
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records backup operations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithDeviceInfo supplies device metadata for exported bundles.
func WithDeviceInfo(fn func() *DeviceInfo) Option {
	return func(c *config) {
		c.deviceInfo = fn
	}
}

// WithClock overrides the export timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithChangeHandler receives the field changes an import committed, for
// example a Repository's Notify.
func WithChangeHandler(fn func([]notify.Change)) Option {
	return func(c *config) {
		c.onChanges = fn
	}
}

// Manager exports and imports one schema's settings.
type Manager[M any] struct {
	store         prefs.Store
	schema        *settings.Schema[M]
	appID         string
	schemaVersion int
	cfg           config
}

// New creates a backup manager. schemaVersion is the version the running
// code declares.
func New[M any](store prefs.Store, schema *settings.Schema[M], appID string, schemaVersion int, opts ...Option) *Manager[M] {
	cfg := config{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager[M]{
		store:         store,
		schema:        schema,
		appID:         appID,
		schemaVersion: schemaVersion,
		cfg:           cfg,
	}
}

// Export snapshots every field whose stored value is present.
func (m *Manager[M]) Export(ctx context.Context) (*Bundle, error) {
	b, err := m.export(ctx)
	m.cfg.metrics.RecordBackup("export", err)
	if err != nil {
		m.cfg.logger.Error("export failed", zap.Error(err))
		return nil, err
	}
	m.cfg.logger.Info("settings exported", zap.Int("settings", len(b.Settings)))
	return b, nil
}

func (m *Manager[M]) export(ctx context.Context) (*Bundle, error) {
	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	values := make(map[string]string)
	for _, f := range m.schema.Fields() {
		v, ok := f.ReadAny(snap)
		if !ok {
			continue
		}
		tagged, err := f.EncodeTagged(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.Name(), err)
		}
		values[f.KeyName()] = tagged
	}

	var device *DeviceInfo
	if m.cfg.deviceInfo != nil {
		device = m.cfg.deviceInfo()
	}
	return &Bundle{
		FormatVersion: FormatVersion,
		SchemaVersion: m.schemaVersion,
		AppID:         m.appID,
		ExportedAt:    m.cfg.now().UnixMilli(),
		DeviceInfo:    device,
		Settings:      values,
		Checksum:      Checksum(values),
	}, nil
}

// ExportJSON is Export encoded as indented JSON.
func (m *Manager[M]) ExportJSON(ctx context.Context) ([]byte, error) {
	b, err := m.Export(ctx)
	if err != nil {
		return nil, err
	}
	return b.Marshal()
}

// Import applies a bundle. A rejected bundle returns *ImportError and
// leaves the store untouched. Other errors are store failures.
func (m *Manager[M]) Import(ctx context.Context, data []byte, opts ImportOptions) (ImportResult, error) {
	res, err := m.importBundle(ctx, data, opts)
	m.cfg.metrics.RecordBackup("import", err)
	if err != nil {
		var ie *ImportError
		if errors.As(err, &ie) {
			m.cfg.logger.Warn("import rejected", zap.Stringer("code", ie.Code), zap.String("reason", ie.Message))
		} else {
			m.cfg.logger.Error("import failed", zap.Error(err))
		}
		return ImportResult{}, err
	}
	m.cfg.metrics.RecordImportKeys(res.Applied, res.Skipped, len(res.Errors))
	for _, ke := range res.Errors {
		m.cfg.logger.Warn("import key failed", zap.String("key", ke.Key), zap.Error(ke.Err))
	}
	m.cfg.logger.Info("settings imported",
		zap.Int("applied", res.Applied),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

func (m *Manager[M]) importBundle(ctx context.Context, data []byte, opts ImportOptions) (ImportResult, error) {
	b, err := ParseBundle(data)
	if err != nil {
		return ImportResult{}, &ImportError{Code: ParseError, Message: "failed to parse settings", Err: err}
	}
	if opts.ValidateAppID && b.AppID != m.appID {
		return ImportResult{}, &ImportError{Code: AppMismatch, Message: "settings are from a different app"}
	}
	if opts.ValidateChecksum && !b.VerifyChecksum() {
		return ImportResult{}, &ImportError{Code: ChecksumMismatch, Message: "settings file may be corrupted"}
	}
	if b.SchemaVersion > m.schemaVersion {
		return ImportResult{}, &ImportError{Code: VersionTooNew, Message: "settings are from a newer app version"}
	}
	if !opts.SkipUnknownFields {
		if unknown := m.unknownKeys(b); len(unknown) > 0 {
			return ImportResult{}, &ImportError{
				Code:    UnknownField,
				Message: "unknown settings: " + strings.Join(unknown, ", "),
			}
		}
	}

	keys := make([]string, 0, len(b.Settings))
	for k := range b.Settings {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var res ImportResult
	var changes []notify.Change
	_, err = m.store.Edit(ctx, func(mut *prefs.Mutable) error {
		res, changes = ImportResult{}, nil
		for _, key := range keys {
			f, ok := m.schema.FieldByKey(key)
			if !ok {
				res.Skipped++
				continue
			}
			v, err := f.DecodeTagged(b.Settings[key])
			if err != nil {
				res.Errors = append(res.Errors, KeyError{Key: key, Err: err})
				continue
			}
			old, present := f.ReadAny(mut)
			if !present {
				old = f.GetAny(m.schema.Default())
			}
			if err := f.WriteAny(mut, v); err != nil {
				res.Errors = append(res.Errors, KeyError{Key: key, Err: err})
				continue
			}
			res.Applied++
			if !f.EqualAny(old, v) {
				changes = append(changes, notify.Change{
					Field:    f.Name(),
					Key:      key,
					OldValue: old,
					NewValue: v,
					Source:   notify.SourceImport,
				})
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, fmt.Errorf("import: %w", err)
	}
	if m.cfg.onChanges != nil && len(changes) > 0 {
		m.cfg.onChanges(changes)
	}
	return res, nil
}

// Validate checks a bundle without touching the store.
func (m *Manager[M]) Validate(data []byte) ValidationReport {
	b, err := ParseBundle(data)
	if err != nil {
		return ValidationReport{Issues: []string{"Parse error: " + err.Error()}}
	}

	var issues []string
	if b.AppID != m.appID {
		issues = append(issues, "Different app ID: "+b.AppID)
	}
	if b.SchemaVersion > m.schemaVersion {
		issues = append(issues, fmt.Sprintf("Newer schema version: %d > %d", b.SchemaVersion, m.schemaVersion))
	}
	if unknown := m.unknownKeys(b); len(unknown) > 0 {
		issues = append(issues, "Unknown settings: "+strings.Join(unknown, ", "))
	}
	if !b.VerifyChecksum() {
		issues = append(issues, "Checksum mismatch - file may be corrupted")
	}

	return ValidationReport{
		Valid:         len(issues) == 0,
		SettingsCount: len(b.Settings),
		SchemaVersion: b.SchemaVersion,
		ExportedAt:    b.ExportedAt,
		Issues:        issues,
	}
}

func (m *Manager[M]) unknownKeys(b *Bundle) []string {
	var out []string
	for k := range b.Settings {
		if _, ok := m.schema.FieldByKey(k); !ok {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// ExportTo exports and stores the bundle in sink under a generated name.
// It returns the name used.
func (m *Manager[M]) ExportTo(ctx context.Context, sink Sink) (string, error) {
	data, err := m.ExportJSON(ctx)
	if err != nil {
		return "", err
	}
	name := ObjectName(m.appID, m.cfg.now())
	if err := sink.Put(ctx, name, data); err != nil {
		m.cfg.metrics.RecordBackup("upload", err)
		return "", fmt.Errorf("store backup %s: %w", name, err)
	}
	m.cfg.metrics.RecordBackup("upload", nil)
	m.cfg.logger.Info("backup stored", zap.String("name", name))
	return name, nil
}

// ImportFrom fetches a bundle from sink and imports it.
func (m *Manager[M]) ImportFrom(ctx context.Context, sink Sink, name string, opts ImportOptions) (ImportResult, error) {
	data, err := sink.Get(ctx, name)
	if err != nil {
		m.cfg.metrics.RecordBackup("download", err)
		return ImportResult{}, fmt.Errorf("fetch backup %s: %w", name, err)
	}
	m.cfg.metrics.RecordBackup("download", nil)
	return m.Import(ctx, data, opts)
}
