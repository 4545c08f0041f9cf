// Package metrics exposes prometheus collectors for settings operations.
//
// A nil *Metrics is valid and records nothing, so components take it as
// an optional dependency.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "prefkit"

// Metrics contains the settings collectors.
type Metrics struct {
	// Repository
	Transactions    *prometheus.CounterVec
	FieldWrites     *prometheus.CounterVec
	WriteErrors     *prometheus.CounterVec
	Notifications   prometheus.Counter
	ModelEmissions  prometheus.Counter
	OperationTiming *prometheus.HistogramVec

	// Migration
	SchemaVersion     prometheus.Gauge
	MigrationsApplied prometheus.Counter
	MigrationFailures *prometheus.CounterVec

	// Backup
	BackupOps  *prometheus.CounterVec
	ImportKeys *prometheus.CounterVec

	// Reset and lock
	FieldsReset    prometheus.Counter
	UnlockAttempts *prometheus.CounterVec
}

// New creates the collectors without registering them.
func New() *Metrics {
	return &Metrics{
		Transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "repository",
				Name:      "transactions_total",
				Help:      "Store transactions issued by the repository",
			},
			[]string{"operation", "status"},
		),

		FieldWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "repository",
				Name:      "field_writes_total",
				Help:      "Field values staged into committed transactions",
			},
			[]string{"field"},
		),

		WriteErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "repository",
				Name:      "write_errors_total",
				Help:      "Field values that could not be encoded",
			},
			[]string{"field"},
		),

		Notifications: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "repository",
				Name:      "notifications_total",
				Help:      "Change notifications delivered to listeners",
			},
		),

		ModelEmissions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "repository",
				Name:      "model_emissions_total",
				Help:      "Distinct models emitted by live views",
			},
		),

		OperationTiming: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "operation",
				Name:      "duration_seconds",
				Help:      "Duration of settings operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		SchemaVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "migration",
				Name:      "schema_version",
				Help:      "Stored schema version after the last migration run",
			},
		),

		MigrationsApplied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "migration",
				Name:      "applied_total",
				Help:      "Migrations applied successfully",
			},
		),

		MigrationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "migration",
				Name:      "failures_total",
				Help:      "Migrations that failed, by target version",
			},
			[]string{"to_version"},
		),

		BackupOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backup",
				Name:      "operations_total",
				Help:      "Backup exports, imports and validations",
			},
			[]string{"operation", "status"},
		),

		ImportKeys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backup",
				Name:      "import_keys_total",
				Help:      "Bundle keys processed by imports, by outcome",
			},
			[]string{"outcome"},
		),

		FieldsReset: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reset",
				Name:      "fields_total",
				Help:      "Fields restored to their defaults",
			},
		),

		UnlockAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "unlock_attempts_total",
				Help:      "PIN unlock attempts, by result",
			},
			[]string{"result"},
		),
	}
}

// Collectors returns every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Transactions, m.FieldWrites, m.WriteErrors, m.Notifications,
		m.ModelEmissions, m.OperationTiming, m.SchemaVersion,
		m.MigrationsApplied, m.MigrationFailures, m.BackupOps, m.ImportKeys,
		m.FieldsReset, m.UnlockAttempts,
	}
}

// NewRegistry creates a registry holding m plus Go runtime and process
// collectors.
func NewRegistry(m *Metrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.Collectors()...)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewListenerGauge reports the live listener count returned by count.
func NewListenerGauge(count func() int) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "listeners",
			Help:      "Registered change listeners",
		},
		func() float64 { return float64(count()) },
	)
}

// RecordTransaction counts one repository transaction.
func (m *Metrics) RecordTransaction(operation string, err error) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(operation, status(err)).Inc()
}

// RecordFieldWrite counts a committed field write.
func (m *Metrics) RecordFieldWrite(field string) {
	if m == nil {
		return
	}
	m.FieldWrites.WithLabelValues(field).Inc()
}

// RecordWriteError counts a field value that failed to encode.
func (m *Metrics) RecordWriteError(field string) {
	if m == nil {
		return
	}
	m.WriteErrors.WithLabelValues(field).Inc()
}

// RecordNotifications counts delivered change notifications.
func (m *Metrics) RecordNotifications(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Notifications.Add(float64(n))
}

// RecordEmission counts a distinct model emitted by a live view.
func (m *Metrics) RecordEmission() {
	if m == nil {
		return
	}
	m.ModelEmissions.Inc()
}

// RecordDuration observes how long an operation took.
func (m *Metrics) RecordDuration(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.OperationTiming.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordMigration records one migration run.
func (m *Metrics) RecordMigration(version, applied int, failedVersions []int) {
	if m == nil {
		return
	}
	m.SchemaVersion.Set(float64(version))
	m.MigrationsApplied.Add(float64(applied))
	for _, v := range failedVersions {
		m.MigrationFailures.WithLabelValues(strconv.Itoa(v)).Inc()
	}
}

// RecordBackup counts a backup operation.
func (m *Metrics) RecordBackup(operation string, err error) {
	if m == nil {
		return
	}
	m.BackupOps.WithLabelValues(operation, status(err)).Inc()
}

// RecordImportKeys counts the keys processed by one import.
func (m *Metrics) RecordImportKeys(applied, skipped, failed int) {
	if m == nil {
		return
	}
	m.ImportKeys.WithLabelValues("applied").Add(float64(applied))
	m.ImportKeys.WithLabelValues("skipped").Add(float64(skipped))
	m.ImportKeys.WithLabelValues("error").Add(float64(failed))
}

// RecordReset counts fields restored to defaults.
func (m *Metrics) RecordReset(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FieldsReset.Add(float64(n))
}

// RecordUnlock counts an unlock attempt.
func (m *Metrics) RecordUnlock(result string) {
	if m == nil {
		return
	}
	m.UnlockAttempts.WithLabelValues(result).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
