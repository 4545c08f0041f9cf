package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordTransaction("update", nil)
	m.RecordFieldWrite("f")
	m.RecordMigration(2, 1, []int{2})
	m.RecordImportKeys(1, 2, 3)
	m.RecordUnlock("success")
}

func TestMetrics_Record(t *testing.T) {
	m := New()
	m.RecordTransaction("update", nil)
	m.RecordTransaction("update", errors.New("boom"))
	m.RecordTransaction("update", nil)
	m.RecordMigration(3, 2, []int{2})
	m.RecordImportKeys(4, 1, 0)

	if got := testutil.ToFloat64(m.Transactions.WithLabelValues("update", "ok")); got != 2 {
		t.Errorf("ok transactions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Transactions.WithLabelValues("update", "error")); got != 1 {
		t.Errorf("failed transactions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SchemaVersion); got != 3 {
		t.Errorf("schema version = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.MigrationFailures.WithLabelValues("2")); got != 1 {
		t.Errorf("migration failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ImportKeys.WithLabelValues("applied")); got != 4 {
		t.Errorf("applied keys = %v, want 4", got)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := New()
	m.RecordReset(3)
	reg := NewRegistry(m)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "prefkit_reset_fields_total 3") {
		t.Error("reset counter missing from exposition")
	}
}

func TestListenerGauge(t *testing.T) {
	n := 2
	g := NewListenerGauge(func() int { return n })
	if got := testutil.ToFloat64(g); got != 2 {
		t.Errorf("listeners = %v, want 2", got)
	}
	n = 5
	if got := testutil.ToFloat64(g); got != 5 {
		t.Errorf("listeners = %v, want 5", got)
	}
}
