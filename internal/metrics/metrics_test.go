package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"openeconomy/internal/domain"
	"openeconomy/internal/record"
)

func TestObserveEntryCounts(t *testing.T) {
	c := New()
	c.ObserveEntry(record.Entry{Status: domain.StatusApplied})
	c.ObserveEntry(record.Entry{Status: domain.StatusBlocked, ConstraintsBlocking: []string{"budget_guard", "care_floor"}})
	c.ObserveEntry(record.Entry{Status: domain.StatusBlocked, ConstraintsBlocking: []string{"budget_guard"}})
	c.ObserveRename()

	if got := testutil.ToFloat64(c.entries.WithLabelValues("blocked")); got != 2 {
		t.Fatalf("expected 2 blocked, got %v", got)
	}
	if got := testutil.ToFloat64(c.entries.WithLabelValues("applied")); got != 1 {
		t.Fatalf("expected 1 applied, got %v", got)
	}
	if got := testutil.ToFloat64(c.blocks.WithLabelValues("budget_guard")); got != 2 {
		t.Fatalf("expected budget_guard blocks 2, got %v", got)
	}
	if got := testutil.ToFloat64(c.renames); got != 1 {
		t.Fatalf("expected 1 rename, got %v", got)
	}
}

func TestHandlerExposesSeries(t *testing.T) {
	c := New()
	c.ObserveEntry(record.Entry{Status: domain.StatusApplied})
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `openeconomy_entries_total{status="applied"} 1`) {
		t.Fatalf("series missing from exposition:\n%s", body)
	}
}
