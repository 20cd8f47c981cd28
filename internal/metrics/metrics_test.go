package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	m := New()
	m.RecordTransition("pending", "metadata_extracting")
	m.RecordFailure("extraction")
	m.RecordCacheLookup("search", true)
	m.RecordCacheLookup("search", false)
	m.RecordCacheLookup("search", false)
	m.RecordSearch("advanced", "grounded", 20*time.Millisecond)

	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("pending", "metadata_extracting")); got != 1 {
		t.Errorf("transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("search", "miss")); got != 2 {
		t.Errorf("cache misses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SearchOutcomes.WithLabelValues("advanced", "grounded")); got != 1 {
		t.Errorf("search outcomes = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordTransition("a", "b")
	m.RecordFailure("x")
	m.RecordRetry()
	m.SetQueueDepth(3)
	m.RecordEmbeddingRequest(true)
	m.RecordEmbeddingTexts(1, 2)
	m.RecordCacheLookup("answer", true)
	m.RecordLexicalRebuild(time.Second, false)
	m.RecordSearch("basic", "empty", time.Second)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordFailure("validation")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `kotae_ingest_failures_total{reason="validation"} 1`) {
		t.Errorf("exposition missing failure counter:\n%s", rec.Body.String())
	}
}
