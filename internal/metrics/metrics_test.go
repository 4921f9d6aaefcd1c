package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewCollector_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("svc", reg)

	c.QueueOperationsTotal.WithLabelValues("add_appointment", "ok").Inc()
	c.QueueOperationsTotal.WithLabelValues("add_appointment", "conflict").Add(2)

	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := `svc_queue_operations_total{operation="add_appointment",outcome="conflict"} 2`
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("expected queue counter in exposition, got:\n%s", rec.Body.String())
	}
}

func TestNewCollector_SeparateRegistriesDoNotClash(t *testing.T) {
	NewCollector("svc", prometheus.NewRegistry())
	NewCollector("svc", prometheus.NewRegistry())
}
