package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/invoices/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/invoices/"+id, nil))
	}

	got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/invoices/{id}", "404"))
	if got != 3 {
		t.Errorf("expected 3 requests under the route pattern, got %v", got)
	}
}

func TestPipelineCounters(t *testing.T) {
	m := New()

	m.Classified(domain.Stage3)
	m.Classified(domain.Stage3)
	m.ReminderPublished(domain.ChannelWhatsApp)
	m.ReminderSuppressed()
	m.ReminderHeld()
	m.PolicyErrors(2)
	m.PolicyErrors(0)
	m.SweepCompleted(40 * time.Millisecond)

	if got := testutil.ToFloat64(m.classified.WithLabelValues("3")); got != 2 {
		t.Errorf("expected 2 stage 3 classifications, got %v", got)
	}
	if got := testutil.ToFloat64(m.published.WithLabelValues("WHATSAPP")); got != 1 {
		t.Errorf("expected 1 WhatsApp reminder, got %v", got)
	}
	if got := testutil.ToFloat64(m.suppressed); got != 1 {
		t.Errorf("expected 1 suppressed, got %v", got)
	}
	if got := testutil.ToFloat64(m.policyErrors); got != 2 {
		t.Errorf("expected 2 policy errors, got %v", got)
	}
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.ReminderPublished(domain.ChannelEmail)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `vasool_reminders_published_total{channel="EMAIL"} 1`) {
		t.Errorf("expected reminder counter in exposition, got:\n%s", body)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	m.Classified(domain.Stage1)
	m.ReminderPublished(domain.ChannelSMS)
	m.SweepCompleted(time.Second)

	called := false
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("expected nil metrics middleware to pass through")
	}
}
