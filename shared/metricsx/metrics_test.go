package metricsx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register()
}

func TestHandlerExposesServiceMetrics(t *testing.T) {
	Register()
	IncDLQAlert()
	SetFailedWritesPending(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"dlq_alerts_total", "failed_writes_pending 3"} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %q in metrics output", name)
		}
	}
}

func TestInstrumentKeepsStatus(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
}
