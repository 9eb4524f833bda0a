package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"/":                                  "/",
		"/properties":                        "/properties",
		"/properties/9b2e":                   "/properties/:id",
		"/properties/upload":                 "/properties/upload",
		"/appointments/user":                 "/appointments/user",
		"/appointments/a1/contact-request":   "/appointments/:id/contact-request",
		"/appointments/migrate-roles":        "/appointments/migrate-roles",
		"/users/profile/someone@example.com": "/users/profile/:email",
		"/wp-admin/setup.php":                "/other",
	}
	for in, want := range tests {
		if got := canonicalPath(in); got != want {
			t.Fatalf("canonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInstrumentHandlerCountsRequests(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/properties/:id", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/properties/abc", nil))
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/properties/:id", "418"))
	if after-before != 1 {
		t.Fatalf("expected one counted request, got delta %v", after-before)
	}
}

func TestRecordersAndHandler(t *testing.T) {
	RecordAppointmentMutation("confirmed", nil)
	RecordAppointmentMutation("confirmed", errors.New("boom"))
	if got := testutil.ToFloat64(appointmentTransitions.WithLabelValues("confirmed", "error")); got < 1 {
		t.Fatalf("expected error outcome to be counted")
	}
	RecordEstimatorRun(0, nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "realestate360_appointments_mutations_total") {
		t.Fatalf("metrics output missing appointment counter")
	}
}
