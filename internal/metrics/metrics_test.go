package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(channelEvents.WithLabelValues("progress_update"))
	EventReceived("progress_update")
	EventReceived("progress_update")
	if got := testutil.ToFloat64(channelEvents.WithLabelValues("progress_update")) - before; got != 2 {
		t.Errorf("events delta = %v, want 2", got)
	}

	before = testutil.ToFloat64(channelDropped.WithLabelValues(DropUnknown))
	MessageDropped(DropUnknown)
	if got := testutil.ToFloat64(channelDropped.WithLabelValues(DropUnknown)) - before; got != 1 {
		t.Errorf("dropped delta = %v, want 1", got)
	}

	open := testutil.ToFloat64(channelOpen)
	ConnectionOpened()
	ConnectionOpened()
	ConnectionClosed()
	if got := testutil.ToFloat64(channelOpen) - open; got != 1 {
		t.Errorf("open delta = %v, want 1", got)
	}
}

func TestHTTPMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HTTPMiddleware)
	r.Get("/api/v1/jobs/{jobID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("404", "GET", "/api/v1/jobs/{jobID}"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/abc123", nil))

	if got := testutil.ToFloat64(httpRequests.WithLabelValues("404", "GET", "/api/v1/jobs/{jobID}")) - before; got != 1 {
		t.Errorf("requests delta = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	JobTransition("created")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "datacure_jobfeed_jobs_total") {
		t.Error("expected jobfeed jobs counter in exposition")
	}
}
