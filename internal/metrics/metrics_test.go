package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/corrector/internal/model"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestJobMetrics(t *testing.T) {
	m := New()
	m.JobQueued()
	m.JobQueued()
	m.JobRejected("queue_full")
	m.JobFinished(model.JobCompleted, 3*time.Second)
	m.ModelCall("gpt-4o-mini", nil, time.Second)
	m.ModelCall("gpt-4o-mini", errors.New("boom"), time.Second)
	m.QueueDepth(7)

	out := scrape(t, m)
	for _, want := range []string{
		"corrector_jobs_queued_total 2",
		`corrector_jobs_rejected_total{reason="queue_full"} 1`,
		`corrector_jobs_finished_total{state="completed"} 1`,
		`corrector_model_calls_total{model="gpt-4o-mini",outcome="error"} 1`,
		`corrector_model_calls_total{model="gpt-4o-mini",outcome="ok"} 1`,
		"corrector_queue_depth 7",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in scrape output", want)
		}
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/batches/{batchID}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/batches/abc", nil))

	out := scrape(t, m)
	want := `corrector_http_requests_total{method="GET",route="/api/batches/{batchID}",status="404"} 1`
	if !strings.Contains(out, want) {
		t.Errorf("missing %q in scrape output:\n%s", want, out)
	}
}
