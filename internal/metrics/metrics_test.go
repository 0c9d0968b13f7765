package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/theravoice/theravoice/internal/job"
	"github.com/theravoice/theravoice/internal/mail"
	"github.com/theravoice/theravoice/internal/mail/mailtest"
)

func TestJobLifecycleCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	ctx := context.Background()

	j := job.NewJob(job.KindAppointmentReminder, []byte(`{}`), time.Now())
	kind := string(job.KindAppointmentReminder)

	c.JobScheduled(ctx, j)
	c.JobScheduled(ctx, j)
	c.JobCancelled(ctx, j, &job.Result{Outcome: job.OutcomeCancelled})

	fireAt := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	c.JobFinished(ctx, j, &job.Result{
		Outcome:  job.OutcomeCompleted,
		FireAt:   fireAt,
		FiredAt:  fireAt.Add(200 * time.Millisecond),
		Duration: 50 * time.Millisecond,
	})
	c.JobFinished(ctx, j, &job.Result{Outcome: job.OutcomeFailed, FireAt: fireAt, FiredAt: fireAt})

	if got := testutil.ToFloat64(c.jobsScheduled.WithLabelValues(kind)); got != 2 {
		t.Errorf("jobs_scheduled_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.jobsCancelled.WithLabelValues(kind)); got != 1 {
		t.Errorf("jobs_cancelled_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.jobsFired.WithLabelValues(kind, "completed")); got != 1 {
		t.Errorf("completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.jobsFired.WithLabelValues(kind, "failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.fireDrift); n != 1 {
		t.Errorf("Expected drift histogram to be collected, got %d series", n)
	}
}

func TestTrackPending(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	pending := 3
	c.TrackPending(func() int { return pending })

	expected := `
# HELP theravoice_jobs_pending Jobs waiting for their fire time.
# TYPE theravoice_jobs_pending gauge
theravoice_jobs_pending 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "theravoice_jobs_pending"); err != nil {
		t.Error(err)
	}

	pending = 0
	expected = strings.Replace(expected, "pending 3", "pending 0", 1)
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "theravoice_jobs_pending"); err != nil {
		t.Error(err)
	}
}

func TestInstrumentSender(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	fake := mailtest.NewSender()
	s := c.InstrumentSender(fake)
	msg := mail.Message{To: "a@b.com", Subject: "Hi", Body: "x"}

	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	fake.Fail(errors.New("relay down"))
	if err := s.Send(context.Background(), msg); err == nil {
		t.Fatal("Expected failure to pass through")
	}

	if got := testutil.ToFloat64(c.emails.WithLabelValues("sent")); got != 1 {
		t.Errorf("sent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.emails.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/appointments/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/appointments/a", "/appointments/b", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "/appointments/{id}", "404")); got != 2 {
		t.Errorf("route counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("unmatched counter = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordEmail(nil)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `theravoice_emails_total{outcome="sent"} 1`) {
		t.Errorf("Scrape missing email counter:\n%s", body)
	}
}
