// Package metrics exposes scheduler, mail and HTTP activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theravoice/theravoice/internal/job"
	"github.com/theravoice/theravoice/internal/mail"
	"github.com/theravoice/theravoice/internal/scheduler"
)

const namespace = "theravoice"

// Collector records metrics into a Prometheus registry
type Collector struct {
	reg prometheus.Registerer

	jobsScheduled *prometheus.CounterVec
	jobsCancelled *prometheus.CounterVec
	jobsFired     *prometheus.CounterVec
	fireDrift     prometheus.Histogram
	jobDuration   prometheus.Histogram
	emails        *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its metrics with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reg: reg,
		jobsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_scheduled_total",
			Help:      "Jobs registered with the scheduler.",
		}, []string{"kind"}),
		jobsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_cancelled_total",
			Help:      "Pending jobs removed before firing.",
		}, []string{"kind"}),
		jobsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_fired_total",
			Help:      "Jobs fired, by outcome.",
		}, []string{"kind", "outcome"}),
		fireDrift: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_fire_drift_seconds",
			Help:      "Delay between a job's fire time and when it actually fired.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Handler run time of fired jobs.",
			Buckets:   prometheus.DefBuckets,
		}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_total",
			Help:      "Emails handed to the mail relay, by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		c.jobsScheduled,
		c.jobsCancelled,
		c.jobsFired,
		c.fireDrift,
		c.jobDuration,
		c.emails,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// TrackPending exports the scheduler's pending job count as a gauge
func (c *Collector) TrackPending(pending func() int) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_pending",
		Help:      "Jobs waiting for their fire time.",
	}, func() float64 {
		return float64(pending())
	}))
}

// JobScheduled implements scheduler.Observer
func (c *Collector) JobScheduled(_ context.Context, j *job.Job) {
	c.jobsScheduled.WithLabelValues(string(j.Kind)).Inc()
}

// JobCancelled implements scheduler.Observer
func (c *Collector) JobCancelled(_ context.Context, j *job.Job, _ *job.Result) {
	c.jobsCancelled.WithLabelValues(string(j.Kind)).Inc()
}

// JobFinished implements scheduler.Observer
func (c *Collector) JobFinished(_ context.Context, j *job.Job, result *job.Result) {
	c.jobsFired.WithLabelValues(string(j.Kind), string(result.Outcome)).Inc()
	c.fireDrift.Observe(result.Drift().Seconds())
	c.jobDuration.Observe(result.Duration.Seconds())
}

// RecordEmail counts one delivery attempt
func (c *Collector) RecordEmail(err error) {
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	c.emails.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest counts one served request
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// Middleware records every request under its chi route pattern. Unmatched paths are
// grouped under "unmatched" to keep label cardinality bounded.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		c.RecordHTTPRequest(r.Method, route, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// InstrumentSender wraps a mail sender so each attempt is counted
func (c *Collector) InstrumentSender(s mail.Sender) mail.Sender {
	return &countingSender{next: s, c: c}
}

type countingSender struct {
	next mail.Sender
	c    *Collector
}

func (s *countingSender) Send(ctx context.Context, msg mail.Message) error {
	err := s.next.Send(ctx, msg)
	s.c.RecordEmail(err)
	return err
}

// Handler returns the scrape endpoint for gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ scheduler.Observer = (*Collector)(nil)
