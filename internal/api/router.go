// Package api serves the TheraVoice HTTP endpoints.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/theravoice/theravoice/internal/auth"
	"github.com/theravoice/theravoice/internal/chat"
	"github.com/theravoice/theravoice/internal/civiltime"
	"github.com/theravoice/theravoice/internal/history"
	"github.com/theravoice/theravoice/internal/logger"
	"github.com/theravoice/theravoice/internal/mail"
	"github.com/theravoice/theravoice/internal/metrics"
	"github.com/theravoice/theravoice/internal/reminder"
	"github.com/theravoice/theravoice/internal/scheduler"
)

// Deps holds everything the router needs. History, Metrics and RateLimiter are optional.
type Deps struct {
	Scheduler  *scheduler.Scheduler
	Normalizer *civiltime.Normalizer
	Reminders  *reminder.Action
	Mailer     mail.Sender
	Tokens     *auth.TokenService
	Chat       chat.Responder
	History    history.Backend

	Metrics     *metrics.Collector
	Gatherer    prometheus.Gatherer
	RateLimiter *RateLimiter

	CORSAllowedOrigins []string
	Logger             logger.Logger
}

// NewRouter builds the chi router with the middleware chain:
//
//	Recovery -> RequestLogging -> Metrics -> CORS -> RateLimit
//
// /metrics and /api/health sit outside the rate limit.
func NewRouter(deps *Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent(logger.ComponentAPI).WithSource(logger.LogSourceInternal)

	h := &handlers{deps: deps, log: log}

	r := chi.NewRouter()
	r.Use(Recovery(log))
	r.Use(RequestLogging(log))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	r.Use(CORS(deps.CORSAllowedOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Get("/api/health", h.health)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware)
		}

		r.Post("/api/auth/login", h.login)
		r.With(auth.Middleware(deps.Tokens, log)).Post("/api/chat", h.chat)
		r.Post("/analyze", h.analyze)
		r.Get("/api/resources", h.resources)

		r.Post("/send-email", h.sendEmail)
		r.Post("/schedule-appointment", h.scheduleAppointment)

		r.Route("/appointments/{id}", func(r chi.Router) {
			r.Get("/", h.getAppointment)
			r.Delete("/", h.cancelAppointment)
		})
	})

	return r
}
