package api

import (
	_ "embed"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/theravoice/theravoice/internal/auth"
	"github.com/theravoice/theravoice/internal/civiltime"
	apperrors "github.com/theravoice/theravoice/internal/errors"
	"github.com/theravoice/theravoice/internal/job"
	"github.com/theravoice/theravoice/internal/logger"
	"github.com/theravoice/theravoice/internal/mail"
)

//go:embed resources.json
var resourcesJSON []byte

type handlers struct {
	deps *Deps
	log  logger.Logger
}

// AppointmentRequest is the body of POST /schedule-appointment
type AppointmentRequest struct {
	Email           string `json:"email"`
	AppointmentTime string `json:"appointment_time"`
}

// AppointmentResponse confirms a scheduled reminder
type AppointmentResponse struct {
	Message            string `json:"message"`
	AppointmentTimePT  string `json:"appointment_time_pt"`
	AppointmentTimeUTC string `json:"appointment_time_utc"`
	JobID              string `json:"job_id"`
}

// AppointmentView describes a pending or finished reminder
type AppointmentView struct {
	JobID             string     `json:"job_id"`
	Status            job.Status `json:"status"`
	Email             string     `json:"email,omitempty"`
	AppointmentTimePT string     `json:"appointment_time_pt"`
	Outcome           string     `json:"outcome,omitempty"`
	Error             string     `json:"error,omitempty"`
	FinishedAt        string     `json:"finished_at,omitempty"`
}

// EmailRequest is the body of POST /send-email
type EmailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ChatMessage is both the request and the response of POST /api/chat
type ChatMessage struct {
	Text   string `json:"text"`
	IsUser bool   `json:"is_user"`
}

// AnalyzeRequest is the body of POST /analyze
type AnalyzeRequest struct {
	Text string `json:"text"`
}

// AnalyzeResponse is the reply of POST /analyze
type AnalyzeResponse struct {
	Response string `json:"response"`
}

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	Status      string `json:"status"`
	PendingJobs int    `json:"pending_jobs"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		PendingJobs: h.deps.Scheduler.Pending(),
	})
}

func (h *handlers) resources(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resourcesJSON)
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "username and password are required")
		return
	}

	token, err := h.deps.Tokens.Login(req.Username, req.Password)
	if err != nil {
		h.log.ErrorContext(r.Context(), "Failed to issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "Could not issue token")
		return
	}

	h.log.WithComponent(logger.ComponentAuth).InfoContext(r.Context(), "User logged in", "username", req.Username)
	writeJSON(w, http.StatusOK, token)
}

func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	var msg ChatMessage
	if err := decodeJSON(w, r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		writeError(w, http.StatusBadRequest, "text cannot be empty")
		return
	}

	reply, err := h.deps.Chat.Reply(r.Context(), msg.Text)
	if err != nil {
		username, _ := auth.UsernameFromContext(r.Context())
		h.log.ErrorContext(r.Context(), "Error processing chat message", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "Error processing message")
		return
	}

	writeJSON(w, http.StatusOK, ChatMessage{Text: reply, IsUser: false})
}

// analyze answers free text with a supportive reply. Unlike /api/chat it needs no token.
func (h *handlers) analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "Text is required")
		return
	}

	reply, err := h.deps.Chat.Reply(r.Context(), req.Text)
	if err != nil {
		h.log.WithComponent(logger.ComponentChat).ErrorContext(r.Context(), "Error analyzing text", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{Response: reply})
}

func (h *handlers) sendEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	to, err := mail.ParseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.deps.Mailer.Send(r.Context(), mail.Message{
		To:      to,
		Subject: req.Subject,
		Body:    req.Body,
		HTML:    true,
	})
	if err != nil {
		if apperrors.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Email sent successfully"})
}

// scheduleAppointment validates the request, sends the confirmation and registers the
// reminder. A confirmation failure leaves no job behind.
func (h *handlers) scheduleAppointment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AppointmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	email, err := mail.ParseAddress(req.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	instant, err := h.deps.Normalizer.Parse("appointment_time", req.AppointmentTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	local := h.deps.Normalizer.Normalize(instant)
	if !h.deps.Normalizer.IsFuture(local) {
		writeError(w, http.StatusBadRequest, "Appointment time must be in the future")
		return
	}

	if err := h.deps.Reminders.Confirm(ctx, email, local); err != nil {
		h.log.ErrorContext(ctx, "Appointment confirmation failed", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	reminderJob, err := job.NewReminderJob(email, local)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jobID, err := h.deps.Scheduler.Schedule(ctx, reminderJob)
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to schedule reminder", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.InfoContext(ctx, "Appointment scheduled",
		"job_id", jobID,
		"email", email,
		"appointment_time", civiltime.Format(local))

	writeJSON(w, http.StatusOK, AppointmentResponse{
		Message:            "Appointment scheduled successfully. A reminder will be sent at " + civiltime.Format(local),
		AppointmentTimePT:  civiltime.Format(local),
		AppointmentTimeUTC: civiltime.UTC(instant),
		JobID:              jobID,
	})
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if j, ok := h.deps.Scheduler.Get(id); ok {
		view := AppointmentView{
			JobID:             j.ID,
			Status:            j.Status,
			AppointmentTimePT: civiltime.Format(h.deps.Normalizer.Normalize(j.FireAt)),
		}
		if p, err := j.Reminder(); err == nil {
			view.Email = p.Email
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if h.deps.History != nil {
		rec, err := h.deps.History.GetResult(r.Context(), id)
		if err != nil {
			h.log.WarnContext(r.Context(), "Job history lookup failed", "job_id", id, "error", err)
		}
		if rec != nil {
			view := AppointmentView{
				JobID:             id,
				Status:            job.StatusRemoved,
				AppointmentTimePT: civiltime.Format(h.deps.Normalizer.Normalize(rec.Result.FireAt)),
				Outcome:           string(rec.Result.Outcome),
				Error:             rec.Result.Error,
				FinishedAt:        rec.Result.FinishedAt.UTC().Format(time.RFC3339),
			}
			if rec.Job != nil {
				if p, err := rec.Job.Reminder(); err == nil {
					view.Email = p.Email
				}
			}
			writeJSON(w, http.StatusOK, view)
			return
		}
	}

	writeError(w, http.StatusNotFound, "Appointment not found")
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled := h.deps.Scheduler.Cancel(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}
