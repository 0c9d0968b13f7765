package job

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind tags what a job does when it fires
type Kind string

const (
	// KindAppointmentReminder sends the session reminder email
	KindAppointmentReminder Kind = "appointment_reminder"
)

// Validate checks that a kind is a usable registry key
func (k Kind) Validate() error {
	if k == "" {
		return fmt.Errorf("job kind cannot be empty")
	}
	if len(k) > 64 {
		return fmt.Errorf("job kind too long: %d characters (max 64)", len(k))
	}
	for _, char := range k {
		if (char < 'a' || char > 'z') && (char < '0' || char > '9') && char != '_' {
			return fmt.Errorf("invalid job kind %q: only lowercase letters, digits and underscores", string(k))
		}
	}
	return nil
}

// Status is the lifecycle state of a scheduled job
type Status string

const (
	// StatusPending indicates the job is waiting for its fire time
	StatusPending Status = "pending"
	// StatusFired indicates the job left the pending set and its handler is running
	StatusFired Status = "fired"
	// StatusRemoved indicates the job is gone: it finished firing or was cancelled
	StatusRemoved Status = "removed"
)

// Job is a one-shot unit of deferred work. It is plain data so it can be inspected,
// serialized or recorded without capturing runtime state.
type Job struct {
	// ID is assigned by the scheduler at registration time
	ID string `json:"id"`
	// Kind selects the handler invoked at fire time
	Kind Kind `json:"kind"`
	// Description is an optional human-readable description of the job
	Description string `json:"description,omitempty"`
	// Payload carries the kind-specific arguments as JSON
	Payload json.RawMessage `json:"payload"`
	// FireAt is the instant the job must fire at, never before
	FireAt time.Time `json:"fire_at"`
	// Status is the current lifecycle state
	Status Status `json:"status"`
	// CreatedAt is when the job was registered
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the status last changed
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob creates a pending job descriptor. The description parameter is optional - if
// provided, the first value will be used.
func NewJob(kind Kind, payload []byte, fireAt time.Time, description ...string) *Job {
	now := time.Now()

	var desc string
	if len(description) > 0 {
		desc = description[0]
	}

	return &Job{
		Kind:        kind,
		Description: desc,
		Payload:     payload,
		FireAt:      fireAt,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// UpdateStatus sets the job's status and records at as UpdatedAt
func (j *Job) UpdateStatus(status Status, at time.Time) {
	j.Status = status
	j.UpdatedAt = at
}

// Clone returns a deep copy that shares nothing with j
func (j *Job) Clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	return &c
}

// ReminderPayload holds the arguments of an appointment reminder
type ReminderPayload struct {
	Email           string    `json:"email"`
	AppointmentTime time.Time `json:"appointment_time"`
}

// NewReminderJob creates a reminder job that fires at the appointment time
func NewReminderJob(email string, appointmentTime time.Time) (*Job, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("reminder email cannot be empty")
	}

	payload, err := json.Marshal(ReminderPayload{Email: email, AppointmentTime: appointmentTime})
	if err != nil {
		return nil, fmt.Errorf("failed to encode reminder payload: %w", err)
	}

	return NewJob(KindAppointmentReminder, payload, appointmentTime, "Session reminder for "+email), nil
}

// Reminder decodes the payload of an appointment reminder job
func (j *Job) Reminder() (*ReminderPayload, error) {
	if j.Kind != KindAppointmentReminder {
		return nil, fmt.Errorf("job %s is a %s job, not %s", j.ID, j.Kind, KindAppointmentReminder)
	}

	var p ReminderPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode reminder payload: %w", err)
	}
	if p.Email == "" {
		return nil, fmt.Errorf("reminder payload for job %s has no email", j.ID)
	}
	return &p, nil
}
