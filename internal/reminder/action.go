// Package reminder composes and sends appointment emails: the confirmation sent when a
// session is booked and the reminder fired at the session time.
package reminder

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/theravoice/theravoice/internal/civiltime"
	"github.com/theravoice/theravoice/internal/job"
	"github.com/theravoice/theravoice/internal/logger"
	"github.com/theravoice/theravoice/internal/mail"
)

const (
	// ReminderSubject is the subject of the email sent at fire time
	ReminderSubject = "Your Session Reminder"
	// ConfirmationSubject is the subject of the email sent when a session is booked
	ConfirmationSubject = "Your Session Is Scheduled"
)

const reminderBody = `<html>
  <body>
    <h2>Session Reminder</h2>
    <p>This is a friendly reminder that your TheraVoice session is starting now.</p>
    <p>Take a moment to find a quiet, comfortable space before you begin.</p>
    <p>If you are in crisis, call or text 988 to reach the Suicide &amp; Crisis Lifeline.</p>
  </body>
</html>`

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<html>
  <body>
    <h2>Your session is scheduled</h2>
    <p>Your TheraVoice session is booked for <strong>{{.Local}}</strong> ({{.Zone}}).</p>
    <p>We will send you a reminder at the start of your session.</p>
  </body>
</html>`))

// Action sends appointment emails through a mail collaborator
type Action struct {
	mailer mail.Sender
	log    logger.Logger
}

// NewAction creates an Action using mailer
func NewAction(mailer mail.Sender, log logger.Logger) *Action {
	if log == nil {
		log = logger.Default()
	}
	return &Action{
		mailer: mailer,
		log:    log.WithComponent(logger.ComponentMailer),
	}
}

// Execute sends the fixed reminder to email. It makes one attempt and returns the
// collaborator's error unchanged.
func (a *Action) Execute(ctx context.Context, email string, fireTime time.Time) error {
	err := a.mailer.Send(ctx, mail.Message{
		To:      email,
		Subject: ReminderSubject,
		Body:    reminderBody,
		HTML:    true,
	})
	if err != nil {
		return fmt.Errorf("send reminder to %s for %s: %w", email, civiltime.Format(fireTime), err)
	}

	a.log.InfoContext(ctx, "Reminder sent", "email", email, "appointment_time", civiltime.Format(fireTime))
	return nil
}

// Confirm sends the booking confirmation for a session at appointmentTime
func (a *Action) Confirm(ctx context.Context, email string, appointmentTime time.Time) error {
	zone, _ := appointmentTime.Zone()

	var body bytes.Buffer
	err := confirmationTemplate.Execute(&body, struct {
		Local string
		Zone  string
	}{
		Local: appointmentTime.Format("Monday, January 2, 2006 at 3:04 PM"),
		Zone:  zone,
	})
	if err != nil {
		return fmt.Errorf("render confirmation: %w", err)
	}

	if err := a.mailer.Send(ctx, mail.Message{
		To:      email,
		Subject: ConfirmationSubject,
		Body:    body.String(),
		HTML:    true,
	}); err != nil {
		return fmt.Errorf("send confirmation to %s: %w", email, err)
	}
	return nil
}

// Handle is the scheduler handler for appointment reminder jobs
func (a *Action) Handle(ctx context.Context, j *job.Job) error {
	p, err := j.Reminder()
	if err != nil {
		return err
	}
	return a.Execute(ctx, p.Email, p.AppointmentTime)
}
