package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"

	apperrors "github.com/theravoice/theravoice/internal/errors"
	"github.com/theravoice/theravoice/internal/logger"
)

// Collaborator is the name failures are reported under
const Collaborator = "mail relay"

// SMTPConfig holds relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout bounds one delivery. Defaults to DefaultSMTPTimeout.
	Timeout time.Duration
}

// DefaultSMTPTimeout applies when SMTPConfig.Timeout is not set
const DefaultSMTPTimeout = 30 * time.Second

// SMTPSender delivers mail through an SMTP relay, upgrading to TLS when offered
type SMTPSender struct {
	config SMTPConfig
	from   *mail.Address
	log    logger.Logger
	now    func() time.Time
}

// NewSMTPSender creates a relay-backed sender
func NewSMTPSender(config SMTPConfig, log logger.Logger) (*SMTPSender, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	from, err := mail.ParseAddress(config.From)
	if err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", config.From, err)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSMTPTimeout
	}
	if log == nil {
		log = logger.Default()
	}
	return &SMTPSender{
		config: config,
		from:   from,
		log:    log.WithComponent(logger.ComponentMailer),
		now:    time.Now,
	}, nil
}

// Send delivers msg. Any relay failure is returned as a CollaboratorError.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	if err := s.deliver(ctx, msg); err != nil {
		s.log.ErrorContext(ctx, "Email delivery failed",
			"to", msg.To,
			"subject", msg.Subject,
			"error", err)
		return apperrors.NewCollaboratorError(Collaborator, err)
	}

	s.log.InfoContext(ctx, "Email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

func (s *SMTPSender) deliver(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return fmt.Errorf("set deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.config.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.config.Username != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(s.from.Address); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg.build(s.from, s.now())); err != nil {
		_ = w.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end of data: %w", err)
	}

	return client.Quit()
}

// LogSender logs messages instead of sending them. Used when no relay is configured.
type LogSender struct {
	log logger.Logger
}

// NewLogSender creates a log-only sender
func NewLogSender(log logger.Logger) *LogSender {
	if log == nil {
		log = logger.Default()
	}
	return &LogSender{log: log.WithComponent(logger.ComponentMailer)}
}

// Send validates and logs msg
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "Email not sent: no SMTP relay configured",
		"to", msg.To,
		"subject", msg.Subject,
		"body_bytes", len(msg.Body))
	return nil
}

var (
	_ Sender = (*SMTPSender)(nil)
	_ Sender = (*LogSender)(nil)
)
