// Package mail delivers transactional email through an SMTP relay.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/theravoice/theravoice/internal/errors"
)

// Sender delivers one message. Failures must be returned, never swallowed.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a single-recipient email
type Message struct {
	To      string
	Subject string
	Body    string
	HTML    bool
}

// Validate checks the recipient and subject
func (m Message) Validate() error {
	if _, err := ParseAddress(m.To); err != nil {
		return err
	}
	if strings.TrimSpace(m.Subject) == "" {
		return apperrors.NewValidationError("subject", "subject is required")
	}
	if strings.ContainsAny(m.Subject, "\r\n") {
		return apperrors.NewValidationError("subject", "subject must be a single line")
	}
	return nil
}

// ParseAddress validates a bare recipient address such as "a@b.com"
func ParseAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", apperrors.NewValidationError("email", "email is required")
	}

	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address || !strings.Contains(address[strings.LastIndex(address, "@")+1:], ".") {
		return "", apperrors.NewValidationError("email", "%q is not a valid email address", address)
	}
	return parsed.Address, nil
}

// build renders the message as RFC 5322 bytes
func (m Message) build(from *mail.Address, now time.Time) []byte {
	contentType := "text/plain"
	if m.HTML {
		contentType = "text/html"
	}

	domain := "theravoice.app"
	if at := strings.LastIndex(from.Address, "@"); at >= 0 {
		domain = from.Address[at+1:]
	}

	var buf bytes.Buffer
	header := func(k, v string) {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(v)
		buf.WriteString("\r\n")
	}

	header("From", from.String())
	header("To", m.To)
	header("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domain))
	header("MIME-Version", "1.0")
	header("Content-Type", contentType+"; charset=UTF-8")
	header("Content-Transfer-Encoding", "8bit")
	buf.WriteString("\r\n")

	body := strings.ReplaceAll(m.Body, "\r\n", "\n")
	for _, line := range strings.Split(body, "\n") {
		// SMTP dot-stuffing is done by the client; lines only need CRLF endings
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}

	return buf.Bytes()
}
