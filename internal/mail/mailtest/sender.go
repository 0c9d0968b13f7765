// Package mailtest provides an in-memory mail.Sender for tests.
package mailtest

import (
	"context"
	"sync"

	"github.com/theravoice/theravoice/internal/mail"
)

// Sender records sent messages. Set Err to make every Send fail.
type Sender struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error

	// Sent receives every successfully sent message when non-nil
	Sent chan mail.Message
}

// NewSender creates a recording sender with a buffered notification channel
func NewSender() *Sender {
	return &Sender{Sent: make(chan mail.Message, 64)}
}

// Fail makes subsequent sends return err; nil restores success
func (s *Sender) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Send implements mail.Sender
func (s *Sender) Send(_ context.Context, msg mail.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	err := s.err
	if err == nil {
		s.sent = append(s.sent, msg)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if s.Sent != nil {
		select {
		case s.Sent <- msg:
		default:
		}
	}
	return nil
}

// Messages returns a copy of everything sent so far
func (s *Sender) Messages() []mail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mail.Message, len(s.sent))
	copy(out, s.sent)
	return out
}

var _ mail.Sender = (*Sender)(nil)
