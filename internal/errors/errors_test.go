package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestValidationError(t *testing.T) {
	err := NewValidationError("appointment_time", "must be in the future, got %s", "2020-01-01")

	if err.Error() != "appointment_time: must be in the future, got 2020-01-01" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	wrapped := fmt.Errorf("schedule: %w", err)
	if !IsValidation(wrapped) {
		t.Error("expected wrapped error to be a validation error")
	}
	if IsCollaborator(wrapped) {
		t.Error("validation error must not be reported as collaborator error")
	}
}

func TestValidationError_NoField(t *testing.T) {
	err := &ValidationError{Message: "bad request"}
	if err.Error() != "bad request" {
		t.Errorf("expected bare message, got %s", err.Error())
	}
}

func TestCollaboratorError(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewCollaboratorError("mail", cause)

	if !strings.Contains(err.Error(), "mail failed") {
		t.Errorf("expected collaborator name in message, got %s", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected Unwrap to expose the cause")
	}

	wrapped := fmt.Errorf("send reminder: %w", err)
	if !IsCollaborator(wrapped) {
		t.Error("expected wrapped error to be a collaborator error")
	}
}

func TestRecoverPanic(t *testing.T) {
	run := func() (err error) {
		defer func() {
			if perr := RecoverPanic(recover()); perr != nil {
				err = perr
			}
		}()
		panic("boom")
	}

	err := run()
	if err == nil {
		t.Fatal("expected panic to be converted to error")
	}

	var perr *PanicError
	if !stderrors.As(err, &perr) {
		t.Fatalf("expected *PanicError, got %T", err)
	}
	if perr.Value != "boom" {
		t.Errorf("expected panic value boom, got %v", perr.Value)
	}
	if perr.Stacktrace == "" {
		t.Error("expected stack trace to be captured")
	}
	if !strings.HasPrefix(FormatPanicForLog(perr), "PANIC: boom") {
		t.Errorf("unexpected log format: %s", FormatPanicForLog(perr))
	}
}

func TestRecoverPanic_NoPanic(t *testing.T) {
	if err := RecoverPanic(nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
