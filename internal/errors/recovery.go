package errors

import (
	"fmt"
	"runtime/debug"
)

// PanicError represents an error recovered from a panic inside a job handler
type PanicError struct {
	Value      interface{} // The panic value
	Stacktrace string      // Full stack trace
}

// Error implements the error interface
func (p *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", p.Value)
}

// RecoverPanic converts a value returned by recover() into a *PanicError.
// It must be called with the result of recover() from inside the deferred function:
//
//	defer func() {
//		if perr := errors.RecoverPanic(recover()); perr != nil {
//			err = perr
//		}
//	}()
//
// Returns nil if no panic occurred
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}
	return &PanicError{
		Value:      r,
		Stacktrace: string(debug.Stack()),
	}
}

// FormatPanicForLog returns a formatted string suitable for logging
func FormatPanicForLog(panicErr *PanicError) string {
	return fmt.Sprintf("PANIC: %v\n\nStack Trace:\n%s", panicErr.Value, panicErr.Stacktrace)
}
