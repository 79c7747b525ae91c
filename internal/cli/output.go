package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// Exit codes. Integrity findings use ExitFailure so scripts can distinguish
// "the chains are broken" from "the command could not run".
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // verification found violations
	ExitCommandError = 2 // bad input, unreachable storage, unknown record
)

// ExitError carries a process exit code alongside the error message.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError builds an ExitError without an underlying cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code to an existing error.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps an error to the process exit code. Errors without an
// explicit code exit with ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Formatter renders command results as human text or a single JSON
// document. Diagnostic output goes to ErrWriter so JSON stays parseable.
type Formatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// Response is the envelope every JSON-mode command emits.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed command in JSON mode.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success emits the payload. Text mode prints the value as-is, so commands
// usually pass a pre-rendered string there and a struct in JSON mode.
func (f *Formatter) Success(data any) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(Response{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Failure emits a result that carries evidence alongside the error, like a
// verification report with its violations. JSON mode only; text callers
// render the evidence themselves.
func (f *Formatter) Failure(code, message string, data any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(Response{
		Status: "error",
		Data:   data,
		Error:  &ResponseError{Code: code, Message: message},
	})
}

// Error emits a failure in the configured format.
func (f *Formatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(Response{
			Status: "error",
			Error:  &ResponseError{Code: code, Message: message, Details: details},
		})
	}
	if _, err := fmt.Fprintf(f.Writer, "error [%s]: %s\n", code, message); err != nil {
		return err
	}
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "details: %v\n", details)
	}
	return nil
}

// Verbosef prints a diagnostic line when verbose mode is on.
func (f *Formatter) Verbosef(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// errorCode maps domain errors onto the stable codes surfaced in JSON
// responses. Callers that script against the CLI match on these, not on
// message text.
func errorCode(err error) string {
	var (
		notFound  domain.ErrNotFound
		denied    domain.AuthorizationViolation
		conflict  domain.OptimisticLockConflict
		invalid   domain.ValidationError
		integrity domain.ChainIntegrityViolation
		transport domain.TransientTransportError
	)
	switch {
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &denied):
		return "denied"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &invalid):
		return "invalid"
	case errors.As(err, &integrity):
		return "integrity"
	case errors.As(err, &transport):
		return "transport"
	default:
		return "error"
	}
}

// fail renders err through the formatter and returns the matching
// ExitError. Domain lookup and authorization failures are command errors;
// integrity violations are verification failures.
func fail(f *Formatter, err error) error {
	code := errorCode(err)
	_ = f.Error(code, err.Error(), nil)
	exit := ExitCommandError
	if code == "integrity" {
		exit = ExitFailure
	}
	return WrapExitError(exit, code, err)
}
