// Package errortypes defines the error taxonomy surfaced to MCP clients.
package errortypes

import (
	"errors"
	"fmt"
	"log/slog"
)

// Kind classifies an error. A Kind is itself an error so callers can match
// with errors.Is(err, errortypes.NotFound).
type Kind string

const (
	Validation     Kind = "validation error"
	NotFound       Kind = "not found"
	AlreadyApplied Kind = "already applied"
	Execution      Kind = "execution error"
)

func (k Kind) Error() string { return string(k) }

// Error carries a Kind, a human-readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	Fields  map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare Kind against the error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// WithField attaches structured context that LogError emits.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// Validationf reports malformed or missing arguments.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: Validation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf reports a missing entity, relationship or migration.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf(format, args...)}
}

// AlreadyAppliedf reports a second application of a migration.
func AlreadyAppliedf(format string, args ...any) *Error {
	return &Error{Kind: AlreadyApplied, Message: fmt.Sprintf(format, args...)}
}

// ExecutionError wraps an underlying database failure. Errors that already
// carry a Kind are returned unchanged so a typed error raised inside a
// transaction function survives the driver.
func ExecutionError(err error, message string) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: Execution, Message: message, Err: err}
}

// KindOf returns the Kind of err, or Execution for untyped errors.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return Execution
}

// ClientMessage renders err as "<kind>: <message>" for tool results.
func ClientMessage(err error) string {
	kind := KindOf(err)
	var typed *Error
	if errors.As(err, &typed) {
		return fmt.Sprintf("%s: %s", kind, typed.Error())
	}
	return fmt.Sprintf("%s: %v", kind, err)
}

func IsValidation(err error) bool     { return errors.Is(err, Validation) }
func IsNotFound(err error) bool       { return errors.Is(err, NotFound) }
func IsAlreadyApplied(err error) bool { return errors.Is(err, AlreadyApplied) }
func IsExecution(err error) bool      { return errors.Is(err, Execution) }

// LogError logs err with its kind and any attached fields. Client-caused
// kinds are logged at warn level, execution failures at error level.
func LogError(logger *slog.Logger, msg string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{"kind", string(KindOf(err)), "error", err.Error()}
	var typed *Error
	if errors.As(err, &typed) {
		for k, v := range typed.Fields {
			args = append(args, k, v)
		}
	}
	if KindOf(err) == Execution {
		logger.Error(msg, args...)
		return
	}
	logger.Warn(msg, args...)
}
