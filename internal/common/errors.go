package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
)

// Pipeline errors. The first four are terminal for a document.
var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUnsupportedFormat   = errors.New("unsupported format")
	ErrInsufficientText    = errors.New("insufficient extracted text")
	ErrInvalidPayload      = errors.New("invalid ai payload")
	ErrExtractionFailed    = errors.New("extraction failed")
	ErrQueueUnavailable    = errors.New("queue unavailable")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// TerminalError marks a failure that no retry of the same job can fix.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }

func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err as a TerminalError. nil stays nil.
func Terminal(err error) error {
	if err == nil || IsTerminal(err) {
		return err
	}
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err (or anything it wraps) is terminal.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	var t *TerminalError
	if errors.As(err, &t) {
		return true
	}
	return errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrInsufficientText)
}
