package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is the user-facing fallback when a turn cannot be processed.
	SystemErrorMessage = "I'm sorry, something went wrong on our side and I couldn't process your message. Please try again in a moment."
	// StoreErrorMessage describes conversation state persistence failures.
	StoreErrorMessage = "conversation state store unavailable"
)

// AppError wraps an underlying error with an HTTP status and a message that is
// safe to show to the end user.
type AppError struct {
	Err     error
	Status  int
	Message string
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// WrapStore marks a persistence failure. The message stays user-safe.
func WrapStore(err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Err:     fmt.Errorf("%s: %w", StoreErrorMessage, err),
		Status:  http.StatusServiceUnavailable,
		Message: SystemErrorMessage,
	}
}

// UserMessage returns the text a transport should show for err.
func UserMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return SystemErrorMessage
}

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
