// Package errors defines the sentinel errors shared across the search core
// and a wrapper type that carries an HTTP status for the transport layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoSegments        = errors.New("no segments found")
	ErrSegmentCorrupt    = errors.New("segment corrupt")
	ErrMissingColumn     = errors.New("required csv column missing")
	ErrNoIndexableTokens = errors.New("document has no indexable tokens")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInternal          = errors.New("internal error")
)

// AppError pairs a sentinel error with a message and an HTTP status code.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError around a sentinel.
func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Newf is New with a format string.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the status code the transport layer
// should return.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNoIndexableTokens):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoSegments), errors.Is(err, ErrSegmentCorrupt),
		errors.Is(err, ErrMissingColumn):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
