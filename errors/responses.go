package errors

import (
	"errors"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// As is a wrapper around errors.As for better error type assertion
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is a wrapper around errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// New is a wrapper around errors.New
func New(text string) error {
	return errors.New(text)
}
