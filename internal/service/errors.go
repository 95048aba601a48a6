package service

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every error a service returns to a handler wraps one of
// these, so the handler can pick a status code with errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrRateLimited  = errors.New("rate limited")
)

// serviceError pairs a sentinel with the message shown to the client.
type serviceError struct {
	kind    error
	message string
}

func (e *serviceError) Error() string { return e.message }
func (e *serviceError) Unwrap() error { return e.kind }

// ValidationError is an ErrInvalidInput naming the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// RateLimitError is returned when a policy rejects a call. RetryAfter is in
// whole seconds and is at least 1.
type RateLimitError struct {
	Policy     string
	RetryAfter int
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("rate limit exceeded for %s, retry in %ds", e.Policy, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func unauthorized(message string) error {
	return &serviceError{kind: ErrUnauthorized, message: message}
}

func forbidden(message string) error {
	return &serviceError{kind: ErrForbidden, message: message}
}

func notFound(message string) error {
	return &serviceError{kind: ErrNotFound, message: message}
}

func conflict(message string) error {
	return &serviceError{kind: ErrConflict, message: message}
}

// Unauthenticated is the error for a request that carries no usable bearer token.
func Unauthenticated() error {
	return unauthorized("Authentication required")
}

// NotFound returns an ErrNotFound carrying message.
func NotFound(message string) error {
	return notFound(message)
}
