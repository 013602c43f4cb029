// Package reactorerrors collects the typed error taxonomy the reactor
// uses to decide how a failure should be handled: retried, surfaced to
// an admission client, or treated as permanently fatal to a handler
// cycle. It is grounded in kopf's scattered exception classes --
// clients/auth.py's LoginError/AccessError, clients/watching.py's
// WatchingError, reactor/admission.py's AdmissionError/WebhookError
// family, and the PermanentError/TemporaryError pair handlers raise to
// control their own retry behaviour -- brought together under one
// package the way a Go library typically centralises its error types.
package reactorerrors

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// LoginError is raised when the operator cannot authenticate to the API
// at all (every credential in the vault was rejected or exhausted).
type LoginError struct {
	cause error
}

func NewLoginError(cause error) *LoginError { return &LoginError{cause: cause} }

func (e *LoginError) Error() string { return fmt.Sprintf("cannot login to the API: %v", e.cause) }
func (e *LoginError) Unwrap() error { return e.cause }

// AccessError is raised when the operator authenticated but cannot
// access the cluster API it needs (e.g. discovery failed outright).
type AccessError struct {
	cause error
}

func NewAccessError(cause error) *AccessError { return &AccessError{cause: cause} }

func (e *AccessError) Error() string { return fmt.Sprintf("cannot access the cluster API: %v", e.cause) }
func (e *AccessError) Unwrap() error { return e.cause }

// WatchingError is raised when an unexpected error happens in the
// watch-stream API, outside the well-known reconnect/Gone cases the
// watch engine already handles internally.
type WatchingError struct {
	cause error
}

func NewWatchingError(cause error) *WatchingError { return &WatchingError{cause: cause} }

func (e *WatchingError) Error() string { return fmt.Sprintf("watch-stream error: %v", e.cause) }
func (e *WatchingError) Unwrap() error { return e.cause }

// APIErrorKind classifies a REST response's status code into the
// buckets the client needs to branch on (re-login, not-found-is-ok,
// conflict-retry, etc).
type APIErrorKind int

const (
	APIErrorGeneric APIErrorKind = iota
	APIErrorUnauthorized
	APIErrorForbidden
	APIErrorNotFound
	APIErrorConflict
)

// APIError wraps a Kubernetes API response error, carrying the HTTP
// status, the classified Kind, and (when the response body was a
// `Status` object) the server's own message -- mirroring
// clients/errors.py's check_response, which replaces the generic HTTP
// client error with the more specific message the API server provided.
type APIError struct {
	Kind       APIErrorKind
	StatusCode int
	Message    string
}

func NewAPIError(statusCode int, message string) *APIError {
	return &APIError{Kind: classifyStatus(statusCode), StatusCode: statusCode, Message: message}
}

func classifyStatus(code int) APIErrorKind {
	switch code {
	case 401:
		return APIErrorUnauthorized
	case 403:
		return APIErrorForbidden
	case 404:
		return APIErrorNotFound
	case 409:
		return APIErrorConflict
	default:
		return APIErrorGeneric
	}
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

func (e *APIError) IsUnauthorized() bool { return e.Kind == APIErrorUnauthorized }
func (e *APIError) IsForbidden() bool    { return e.Kind == APIErrorForbidden }
func (e *APIError) IsNotFound() bool     { return e.Kind == APIErrorNotFound }
func (e *APIError) IsConflict() bool     { return e.Kind == APIErrorConflict }

// PermanentError is the error a handler raises to signal it will never
// succeed no matter how many times it is retried -- the operator should
// record the failure and stop calling it for this object generation.
type PermanentError struct {
	Message string
}

func NewPermanentError(message string) *PermanentError { return &PermanentError{Message: message} }

func (e *PermanentError) Error() string { return e.Message }

// TemporaryError is the error a handler raises to request a retry after
// an explicit delay, overriding the operator's default backoff.
type TemporaryError struct {
	Message string
	Delay   time.Duration
}

func NewTemporaryError(message string, delay time.Duration) *TemporaryError {
	return &TemporaryError{Message: message, Delay: delay}
}

func (e *TemporaryError) Error() string { return e.Message }

// AdmissionError is raised by admission handlers when the object under
// review is invalid. It behaves like PermanentError (no retries) but
// also carries the numeric code and message the admission response
// should report back to the API server.
type AdmissionError struct {
	Message string
	Code    int
}

func NewAdmissionError(message string, code int) *AdmissionError {
	if code == 0 {
		code = 500
	}
	return &AdmissionError{Message: message, Code: code}
}

func (e *AdmissionError) Error() string { return e.Message }

// Permanent satisfies whatever interface callers use to test "was this
// effectively a PermanentError" without an extra type switch arm for
// AdmissionError, mirroring kopf's AdmissionError(handling.PermanentError)
// subclassing.
func (e *AdmissionError) Permanent() bool { return true }

// WebhookError is raised when an admission *request itself* is malformed
// -- as opposed to the object it reviews being invalid -- e.g. missing
// fields, or a resource the operator does not recognise.
type WebhookError struct {
	Message string
}

func (e *WebhookError) Error() string { return e.Message }

// MissingDataError: an admission request is missing expected fields.
type MissingDataError struct{ WebhookError }

func NewMissingDataError(message string) *MissingDataError {
	return &MissingDataError{WebhookError{Message: message}}
}

// UnknownResourceError: the request names a resource the operator does
// not have in its discovered resource set.
type UnknownResourceError struct{ WebhookError }

func NewUnknownResourceError(message string) *UnknownResourceError {
	return &UnknownResourceError{WebhookError{Message: message}}
}

// AmbiguousResourceError: the request's resource matched more than one
// discovered resource and could not be disambiguated.
type AmbiguousResourceError struct{ WebhookError }

func NewAmbiguousResourceError(message string) *AmbiguousResourceError {
	return &AmbiguousResourceError{WebhookError{Message: message}}
}

// SelectMostSpecific picks the one error an admission response should
// report when several webhook handlers failed in the same cycle,
// preferring an AdmissionError (carries its own code/message for the
// apiserver) over a plain PermanentError over a TemporaryError over
// anything else -- the Go port of kopf's build_response error sort.
// Returns nil for an empty slice.
func SelectMostSpecific(errs []error) error {
	rank := func(err error) int {
		switch err.(type) {
		case *AdmissionError:
			return 0
		case *PermanentError:
			return 1
		case *TemporaryError:
			return 2
		default:
			return 9
		}
	}
	var best error
	bestRank := 10
	for _, err := range errs {
		if r := rank(err); r < bestRank {
			best, bestRank = err, r
		}
	}
	return best
}

// AdmissionCode extracts the numeric status code an error should report
// to the apiserver's user-facing response: an AdmissionError's own
// code, or 500 for anything else.
func AdmissionCode(err error) int {
	if ae, ok := err.(*AdmissionError); ok {
		return ae.Code
	}
	return 500
}

// Wrap annotates err with a message using pkg/errors, preserving the
// original error for errors.Cause/errors.Unwrap chains.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf is the formatted variant of Wrap.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
