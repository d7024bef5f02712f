// Package apperr defines the error-kind taxonomy shared by every handler
// and service in ragbox-backend so HTTP responses carry a stable
// machine-readable "error" field instead of a leaked Go error string.
package apperr

import (
	"errors"
	"net/http"
)

// Kind identifies the class of failure. Handlers map Kind to an HTTP
// status and a safe client-facing string; it is never the raw error text.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindUnauthenticated      Kind = "unauthenticated"
	KindUnauthorised         Kind = "unauthorised"
	KindBadRequest           Kind = "bad_request"
	KindConflict             Kind = "conflict"
	KindProviderUnconfigured Kind = "provider_unconfigured"
	KindProviderTransient    Kind = "provider_transient"
	KindProviderFatal        Kind = "provider_fatal"
	KindResourceExhausted    Kind = "resource_exhausted"
	KindInternal             Kind = "internal"
)

// statusByKind maps each Kind to its HTTP status code.
var statusByKind = map[Kind]int{
	KindNotFound:             http.StatusNotFound,
	KindUnauthenticated:      http.StatusUnauthorized,
	KindUnauthorised:         http.StatusForbidden,
	KindBadRequest:           http.StatusBadRequest,
	KindConflict:             http.StatusConflict,
	KindProviderUnconfigured: http.StatusFailedDependency,
	KindProviderTransient:    http.StatusBadGateway,
	KindProviderFatal:        http.StatusBadGateway,
	KindResourceExhausted:    http.StatusTooManyRequests,
	KindInternal:             http.StatusInternalServerError,
}

// Error is the typed error carried through service and handler layers.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Detail + ": " + e.Err.Error()
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code for this error's Kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func new_(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func NotFound(detail string) *Error             { return new_(KindNotFound, detail, nil) }
func Unauthenticated(detail string) *Error      { return new_(KindUnauthenticated, detail, nil) }
func Unauthorised(detail string) *Error         { return new_(KindUnauthorised, detail, nil) }
func BadRequest(detail string) *Error           { return new_(KindBadRequest, detail, nil) }
func Conflict(detail string) *Error             { return new_(KindConflict, detail, nil) }
func ProviderUnconfigured(detail string) *Error { return new_(KindProviderUnconfigured, detail, nil) }
func ProviderTransient(detail string, err error) *Error {
	return new_(KindProviderTransient, detail, err)
}
func ProviderFatal(detail string, err error) *Error {
	return new_(KindProviderFatal, detail, err)
}
func ResourceExhausted(detail string) *Error { return new_(KindResourceExhausted, detail, nil) }
func Internal(detail string, err error) *Error {
	return new_(KindInternal, detail, err)
}

// As extracts an *Error from err, following the wrap chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
