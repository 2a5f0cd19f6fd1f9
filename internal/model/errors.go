package model

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth state errors.
var (
	ErrInvalidState    = errors.New("invalid oauth state")
	ErrExpiredState    = errors.New("oauth state has expired")
	ErrAlreadyConsumed = errors.New("oauth state already consumed")
)

// Token lifecycle errors.
var (
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrReAuthRequired      = errors.New("account must be reconnected")
	ErrRefreshFailed       = errors.New("token refresh failed")
)

// Adapter errors.
var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrProviderRateLimited = errors.New("provider rate limited")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrUnauthorized        = errors.New("provider rejected access token")
	ErrNotSupported        = errors.New("operation not supported by provider")
)

// ErrMessageMapping marks a single message that could not be normalised.
var ErrMessageMapping = errors.New("message mapping failed")

// ErrAccountNotFound is returned when an account does not exist for the caller.
var ErrAccountNotFound = errors.New("email account not found")

// ErrorKind classifies a ProviderError.
type ErrorKind string

const (
	KindRateLimited  ErrorKind = "rate_limited"
	KindUnavailable  ErrorKind = "unavailable"
	KindUnauthorized ErrorKind = "unauthorized"
	KindInvalidGrant ErrorKind = "invalid_grant"
	KindNotFound     ErrorKind = "not_found"
	KindBadRequest   ErrorKind = "bad_request"
	KindUnknown      ErrorKind = "unknown"
)

// ProviderError describes a failed provider call.
type ProviderError struct {
	Provider  Provider
	Op        string
	Status    int
	Kind      ErrorKind
	Retryable bool
	Body      string
	Err       error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the matching taxonomy sentinel and the underlying cause.
func (e *ProviderError) Unwrap() []error {
	errs := make([]error, 0, 2)
	switch e.Kind {
	case KindRateLimited:
		errs = append(errs, ErrProviderRateLimited)
	case KindUnavailable:
		errs = append(errs, ErrProviderUnavailable)
	case KindUnauthorized:
		errs = append(errs, ErrUnauthorized)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewProviderError builds a ProviderError, classifying it from the HTTP status.
func NewProviderError(p Provider, op string, status int, body string, err error) *ProviderError {
	kind, retryable := ClassifyStatus(status)
	return &ProviderError{
		Provider:  p,
		Op:        op,
		Status:    status,
		Kind:      kind,
		Retryable: retryable,
		Body:      body,
		Err:       err,
	}
}

// ClassifyStatus maps an HTTP status code to an error kind and retryability.
func ClassifyStatus(status int) (ErrorKind, bool) {
	switch status {
	case http.StatusTooManyRequests:
		return KindRateLimited, true
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindUnavailable, true
	case http.StatusUnauthorized:
		return KindUnauthorized, false
	case http.StatusNotFound:
		return KindNotFound, false
	case http.StatusBadRequest, http.StatusForbidden:
		return KindBadRequest, false
	default:
		return KindUnknown, false
	}
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return errors.Is(err, ErrProviderRateLimited) || errors.Is(err, ErrProviderUnavailable)
}

// IsAuthFailure reports whether err means the credentials must be refreshed or replaced.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrReAuthRequired)
}
