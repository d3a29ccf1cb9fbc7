package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies a provider failure
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindAuth      ErrorKind = "auth"
	KindRejected  ErrorKind = "rejected"
	KindMalformed ErrorKind = "malformed"
)

var (
	// ErrTransient matches timeouts, connection failures and 5xx responses
	ErrTransient = errors.New("transient provider error")
	// ErrAuth matches invalid or expired credentials
	ErrAuth = errors.New("provider authentication error")
	// ErrRejected matches definitive non-auth rejections
	ErrRejected = errors.New("provider rejected request")
	// ErrMalformed matches undecodable payloads
	ErrMalformed = errors.New("malformed provider response")
)

// ProviderError describes a failed upstream call
type ProviderError struct {
	Provider string
	Symbol   string
	Kind     ErrorKind
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: %s (status %d): %v", e.Provider, e.Symbol, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Symbol, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match a ProviderError against the kind sentinels
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrAuth:
		return e.Kind == KindAuth
	case ErrRejected:
		return e.Kind == KindRejected
	case ErrMalformed:
		return e.Kind == KindMalformed
	}
	return false
}

// Retryable reports whether the failure may succeed on another attempt
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindTransient
}

// KindOf extracts the kind of err, defaulting to transient for unclassified errors
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// classifyStatus maps an HTTP status from a provider to an error kind
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindRejected
	default:
		return KindMalformed
	}
}

// classifyTransport maps a transport level error to an error kind. A caller
// cancellation is not worth retrying; timeouts and network errors are.
func classifyTransport(err error) ErrorKind {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return KindRejected
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return KindTransient
	default:
		return KindTransient
	}
}
