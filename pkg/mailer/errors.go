package mailer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEmail indicates the message failed validation before dispatch.
	ErrInvalidEmail = errors.New("mailer: invalid email")

	// ErrInvalidAddress indicates an address could not be parsed.
	ErrInvalidAddress = errors.New("mailer: invalid address")

	// ErrSendFailed indicates the provider did not accept the message.
	ErrSendFailed = errors.New("mailer: failed to send email")
)

// ErrorKind distinguishes failures that never reached the provider from
// failures the provider reported.
type ErrorKind string

const (
	// KindTransport means no response was received (dial, TLS, timeout).
	KindTransport ErrorKind = "transport"
	// KindAPI means the provider answered with a non-success status.
	KindAPI ErrorKind = "api"
)

// ProviderError is returned by adapters for every failed dispatch.
// All provider errors are retryable up to the job's attempt budget.
type ProviderError struct {
	Err        error
	Provider   string
	Kind       ErrorKind
	Message    string
	StatusCode int
}

func (e *ProviderError) Error() string {
	if e.Kind == KindAPI && e.StatusCode != 0 {
		return fmt.Sprintf("%s: api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSendFailed}
	}
	return []error{ErrSendFailed, e.Err}
}

// NewTransportError wraps a failure where no provider response was received.
func NewTransportError(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     KindTransport,
		Message:  err.Error(),
		Err:      err,
	}
}

// NewAPIError builds an error from a non-success provider response.
func NewAPIError(provider string, status int, message string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Kind:       KindAPI,
		StatusCode: status,
		Message:    message,
	}
}
