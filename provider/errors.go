package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// ErrorCode classifies provider failures.
type ErrorCode string

const (
	CodeAuthFailed          ErrorCode = "auth_failed"
	CodeRateLimited         ErrorCode = "rate_limited"
	CodeTimeout             ErrorCode = "timeout"
	CodeNetworkError        ErrorCode = "network_error"
	CodeUnknownProvider     ErrorCode = "unknown_provider"
	CodeUnknownModel        ErrorCode = "unknown_model"
	CodeInvalidRequest      ErrorCode = "invalid_request"
	CodeProviderUnavailable ErrorCode = "provider_unavailable"
)

// Error is a classified failure raised by an adapter or the registry.
type Error struct {
	Provider  string
	Code      ErrorCode
	Message   string
	Status    int
	Retryable bool
	Cause     error
}

// NewError constructs a provider error.
func NewError(provider string, code ErrorCode, message string, status int, retryable bool, cause error) *Error {
	return &Error{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Status:    status,
		Retryable: retryable,
		Cause:     cause,
	}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(" ")
	b.WriteString(string(e.Code))
	if e.Status > 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// AsError extracts a provider error from err's chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether err is a provider error flagged retryable.
func IsRetryable(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.Retryable
}

var (
	timeoutHints = []string{"timeout", "timed out", "deadline exceeded"}
	networkHints = []string{
		"connection refused",
		"connection reset",
		"no such host",
		"broken pipe",
		"network is unreachable",
		"unexpected eof",
	}
)

// Classify maps an HTTP status and transport error to a provider error.
// A status of zero means the request never produced a response.
func Classify(provider string, status int, err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(provider, CodeAuthFailed, msg, status, false, err)
	case status == http.StatusTooManyRequests:
		return NewError(provider, CodeRateLimited, msg, status, true, err)
	case status >= 500:
		return NewError(provider, CodeProviderUnavailable, msg, status, true, err)
	case status == http.StatusRequestTimeout:
		return NewError(provider, CodeTimeout, msg, status, true, err)
	case status >= 400:
		return NewError(provider, CodeInvalidRequest, msg, status, false, err)
	}

	lower := strings.ToLower(msg)
	if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) || containsAny(lower, timeoutHints) {
		return NewError(provider, CodeTimeout, msg, status, true, err)
	}
	if isNetworkFailure(err) || containsAny(lower, networkHints) {
		return NewError(provider, CodeNetworkError, msg, status, true, err)
	}
	return NewError(provider, CodeInvalidRequest, msg, status, false, err)
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isNetworkFailure matches transport errors by type: a body cut short, or a
// failed dial, read or lookup.
func isNetworkFailure(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	return errors.As(err, &opErr) || errors.As(err, &dnsErr)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
