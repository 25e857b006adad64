package cancel

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCanceled is the reason recorded when Cancel is called without one.
	ErrCanceled = errors.New("canceled")
	// ErrTimeout matches every timeout reason and *TimeoutError with errors.Is.
	ErrTimeout = errors.New("timeout")
	// ErrAborted matches every *AbortError with errors.Is.
	ErrAborted = errors.New("aborted")
	// ErrDisposed is the reason used to force-cancel a timer that is no longer needed.
	ErrDisposed = errors.New("disposed")
)

// TimeoutKind distinguishes idle from hard deadlines.
type TimeoutKind string

const (
	Idle TimeoutKind = "idle"
	Hard TimeoutKind = "hard"
)

// TimeoutReason is the sentinel reason a Timeout cancels itself with.
type TimeoutReason struct {
	Kind  TimeoutKind
	After time.Duration
}

func (r *TimeoutReason) Error() string {
	return fmt.Sprintf("%s timeout after %s", r.Kind, r.After)
}

func (r *TimeoutReason) Is(target error) bool {
	return target == ErrTimeout
}

// TimeoutError is returned by Check when the signal aborted because of a timeout.
type TimeoutError struct {
	Kind  TimeoutKind
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out (%s timeout after %s)", e.Kind, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// AbortError is returned by Check when the signal aborted for any other reason.
type AbortError struct {
	Reason error
}

func (e *AbortError) Error() string {
	if e.Reason == nil {
		return "request aborted"
	}
	return "request aborted: " + e.Reason.Error()
}

func (e *AbortError) Unwrap() error {
	return e.Reason
}

func (e *AbortError) Is(target error) bool {
	return target == ErrAborted
}

// IsAbort reports whether err is, or wraps, an *AbortError.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}

// IsTimeout reports whether err is, or wraps, a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Check returns nil while s is not aborted. Otherwise it returns a
// *TimeoutError when the reason is a timeout sentinel and an *AbortError for
// every other reason.
func Check(s Signal) error {
	if s == nil || !s.Aborted() {
		return nil
	}
	return errorFor(s.Reason())
}

func errorFor(reason error) error {
	var tr *TimeoutReason
	if errors.As(reason, &tr) {
		return &TimeoutError{Kind: tr.Kind, After: tr.After}
	}
	return &AbortError{Reason: reason}
}
