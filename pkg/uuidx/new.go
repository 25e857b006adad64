// Package uuidx generates time-ordered identifiers.
package uuidx

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind tags an identifier with what it names.
type Kind string

const (
	Session      Kind = "ses"
	Request      Kind = "req"
	Turn         Kind = "turn"
	Conn         Kind = "conn"
	Subscription Kind = "sub"
)

// New generates a new UUID using the version 7 format and returns it.
// It panics if the UUID generation fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString generates a new UUID using the version 7 format and returns it as a string.
func NewString() string {
	return New().String()
}

// NewID returns a version 7 UUID prefixed with its kind, e.g. "turn_0192...".
func NewID(kind Kind) string {
	return string(kind) + "_" + NewString()
}

// Parse splits an id produced by NewID into its kind and UUID.
func Parse(id string) (Kind, uuid.UUID, bool) {
	kind, raw, ok := strings.Cut(id, "_")
	if !ok {
		return "", uuid.Nil, false
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return "", uuid.Nil, false
	}
	return Kind(kind), u, true
}

// Time returns the creation time embedded in an id produced by NewID.
func Time(id string) (time.Time, bool) {
	_, u, ok := Parse(id)
	if !ok || u.Version() != 7 {
		return time.Time{}, false
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec), true
}
