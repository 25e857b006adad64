package provider

import (
	"slices"
	"time"

	"github.com/casualjim/hoot/cancel"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry of the conversation sent to a backend.
type Message struct {
	Role    Role
	Content string
}

// ReasoningLevel is the optional reasoning effort hint.
type ReasoningLevel string

const (
	ReasoningNone   ReasoningLevel = ""
	ReasoningLow    ReasoningLevel = "low"
	ReasoningMedium ReasoningLevel = "medium"
	ReasoningHigh   ReasoningLevel = "high"
)

// Valid reports whether the level is one of the known values.
func (r ReasoningLevel) Valid() bool {
	switch r {
	case ReasoningNone, ReasoningLow, ReasoningMedium, ReasoningHigh:
		return true
	}
	return false
}

// Limits bounds a single streaming operation.
type Limits struct {
	// IdleTimeout aborts an attempt when no text arrives for this long. Zero disables it.
	IdleTimeout time.Duration
	// HardTimeout bounds the total duration of one attempt. Zero disables it.
	HardTimeout time.Duration
	// MaxRetries is the number of additional attempts allowed before any output was produced.
	MaxRetries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// Request describes one streaming chat completion.
type Request struct {
	Provider  string
	Model     string
	Reasoning ReasoningLevel
	SessionID string
	Messages  []Message

	// APIKey overrides the credential the adapter was configured with.
	APIKey string

	// Limits overrides the orchestrator defaults when set.
	Limits *Limits

	// Signal aborts the request. A nil signal never aborts.
	Signal cancel.Signal

	// Prevents unkeyed literals
	_ struct{}
}

// Clone returns a copy that shares nothing mutable with r.
func (r Request) Clone() Request {
	r.Messages = slices.Clone(r.Messages)
	if r.Limits != nil {
		l := *r.Limits
		r.Limits = &l
	}
	return r
}

// LastUserMessage returns the content of the last user message.
func (r Request) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}
