// Package session keeps the append-only chat transcripts.
//
// The Store is the only writer of sessions. Every append creates the session
// when it does not exist yet (get-or-create-on-write) and persists the
// affected session through an optional Persister. An assistant message is
// "open" while its finish reason is empty; at most one open message exists
// and it is always the last message of its session.
package session

import (
	"slices"
	"time"

	"github.com/casualjim/hoot/provider"
	"github.com/go-openapi/strfmt"
)

// Role is the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a transcript.
type Message struct {
	Role         Role                  `json:"role"`
	Content      string                `json:"content"`
	Timestamp    strfmt.DateTime       `json:"timestamp"`
	FinishReason provider.FinishReason `json:"finishReason,omitempty"`
}

// Open reports whether the message is an assistant message still receiving text.
func (m Message) Open() bool {
	return m.Role == RoleAssistant && m.FinishReason == ""
}

// Session is a titled transcript.
type Session struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	CreatedAt strfmt.DateTime `json:"createdAt"`
	UpdatedAt strfmt.DateTime `json:"updatedAt"`
	Messages  []Message       `json:"messages"`
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	s.Messages = slices.Clone(s.Messages)
	return s
}

// Tail returns the last message, if any.
func (s *Session) Tail() (*Message, bool) {
	if len(s.Messages) == 0 {
		return nil, false
	}
	return &s.Messages[len(s.Messages)-1], true
}

func (s *Session) openTail() (*Message, bool) {
	tail, ok := s.Tail()
	if !ok || !tail.Open() {
		return nil, false
	}
	return tail, true
}

// lastOpen returns the most recent open assistant message, wherever it sits.
func (s *Session) lastOpen() (*Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Open() {
			return &s.Messages[i], true
		}
	}
	return nil, false
}

func (s *Session) touch(now time.Time) {
	s.UpdatedAt = strfmt.DateTime(now)
}
