package protocol

import (
	"github.com/casualjim/hoot/provider"
)

// Type is the discriminator of an envelope.
type Type string

const (
	TypeSend   Type = "send"
	TypeCancel Type = "cancel"
	TypeDelta  Type = "delta"
	TypeDone   Type = "done"
	TypeError  Type = "error"
)

// Message is the payload of an envelope.
type Message interface {
	MessageType() Type
}

// Envelope is the unit exchanged over a transport. RequestID is the
// transport level request id; the payload carries its own copy.
type Envelope struct {
	Type      Type
	RequestID string
	Message   Message
}

// Wrap builds an envelope for msg using the request id the message carries.
func Wrap(msg Message) Envelope {
	env := Envelope{Type: msg.MessageType(), Message: msg}
	switch m := msg.(type) {
	case Send:
		env.RequestID = m.RequestID
	case Cancel:
		env.RequestID = m.RequestID
	case Event:
		env.RequestID = m.Meta().RequestID
	}
	return env
}

// Attachment references a file attached to a send.
type Attachment struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

// Send asks the host to start a turn.
type Send struct {
	RequestID      string                  `json:"requestId"`
	SessionID      string                  `json:"sessionId"`
	Text           string                  `json:"text"`
	Model          string                  `json:"model"`
	Reasoning      provider.ReasoningLevel `json:"reasoningLevel,omitempty"`
	Attachments    []Attachment            `json:"attachments,omitempty"`
	IncludeContext bool                    `json:"includeContext,omitempty"`
}

func (Send) MessageType() Type { return TypeSend }

// Cancel stops the in-flight turn of a session. An empty RequestID cancels
// whatever is running for the session.
type Cancel struct {
	SessionID string `json:"sessionId"`
	RequestID string `json:"requestId,omitempty"`
}

func (Cancel) MessageType() Type { return TypeCancel }

// EventMeta is the correlation data every outbound event carries.
// A zero TurnID or Seq means the field was absent on the wire.
type EventMeta struct {
	RequestID string `json:"requestId"`
	SessionID string `json:"sessionId"`
	TurnID    string `json:"turnId"`
	Seq       int    `json:"seq"`
}

// Event is an outbound message belonging to a turn.
type Event interface {
	Message
	Meta() EventMeta
	Terminal() bool
}

// Delta carries a fragment of assistant text.
type Delta struct {
	EventMeta
	TextDelta string `json:"textDelta"`
}

func (Delta) MessageType() Type { return TypeDelta }
func (d Delta) Meta() EventMeta { return d.EventMeta }
func (Delta) Terminal() bool { return false }

// Done ends a turn.
type Done struct {
	EventMeta
	FinishReason provider.FinishReason `json:"finishReason"`
}

func (Done) MessageType() Type { return TypeDone }
func (d Done) Meta() EventMeta { return d.EventMeta }
func (Done) Terminal() bool { return true }

// ErrorMessage ends a turn with a failure.
type ErrorMessage struct {
	EventMeta
	Message string `json:"message"`
}

func (ErrorMessage) MessageType() Type { return TypeError }
func (e ErrorMessage) Meta() EventMeta { return e.EventMeta }
func (ErrorMessage) Terminal() bool { return true }
