package provider

// FinishReason tells why a response ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishCancelled FinishReason = "cancelled"
	FinishError     FinishReason = "error"
)

// Complete reports whether the reason marks a response that belongs in the
// conversation history.
func (f FinishReason) Complete() bool {
	return f == FinishStop || f == FinishLength
}

// StreamEvent is one element of a response stream.
type StreamEvent interface {
	streamEvent()
}

// TextDelta carries the next fragment of assistant text.
type TextDelta struct {
	Text string
}

func (TextDelta) streamEvent() {}

// ToolCall carries a (possibly partial) tool call requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

func (ToolCall) streamEvent() {}

// Done terminates a successful stream.
type Done struct {
	FinishReason FinishReason
}

func (Done) streamEvent() {}

// ErrorEvent terminates a stream with an in-band failure.
type ErrorEvent struct {
	Message string
}

func (ErrorEvent) streamEvent() {}

// IsTerminal reports whether ev ends a stream.
func IsTerminal(ev StreamEvent) bool {
	switch ev.(type) {
	case Done, *Done, ErrorEvent, *ErrorEvent:
		return true
	}
	return false
}
