package chat

import (
	"fmt"
	"strings"

	"github.com/casualjim/hoot/provider"
	"github.com/casualjim/hoot/session"
)

// AttachmentContent is an attachment after reading.
type AttachmentContent struct {
	Attachment Attachment
	Content    string
}

// SkippedAttachment is an attachment left out of the prompt.
type SkippedAttachment struct {
	Attachment Attachment
	Reason     string
}

// Prompt holds the pieces the user message is composed from.
type Prompt struct {
	Text        string
	Context     []Snippet
	Attachments []AttachmentContent
	Skipped     []SkippedAttachment
}

// Compose renders the prompt. Without context or attachments the raw text is
// returned unchanged; otherwise the sections user text, editor context,
// attachment context and skipped attachments are joined in that order.
func (p Prompt) Compose() string {
	if len(p.Context) == 0 && len(p.Attachments) == 0 && len(p.Skipped) == 0 {
		return p.Text
	}

	sections := []string{p.Text}
	if len(p.Context) > 0 {
		var b strings.Builder
		b.WriteString("## Editor context")
		for _, s := range p.Context {
			b.WriteString("\n\n### ")
			b.WriteString(snippetHeading(s))
			b.WriteString("\n```\n")
			b.WriteString(strings.TrimRight(s.Content, "\n"))
			b.WriteString("\n```")
		}
		sections = append(sections, b.String())
	}
	if len(p.Attachments) > 0 {
		var b strings.Builder
		b.WriteString("## Attachments")
		for _, a := range p.Attachments {
			b.WriteString("\n\n### ")
			b.WriteString(a.Attachment.DisplayName())
			b.WriteString("\n```\n")
			b.WriteString(strings.TrimRight(a.Content, "\n"))
			b.WriteString("\n```")
		}
		sections = append(sections, b.String())
	}
	if len(p.Skipped) > 0 {
		var b strings.Builder
		b.WriteString("## Skipped attachments")
		for _, s := range p.Skipped {
			fmt.Fprintf(&b, "\n- %s: %s", s.Attachment.DisplayName(), s.Reason)
		}
		sections = append(sections, b.String())
	}
	return strings.Join(sections, "\n\n")
}

func snippetHeading(s Snippet) string {
	name := s.Source
	if s.Path != "" {
		if name != "" {
			name += " "
		}
		name += s.Path
	}
	if name == "" {
		name = "snippet"
	}
	switch {
	case s.StartLine > 0 && s.EndLine > s.StartLine:
		return fmt.Sprintf("%s (lines %d-%d)", name, s.StartLine, s.EndLine)
	case s.StartLine > 0:
		return fmt.Sprintf("%s (line %d)", name, s.StartLine)
	}
	return name
}

// History converts a transcript into provider messages. User messages are
// kept, assistant messages only when they finished with stop or length. A
// trailing user message equal to rawText is dropped because the composed
// prompt replaces it, and composed is appended as the final user message.
func History(transcript []session.Message, rawText, composed string) []provider.Message {
	msgs := make([]provider.Message, 0, len(transcript)+1)
	for _, m := range transcript {
		switch {
		case m.Role == session.RoleUser:
			msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: m.Content})
		case m.Role == session.RoleAssistant && m.FinishReason.Complete():
			msgs = append(msgs, provider.Message{Role: provider.RoleAssistant, Content: m.Content})
		}
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == provider.RoleUser && msgs[n-1].Content == rawText {
		msgs = msgs[:n-1]
	}
	return append(msgs, provider.Message{Role: provider.RoleUser, Content: composed})
}

// FormatProviderError renders a provider error for the transcript and the UI.
func FormatProviderError(pe *provider.Error) string {
	msg := pe.Message
	if msg == "" && pe.Cause != nil {
		msg = pe.Cause.Error()
	}
	return fmt.Sprintf("[provider:%s][code:%s] %s", pe.Provider, pe.Code, msg)
}
