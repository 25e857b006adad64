// Package console renders chat replies and transcripts on a terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/casualjim/hoot/client"
	"github.com/casualjim/hoot/provider"
	"github.com/casualjim/hoot/session"
	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
)

var _ client.Renderer = (*Renderer)(nil)

// Renderer streams replies to a writer.
type Renderer struct {
	mu        sync.Mutex
	w         io.Writer
	streaming map[string]bool // request id -> assistant label printed
	idle      chan string
}

// NewRenderer creates a renderer writing to w.
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{
		w:         w,
		streaming: make(map[string]bool),
		idle:      make(chan string, 16),
	}
}

// Idle receives the session id each time a reply ends.
func (r *Renderer) Idle() <-chan string {
	return r.idle
}

func (r *Renderer) Append(_, requestID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.streaming[requestID] {
		r.streaming[requestID] = true
		fmt.Fprint(r.w, color.MagentaString("Assistant")+": ")
	}
	fmt.Fprint(r.w, text)
}

func (r *Renderer) Finish(_, requestID string, reason provider.FinishReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLocked(requestID)
	if reason != provider.FinishStop && reason != "" {
		fmt.Fprintln(r.w, color.YellowString("[%s]", reason))
	}
}

func (r *Renderer) Fail(_, requestID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLocked(requestID)
	fmt.Fprintf(r.w, "%s %s\n", color.RedString("Error:"), message)
}

func (r *Renderer) Sending(sessionID string, sending bool) {
	if sending {
		return
	}
	select {
	case r.idle <- sessionID:
	default:
	}
}

func (r *Renderer) Notify(_ string, n client.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, color.YellowString(n.Text))
}

func (r *Renderer) endLocked(requestID string) {
	if r.streaming[requestID] {
		fmt.Fprintln(r.w)
	}
	delete(r.streaming, requestID)
}

// Markdown formats a transcript as markdown.
func Markdown(s session.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Title)
	for _, m := range s.Messages {
		ts := time.Time(m.Timestamp).Local().Format(time.Stamp)
		switch m.Role {
		case session.RoleUser:
			fmt.Fprintf(&b, "**User** _%s_\n\n", ts)
		default:
			fmt.Fprintf(&b, "**Assistant** _%s_", ts)
			if m.FinishReason != "" && m.FinishReason != provider.FinishStop {
				fmt.Fprintf(&b, " `%s`", m.FinishReason)
			}
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(m.Content))
		b.WriteString("\n\n")
	}
	return b.String()
}

// Transcript renders a session to w through glamour.
func Transcript(w io.Writer, s session.Session) error {
	glam, err := glamour.NewTermRenderer(glamour.WithAutoStyle())
	if err != nil {
		return err
	}
	out, err := glam.Render(Markdown(s))
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, out)
	return err
}

// Sessions lists sessions, most recent first, marking the active one.
func Sessions(w io.Writer, sessions []session.Session, active string) {
	for _, s := range sessions {
		marker := " "
		if s.ID == active {
			marker = color.GreenString("*")
		}
		fmt.Fprintf(w, "%s %s  %s  %s\n",
			marker,
			color.CyanString(s.ID),
			time.Time(s.UpdatedAt).Local().Format(time.Stamp),
			s.Title,
		)
	}
}
