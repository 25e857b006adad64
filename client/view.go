package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/casualjim/hoot/internal/deltabuf"
	"github.com/casualjim/hoot/pkg/slogx"
	"github.com/casualjim/hoot/protocol"
	"github.com/casualjim/hoot/provider"
	"github.com/fogfish/opts"
)

// NoticeKey is the translation key of every protocol notice.
const NoticeKey = "protocol_error"

// Notice is a single line message shown to the user.
type Notice struct {
	Key  string
	Code protocol.ViolationCode
	Text string
}

var noticeText = map[protocol.ViolationCode]string{
	protocol.CodeRequestMismatch: "The response did not match the request and was stopped.",
	protocol.CodeRequestMissing:  "A response arrived without a request id and was stopped.",
	protocol.CodeTurnMissing:     "A response arrived without a turn id and was stopped.",
	protocol.CodeTurnMismatch:    "The response switched turns midway and was stopped.",
	protocol.CodeInvalidSeq:      "A response fragment had an invalid sequence number and the reply was stopped.",
	protocol.CodeGap:             "Part of the response was lost in transit and the reply was stopped.",
}

// NoticeFor returns the notice shown for a violation code.
func NoticeFor(code protocol.ViolationCode) Notice {
	text, ok := noticeText[code]
	if !ok {
		text = "The response violated the chat protocol and was stopped."
	}
	return Notice{Key: NoticeKey, Code: code, Text: text}
}

// Renderer displays a conversation.
type Renderer interface {
	// Append adds text to the reply of a request.
	Append(sessionID, requestID, text string)
	// Finish ends the reply of a request.
	Finish(sessionID, requestID string, reason provider.FinishReason)
	// Fail ends the reply of a request with an error message.
	Fail(sessionID, requestID, message string)
	// Sending toggles the sending indicator of a session.
	Sending(sessionID string, sending bool)
	// Notify shows a notice.
	Notify(sessionID string, n Notice)
}

// View applies inbound events to a Renderer. One view belongs to one
// connection.
type View struct {
	guard    *protocol.Guard
	buf      *deltabuf.Buffer
	renderer Renderer
	logger   *slog.Logger

	sched deltabuf.Scheduler

	mu       sync.Mutex
	sessions map[string]string // request id -> session id
}

var (
	// WithScheduler sets the render tick of the delta buffer.
	WithScheduler = opts.ForName[View, deltabuf.Scheduler]("sched")
	WithLogger    = opts.ForName[View, *slog.Logger]("logger")
)

// NewView creates a view rendering to r.
func NewView(r Renderer, options ...opts.Option[View]) *View {
	v := &View{
		guard:    protocol.NewGuard(),
		renderer: r,
		sessions: make(map[string]string),
	}
	if err := opts.Apply(v, options); err != nil {
		panic(fmt.Sprintf("client: invalid options: %v", err))
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	v.logger = v.logger.With(slogx.LoggerName("client"))
	v.buf = deltabuf.New(v.flush, v.sched)
	return v
}

// Begin registers an outgoing request as the active one of its session. The
// text still buffered for a superseded request is flushed first.
func (v *View) Begin(sessionID, requestID string) {
	if prev, ok := v.guard.Active(sessionID); ok && prev != requestID {
		v.buf.FlushMessage(prev)
		v.mu.Lock()
		delete(v.sessions, prev)
		v.mu.Unlock()
	}

	v.mu.Lock()
	v.sessions[requestID] = sessionID
	v.mu.Unlock()

	v.guard.Begin(sessionID, requestID)
	v.renderer.Sending(sessionID, true)
}

// Cancel marks a request as cancelling.
func (v *View) Cancel(requestID string) {
	v.guard.Cancel(requestID)
}

// Active returns the active request of a session.
func (v *View) Active(sessionID string) (string, bool) {
	return v.guard.Active(sessionID)
}

// Handle implements broker.Handler.
func (v *View) Handle(_ context.Context, env protocol.Envelope) {
	v.Apply(env)
}

// Apply runs an envelope through the guard and renders the outcome.
func (v *View) Apply(env protocol.Envelope) protocol.Verdict {
	verdict := v.guard.Check(env)

	switch verdict.Outcome {
	case protocol.Accept:
		switch msg := env.Message.(type) {
		case protocol.Delta:
			v.buf.Enqueue(verdict.RequestID, msg.TextDelta)
		case protocol.Done:
			v.buf.FlushMessage(verdict.RequestID)
			v.renderer.Finish(verdict.SessionID, verdict.RequestID, msg.FinishReason)
			v.end(verdict)
		case protocol.ErrorMessage:
			v.buf.FlushMessage(verdict.RequestID)
			v.renderer.Fail(verdict.SessionID, verdict.RequestID, msg.Message)
			v.end(verdict)
		}
	case protocol.Violation:
		v.logger.Warn("protocol violation",
			slog.String("code", string(verdict.Code)),
			slogx.Stringer("outcome", verdict.Outcome),
			slogx.RequestID(verdict.RequestID),
			slogx.SessionID(verdict.SessionID),
		)
		v.buf.FlushMessage(verdict.RequestID)
		v.renderer.Notify(verdict.SessionID, NoticeFor(verdict.Code))
		v.end(verdict)
	}
	return verdict
}

// Close flushes pending text; nothing is rendered afterwards.
func (v *View) Close() {
	v.buf.Dispose()
}

func (v *View) end(verdict protocol.Verdict) {
	v.renderer.Sending(verdict.SessionID, false)
	v.guard.Release(verdict.RequestID)

	v.mu.Lock()
	delete(v.sessions, verdict.RequestID)
	v.mu.Unlock()
}

func (v *View) flush(requestID, text string) {
	v.mu.Lock()
	sessionID := v.sessions[requestID]
	v.mu.Unlock()
	v.renderer.Append(sessionID, requestID, text)
}
