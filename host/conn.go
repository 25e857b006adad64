package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/hoot/cancel"
	"github.com/casualjim/hoot/chat"
	"github.com/casualjim/hoot/internal/broker"
	"github.com/casualjim/hoot/pkg/slogx"
	"github.com/casualjim/hoot/pkg/uuidx"
	"github.com/casualjim/hoot/protocol"
	"github.com/casualjim/hoot/provider"
	"github.com/fogfish/opts"
)

var (
	// ErrSuperseded is the abort reason of a turn replaced by a newer send.
	ErrSuperseded = errors.New("superseded by a newer request")
	// ErrCancelled is the abort reason of a turn stopped by a cancel message.
	ErrCancelled = errors.New("cancelled by client")
	// ErrConnClosed is the abort reason of turns still running when the connection closes.
	ErrConnClosed = errors.New("connection closed")
)

// Chatter produces the reply stream of a turn.
type Chatter interface {
	StreamChat(ctx context.Context, req chat.Request, sig cancel.Signal) *provider.Stream
}

type turn struct {
	requestID string
	sessionID string
	turnID    string
	ctrl      *cancel.Controller
	done      chan struct{}
	seq       int
}

func (t *turn) meta() protocol.EventMeta {
	t.seq++
	return protocol.EventMeta{
		RequestID: t.requestID,
		SessionID: t.sessionID,
		TurnID:    t.turnID,
		Seq:       t.seq,
	}
}

// Conn routes the requests of one connection. At most one turn runs per
// session: a new send supersedes the previous turn and waits for it to drain
// before streaming.
type Conn struct {
	id     string
	chat   Chatter
	out    broker.Topic
	turns  *Turns
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	own    *haxmap.Map[string, *turn] // turn id -> turn started by this connection
	wg     sync.WaitGroup
}

var (
	WithLogger = opts.ForName[Conn, *slog.Logger]("logger")
	// WithID sets the connection id used in logs.
	WithID = opts.ForName[Conn, string]("id")
	// WithTurns shares the running turns with other connections on the same
	// transcript. Without it the connection tracks its own.
	WithTurns = opts.ForName[Conn, *Turns]("turns")
)

// NewConn creates the router of a connection. Turn events are published on out.
func NewConn(ctx context.Context, svc Chatter, out broker.Topic, options ...opts.Option[Conn]) *Conn {
	c := &Conn{
		chat: svc,
		out:  out,
		own:  haxmap.New[string, *turn](),
	}
	if err := opts.Apply(c, options); err != nil {
		panic(fmt.Sprintf("host: invalid options: %v", err))
	}
	if c.id == "" {
		c.id = uuidx.NewID(uuidx.Conn)
	}
	if c.turns == nil {
		c.turns = NewTurns()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With(slogx.LoggerName("host"), slog.String("conn", c.id))
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	return c
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Listen subscribes the connection to in. Envelopes published after Listen
// returns are routed.
func (c *Conn) Listen(ctx context.Context, in broker.Topic) (broker.Subscription, error) {
	return in.Subscribe(ctx, c)
}

// Serve routes the envelopes published on in until ctx is done, then closes
// the connection.
func (c *Conn) Serve(ctx context.Context, in broker.Topic) error {
	sub, err := c.Listen(ctx, in)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	select {
	case <-ctx.Done():
	case <-c.ctx.Done():
	}
	return c.Close()
}

// Handle implements broker.Handler.
func (c *Conn) Handle(_ context.Context, env protocol.Envelope) {
	switch msg := env.Message.(type) {
	case protocol.Send:
		if msg.RequestID == "" {
			msg.RequestID = env.RequestID
		}
		c.Send(msg)
	case protocol.Cancel:
		if msg.RequestID == "" {
			msg.RequestID = env.RequestID
		}
		c.Cancel(msg.SessionID, msg.RequestID)
	default:
		c.logger.Debug("ignoring envelope", slog.String("type", string(env.Type)))
	}
}

// Send starts a turn, superseding the session's running turn, also when that
// turn belongs to another connection sharing the same Turns.
func (c *Conn) Send(msg protocol.Send) {
	logger := c.logger.With(slogx.SessionID(msg.SessionID), slogx.RequestID(msg.RequestID))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		logger.Warn("send on closed connection")
		return
	}
	t := &turn{
		requestID: msg.RequestID,
		sessionID: msg.SessionID,
		turnID:    uuidx.NewID(uuidx.Turn),
		ctrl:      cancel.NewController(),
		done:      make(chan struct{}),
	}
	c.own.Set(t.turnID, t)
	c.wg.Add(1)
	c.mu.Unlock()

	prev, hadPrev := c.turns.swap(t)

	if hadPrev {
		logger.Debug("superseding turn", slog.String("previous", prev.requestID))
		prev.ctrl.Cancel(ErrSuperseded)
	}
	go c.run(t, prev, msg, logger.With(slogx.TurnID(t.turnID)))
}

// Cancel aborts the running turn of a session. A non-empty requestID only
// cancels that request.
func (c *Conn) Cancel(sessionID, requestID string) bool {
	t, ok := c.turns.get(sessionID)
	if !ok || (requestID != "" && t.requestID != requestID) {
		return false
	}
	t.ctrl.Cancel(ErrCancelled)
	return true
}

// Close cancels every running turn and waits for them to finish.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.wg.Wait()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.own.ForEach(func(_ string, t *turn) bool {
		t.ctrl.Cancel(ErrConnClosed)
		return true
	})
	c.wg.Wait()
	c.cancel()
	return nil
}

func (c *Conn) run(t *turn, prev *turn, msg protocol.Send, logger *slog.Logger) {
	defer c.wg.Done()
	defer close(t.done)
	defer c.release(t)

	if prev != nil {
		<-prev.done
	}

	attachments := make([]chat.Attachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		attachments = append(attachments, chat.Attachment{Path: a.Path, Name: a.Name})
	}
	stream := c.chat.StreamChat(c.ctx, chat.Request{
		RequestID:      msg.RequestID,
		SessionID:      msg.SessionID,
		Text:           msg.Text,
		Model:          msg.Model,
		Reasoning:      msg.Reasoning,
		Attachments:    attachments,
		IncludeContext: msg.IncludeContext,
	}, t.ctrl.Signal())
	defer stream.Close()

	terminal := false
	for stream.Next() {
		switch ev := stream.Current().(type) {
		case provider.TextDelta:
			c.publish(protocol.Delta{EventMeta: t.meta(), TextDelta: ev.Text}, logger)
		case provider.Done:
			reason := ev.FinishReason
			if reason == "" {
				reason = provider.FinishStop
			}
			c.publish(protocol.Done{EventMeta: t.meta(), FinishReason: reason}, logger)
			terminal = true
		case provider.ErrorEvent:
			c.publish(protocol.ErrorMessage{EventMeta: t.meta(), Message: ev.Message}, logger)
			terminal = true
		case provider.ToolCall:
			logger.Debug("tool call requested", slog.String("tool", ev.Name), slog.String("call_id", ev.ID))
		}
	}
	if terminal {
		return
	}

	err := stream.Err()
	switch {
	case err == nil:
		c.publish(protocol.Done{EventMeta: t.meta(), FinishReason: provider.FinishStop}, logger)
	case cancel.IsAbort(err) || errors.Is(err, context.Canceled):
		logger.Debug("turn cancelled", slogx.Error(err))
		c.publish(protocol.Done{EventMeta: t.meta(), FinishReason: provider.FinishCancelled}, logger)
	default:
		logger.Warn("turn failed", slogx.Error(err))
		c.publish(protocol.ErrorMessage{EventMeta: t.meta(), Message: err.Error()}, logger)
	}
}

func (c *Conn) publish(msg protocol.Event, logger *slog.Logger) {
	// the terminal event still has to reach the client while the connection closes
	ctx := context.WithoutCancel(c.ctx)
	if err := c.out.Publish(ctx, protocol.Wrap(msg)); err != nil {
		logger.Warn("failed to publish event", slogx.Error(err), slog.Int("seq", msg.Meta().Seq))
	}
}

func (c *Conn) release(t *turn) {
	c.turns.release(t)
	c.own.Del(t.turnID)
}
