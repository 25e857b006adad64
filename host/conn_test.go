package host

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/casualjim/hoot/chat"
	"github.com/casualjim/hoot/client"
	"github.com/casualjim/hoot/internal/broker"
	"github.com/casualjim/hoot/internal/deltabuf"
	"github.com/casualjim/hoot/protocol"
	"github.com/casualjim/hoot/provider"
	"github.com/casualjim/hoot/provider/mock"
	"github.com/casualjim/hoot/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type finish struct {
	requestID string
	reason    provider.FinishReason
	failure   string
}

type renderer struct {
	mu       sync.Mutex
	text     map[string]*strings.Builder
	finished chan finish
	notices  []client.Notice
}

func newRenderer() *renderer {
	return &renderer{text: make(map[string]*strings.Builder), finished: make(chan finish, 8)}
}

func (r *renderer) Append(_, requestID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sb, ok := r.text[requestID]
	if !ok {
		sb = &strings.Builder{}
		r.text[requestID] = sb
	}
	sb.WriteString(text)
}

func (r *renderer) Finish(_, requestID string, reason provider.FinishReason) {
	r.finished <- finish{requestID: requestID, reason: reason}
}

func (r *renderer) Fail(_, requestID, message string) {
	r.finished <- finish{requestID: requestID, failure: message}
}

func (r *renderer) Sending(string, bool) {}

func (r *renderer) Notify(_ string, n client.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *renderer) textOf(requestID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sb, ok := r.text[requestID]; ok {
		return sb.String()
	}
	return ""
}

func (r *renderer) wait(t *testing.T) finish {
	t.Helper()
	select {
	case f := <-r.finished:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the reply to finish")
		return finish{}
	}
}

// wire records every event the host publishes, in order.
type wire struct {
	mu     sync.Mutex
	events []protocol.Event
	first  chan struct{}
	once   sync.Once
}

func (w *wire) Handle(_ context.Context, env protocol.Envelope) {
	ev, ok := env.Message.(protocol.Event)
	if !ok {
		return
	}
	w.mu.Lock()
	w.events = append(w.events, ev)
	w.mu.Unlock()
	if _, ok := ev.(protocol.Delta); ok {
		w.once.Do(func() { close(w.first) })
	}
}

func (w *wire) of(requestID string) []protocol.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []protocol.Event
	for _, ev := range w.events {
		if ev.Meta().RequestID == requestID {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	store  *session.Store
	conn   *Conn
	client *client.Client
	render *renderer
	wire   *wire
}

func newService(t *testing.T, ctx context.Context, adapter provider.Adapter) (*session.Store, *chat.Service) {
	t.Helper()
	store, err := session.NewStore(ctx)
	require.NoError(t, err)
	registry := provider.NewRegistry()
	registry.Register(mock.Name, adapter, mock.Matcher)
	return store, chat.NewService(store, registry, chat.WithLimits(provider.Limits{
		HardTimeout: 5 * time.Second,
		IdleTimeout: 2 * time.Second,
		MaxRetries:  1,
		RetryDelay:  time.Millisecond,
	}))
}

func newWire(t *testing.T, ctx context.Context, out broker.Topic) *wire {
	t.Helper()
	w := &wire{first: make(chan struct{})}
	_, err := out.Subscribe(ctx, w)
	require.NoError(t, err)
	return w
}

func (w *wire) terminal(requestID string) (protocol.Event, bool) {
	events := w.of(requestID)
	if len(events) == 0 || !events[len(events)-1].Terminal() {
		return nil, false
	}
	return events[len(events)-1], true
}

func (w *wire) waitFirst(t *testing.T) {
	t.Helper()
	select {
	case <-w.first:
	case <-time.After(5 * time.Second):
		t.Fatal("no delta published")
	}
}

func newHarness(t *testing.T, adapter provider.Adapter) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, svc := newService(t, ctx, adapter)

	b := broker.Local()
	in := b.Topic(ctx, broker.InboundTopic("test", "c1"))
	out := b.Topic(ctx, broker.OutboundTopic("test", "c1"))

	h := &harness{store: store, render: newRenderer(), wire: newWire(t, ctx, out)}

	h.conn = NewConn(ctx, svc, out, WithID("c1"))
	sub, err := h.conn.Listen(ctx, in)
	require.NoError(t, err)
	t.Cleanup(sub.Unsubscribe)

	view := client.NewView(h.render, client.WithScheduler(deltabuf.Ticker{Interval: time.Millisecond}))
	h.client, err = client.Connect(ctx, view, out, in)
	require.NoError(t, err)
	t.Cleanup(func() {
		h.client.Close()
		_ = h.conn.Close()
	})
	return h
}

func assertContiguous(t *testing.T, events []protocol.Event) {
	t.Helper()
	require.NotEmpty(t, events)
	turnID := events[0].Meta().TurnID
	require.NotEmpty(t, turnID)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Meta().Seq)
		assert.Equal(t, turnID, ev.Meta().TurnID)
	}
	assert.True(t, events[len(events)-1].Terminal())
}

func TestConn_Stream(t *testing.T) {
	h := newHarness(t, mock.New(mock.WithInterval(time.Millisecond)))
	ctx := context.Background()

	requestID, err := h.client.Send(ctx, protocol.Send{RequestID: "r1", SessionID: "s1", Text: "hello", Model: "mock-gpt"})
	require.NoError(t, err)
	assert.Equal(t, "r1", requestID)

	f := h.render.wait(t)
	assert.Equal(t, "r1", f.requestID)
	assert.Equal(t, provider.FinishStop, f.reason)
	assert.Equal(t, mock.Echo("mock-gpt", "hello"), h.render.textOf("r1"))
	assert.Empty(t, h.render.notices)

	events := h.wire.of("r1")
	assertContiguous(t, events)
	for _, ev := range events {
		assert.Equal(t, "s1", ev.Meta().SessionID)
	}

	sess, ok := h.store.Get("s1")
	require.True(t, ok)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "hello", sess.Messages[0].Content)
	assert.Equal(t, mock.Echo("mock-gpt", "hello"), sess.Messages[1].Content)
	assert.Equal(t, provider.FinishStop, sess.Messages[1].FinishReason)
}

func TestConn_Cancel(t *testing.T) {
	slow := mock.New(mock.WithInterval(50*time.Millisecond), mock.WithResponse("one two three four five six seven eight nine ten"))
	h := newHarness(t, slow)
	ctx := context.Background()

	_, err := h.client.Send(ctx, protocol.Send{RequestID: "r1", SessionID: "s1", Text: "count", Model: "mock-slow"})
	require.NoError(t, err)

	h.wire.waitFirst(t)
	cancelled, err := h.client.Cancel(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, cancelled)

	f := h.render.wait(t)
	assert.Equal(t, provider.FinishCancelled, f.reason)

	events := h.wire.of("r1")
	assertContiguous(t, events)
	done, ok := events[len(events)-1].(protocol.Done)
	require.True(t, ok)
	assert.Equal(t, provider.FinishCancelled, done.FinishReason)
	assert.Less(t, len(events), 11)

	rendered := h.render.textOf("r1")
	assert.True(t, strings.HasPrefix("one two three four five six seven eight nine ten", rendered))

	sess, ok := h.store.Get("s1")
	require.True(t, ok)
	tail, ok := sess.Tail()
	require.True(t, ok)
	assert.Equal(t, provider.FinishCancelled, tail.FinishReason)
}

func TestConn_Supersede(t *testing.T) {
	h := newHarness(t, mock.New(mock.WithInterval(20*time.Millisecond)))
	ctx := context.Background()

	_, err := h.client.Send(ctx, protocol.Send{RequestID: "r1", SessionID: "s1", Text: "a long first question for the mock", Model: "mock-gpt"})
	require.NoError(t, err)
	_, err = h.client.Send(ctx, protocol.Send{RequestID: "r2", SessionID: "s1", Text: "second", Model: "mock-gpt"})
	require.NoError(t, err)

	f := h.render.wait(t)
	assert.Equal(t, "r2", f.requestID)
	assert.Equal(t, provider.FinishStop, f.reason)
	assert.Equal(t, mock.Echo("mock-gpt", "second"), h.render.textOf("r2"))

	require.Eventually(t, func() bool {
		events := h.wire.of("r1")
		return len(events) > 0 && events[len(events)-1].Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	first := h.wire.of("r1")
	done, ok := first[len(first)-1].(protocol.Done)
	require.True(t, ok)
	assert.Equal(t, provider.FinishCancelled, done.FinishReason)

	sess, ok := h.store.Get("s1")
	require.True(t, ok)
	tail, ok := sess.Tail()
	require.True(t, ok)
	assert.Equal(t, mock.Echo("mock-gpt", "second"), tail.Content)
	assert.Equal(t, provider.FinishStop, tail.FinishReason)
}

func TestConn_CloseCancelsTurns(t *testing.T) {
	h := newHarness(t, mock.New(mock.WithInterval(50*time.Millisecond)))
	ctx := context.Background()

	_, err := h.client.Send(ctx, protocol.Send{RequestID: "r1", SessionID: "s1", Text: "please take your time", Model: "mock-gpt"})
	require.NoError(t, err)
	h.wire.waitFirst(t)

	require.NoError(t, h.conn.Close())
	f := h.render.wait(t)
	assert.Equal(t, provider.FinishCancelled, f.reason)

	h.conn.Send(protocol.Send{RequestID: "r2", SessionID: "s1", Text: "ignored", Model: "mock-gpt"})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.wire.of("r2"))
}

func TestConn_CancelUnknown(t *testing.T) {
	h := newHarness(t, mock.New())
	assert.False(t, h.conn.Cancel("nope", ""))
}

func TestConn_SupersedeAcrossConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, svc := newService(t, ctx, mock.New(mock.WithInterval(20*time.Millisecond)))
	turns := NewTurns()
	b := broker.Local()
	out1 := b.Topic(ctx, broker.OutboundTopic("test", "c1"))
	out2 := b.Topic(ctx, broker.OutboundTopic("test", "c2"))
	w1, w2 := newWire(t, ctx, out1), newWire(t, ctx, out2)

	c1 := NewConn(ctx, svc, out1, WithID("c1"), WithTurns(turns))
	c2 := NewConn(ctx, svc, out2, WithID("c2"), WithTurns(turns))
	t.Cleanup(func() {
		_ = c1.Close()
		_ = c2.Close()
	})

	c1.Send(protocol.Send{RequestID: "r1", SessionID: "s1", Text: "one two three four", Model: "mock-gpt"})
	w1.waitFirst(t)
	running, ok := turns.Running("s1")
	require.True(t, ok)
	assert.Equal(t, "r1", running)

	c2.Send(protocol.Send{RequestID: "r2", SessionID: "s1", Text: "alpha beta gamma delta", Model: "mock-gpt"})

	require.Eventually(t, func() bool {
		_, ok := w2.terminal("r2")
		return ok
	}, 5*time.Second, 5*time.Millisecond)
	last, ok := w1.terminal("r1")
	require.True(t, ok)
	done, ok := last.(protocol.Done)
	require.True(t, ok)
	assert.Equal(t, provider.FinishCancelled, done.FinishReason)
	assertContiguous(t, w2.of("r2"))
	assert.Empty(t, w1.of("r2"))

	sess, ok := store.Get("s1")
	require.True(t, ok)
	require.Len(t, sess.Messages, 4)
	assert.Equal(t, "one two three four", sess.Messages[0].Content)
	assert.Equal(t, session.RoleAssistant, sess.Messages[1].Role)
	assert.Equal(t, provider.FinishCancelled, sess.Messages[1].FinishReason)
	assert.True(t, strings.HasPrefix(mock.Echo("mock-gpt", "one two three four"), sess.Messages[1].Content))
	assert.Equal(t, "alpha beta gamma delta", sess.Messages[2].Content)
	assert.Equal(t, mock.Echo("mock-gpt", "alpha beta gamma delta"), sess.Messages[3].Content)
	assert.Equal(t, provider.FinishStop, sess.Messages[3].FinishReason)

	_, ok = turns.Running("s1")
	assert.False(t, ok)
}

func TestConn_CancelAcrossConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	_, svc := newService(t, ctx, mock.New(mock.WithInterval(50*time.Millisecond)))
	turns := NewTurns()
	b := broker.Local()
	out1 := b.Topic(ctx, broker.OutboundTopic("test", "c1"))
	w1 := newWire(t, ctx, out1)

	c1 := NewConn(ctx, svc, out1, WithTurns(turns))
	c2 := NewConn(ctx, svc, b.Topic(ctx, broker.OutboundTopic("test", "c2")), WithTurns(turns))
	t.Cleanup(func() {
		_ = c1.Close()
		_ = c2.Close()
	})

	c1.Send(protocol.Send{RequestID: "r1", SessionID: "s1", Text: "take your time", Model: "mock-gpt"})
	w1.waitFirst(t)
	assert.False(t, c2.Cancel("s1", "other"))
	assert.True(t, c2.Cancel("s1", "r1"))

	require.Eventually(t, func() bool {
		_, ok := w1.terminal("r1")
		return ok
	}, 5*time.Second, 5*time.Millisecond)
	last, _ := w1.terminal("r1")
	done, ok := last.(protocol.Done)
	require.True(t, ok)
	assert.Equal(t, provider.FinishCancelled, done.FinishReason)
}
