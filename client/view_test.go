package client

import (
	"context"
	"testing"
	"time"

	"github.com/casualjim/hoot/internal/broker"
	"github.com/casualjim/hoot/internal/deltabuf"
	"github.com/casualjim/hoot/protocol"
	"github.com/casualjim/hoot/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	kind      string
	sessionID string
	requestID string
	value     string
}

type recorder struct {
	calls []call
}

func (r *recorder) Append(sessionID, requestID, text string) {
	r.calls = append(r.calls, call{"append", sessionID, requestID, text})
}

func (r *recorder) Finish(sessionID, requestID string, reason provider.FinishReason) {
	r.calls = append(r.calls, call{"finish", sessionID, requestID, string(reason)})
}

func (r *recorder) Fail(sessionID, requestID, message string) {
	r.calls = append(r.calls, call{"fail", sessionID, requestID, message})
}

func (r *recorder) Sending(sessionID string, sending bool) {
	v := "off"
	if sending {
		v = "on"
	}
	r.calls = append(r.calls, call{"sending", sessionID, "", v})
}

func (r *recorder) Notify(sessionID string, n Notice) {
	r.calls = append(r.calls, call{"notify", sessionID, "", string(n.Code)})
}

func meta(seq int) protocol.EventMeta {
	return protocol.EventMeta{RequestID: "r1", SessionID: "s1", TurnID: "t1", Seq: seq}
}

func delta(seq int, text string) protocol.Envelope {
	return protocol.Wrap(protocol.Delta{EventMeta: meta(seq), TextDelta: text})
}

func done(seq int, reason provider.FinishReason) protocol.Envelope {
	return protocol.Wrap(protocol.Done{EventMeta: meta(seq), FinishReason: reason})
}

func newTestView() (*View, *recorder, *deltabuf.Manual) {
	rec := &recorder{}
	sched := &deltabuf.Manual{}
	return NewView(rec, WithScheduler(sched)), rec, sched
}

func TestView_Apply(t *testing.T) {
	t.Run("deltas coalesce and flush before finish", func(t *testing.T) {
		v, rec, sched := newTestView()
		v.Begin("s1", "r1")

		assert.Equal(t, protocol.Accept, v.Apply(delta(1, "Hel")).Outcome)
		assert.Equal(t, protocol.Accept, v.Apply(delta(2, "lo")).Outcome)
		assert.True(t, sched.Pending())
		sched.Tick()
		assert.Equal(t, protocol.Accept, v.Apply(delta(3, "!")).Outcome)
		assert.Equal(t, protocol.Accept, v.Apply(done(4, provider.FinishStop)).Outcome)

		assert.Equal(t, []call{
			{"sending", "s1", "", "on"},
			{"append", "s1", "r1", "Hello"},
			{"append", "s1", "r1", "!"},
			{"finish", "s1", "r1", "stop"},
			{"sending", "s1", "", "off"},
		}, rec.calls)
		_, active := v.Active("s1")
		assert.False(t, active)
	})

	t.Run("gap stops the reply with a notice", func(t *testing.T) {
		v, rec, _ := newTestView()
		v.Begin("s1", "r1")

		v.Apply(delta(1, "a"))
		verdict := v.Apply(delta(3, "c"))
		assert.Equal(t, protocol.Violation, verdict.Outcome)
		assert.Equal(t, protocol.CodeGap, verdict.Code)
		assert.Equal(t, protocol.Ignore, v.Apply(delta(4, "d")).Outcome)

		assert.Equal(t, []call{
			{"sending", "s1", "", "on"},
			{"append", "s1", "r1", "a"},
			{"notify", "s1", "", "gap"},
			{"sending", "s1", "", "off"},
		}, rec.calls)
	})

	t.Run("cancelling accepts only the terminal event", func(t *testing.T) {
		v, rec, _ := newTestView()
		v.Begin("s1", "r1")
		v.Apply(delta(1, "a"))
		v.Cancel("r1")

		assert.Equal(t, protocol.Ignore, v.Apply(delta(2, "b")).Outcome)
		assert.Equal(t, protocol.Accept, v.Apply(done(3, provider.FinishCancelled)).Outcome)
		assert.Equal(t, call{"finish", "s1", "r1", "cancelled"}, rec.calls[len(rec.calls)-2])
		assert.Equal(t, call{"append", "s1", "r1", "a"}, rec.calls[1])
	})

	t.Run("error event fails the reply", func(t *testing.T) {
		v, rec, _ := newTestView()
		v.Begin("s1", "r1")
		v.Apply(protocol.Wrap(protocol.ErrorMessage{EventMeta: meta(1), Message: "boom"}))
		assert.Contains(t, rec.calls, call{"fail", "s1", "r1", "boom"})
	})

	t.Run("superseded request is flushed and ignored", func(t *testing.T) {
		v, rec, _ := newTestView()
		v.Begin("s1", "r1")
		v.Apply(delta(1, "old"))
		v.Begin("s1", "r2")

		assert.Equal(t, protocol.Ignore, v.Apply(delta(2, "stale")).Outcome)
		assert.Contains(t, rec.calls, call{"append", "s1", "r1", "old"})
		active, ok := v.Active("s1")
		require.True(t, ok)
		assert.Equal(t, "r2", active)
	})
}

func TestNoticeFor(t *testing.T) {
	n := NoticeFor(protocol.CodeTurnMismatch)
	assert.Equal(t, NoticeKey, n.Key)
	assert.NotContains(t, n.Text, "\n")
	assert.NotEmpty(t, NoticeFor("something_else").Text)
}

func TestClient_SendAndCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := broker.Local()
	toHost := b.Topic(ctx, "host.in")
	fromHost := b.Topic(ctx, "host.out")

	received := make(chan protocol.Envelope, 4)
	_, err := toHost.Subscribe(ctx, broker.HandlerFunc(func(_ context.Context, env protocol.Envelope) {
		received <- env
	}))
	require.NoError(t, err)

	v, _, _ := newTestView()
	c, err := Connect(ctx, v, fromHost, toHost)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Send(ctx, protocol.Send{Text: "no session"})
	require.Error(t, err)

	requestID, err := c.Send(ctx, protocol.Send{SessionID: "s1", Text: "hi", Model: "mock"})
	require.NoError(t, err)
	assert.NotEmpty(t, requestID)

	ok, err := c.Cancel(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Cancel(ctx, "s2")
	require.NoError(t, err)
	assert.False(t, ok)

	var got []protocol.Envelope
	for len(got) < 2 {
		select {
		case env := <-received:
			got = append(got, env)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for published requests")
		}
	}
	assert.Equal(t, protocol.TypeSend, got[0].Type)
	assert.Equal(t, requestID, got[0].RequestID)
	assert.Equal(t, protocol.TypeCancel, got[1].Type)
	assert.Equal(t, protocol.Cancel{SessionID: "s1", RequestID: requestID}, got[1].Message)
}
