package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/hoot/pkg/slogx"
	"github.com/casualjim/hoot/pkg/uuidx"
	"github.com/casualjim/hoot/protocol"
	"github.com/nats-io/nats.go"
)

type natsBroker struct {
	client *nats.Conn
	topics *haxmap.Map[string, *natsTopic]
}

// NATS returns a broker that maps every topic onto a subject. Envelopes are
// encoded with the protocol codec.
func NATS(client *nats.Conn) *natsBroker {
	return &natsBroker{
		client: client,
		topics: haxmap.New[string, *natsTopic](),
	}
}

func (b *natsBroker) Topic(ctx context.Context, id string) Topic {
	top, _ := b.topics.GetOrCompute(id, func() *natsTopic {
		return &natsTopic{
			subject: id,
			client:  b.client,
		}
	})
	return top
}

type natsTopic struct {
	client  *nats.Conn
	subject string
}

func (t *natsTopic) Publish(ctx context.Context, env protocol.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	eb, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return t.client.Publish(t.subject, eb)
}

func (t *natsTopic) Subscribe(ctx context.Context, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	sub := &natsSubscription{id: uuidx.NewID(uuidx.Subscription), done: make(chan struct{})}
	// nats.go invokes the callback sequentially per subscription, which keeps publish order
	nsub, err := t.client.Subscribe(t.subject, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		env, err := protocol.Decode(msg.Data)
		if err != nil {
			slog.Error("failed to decode envelope", slogx.Error(err), slog.String("subject", msg.Subject), slogx.ByteString("data", msg.Data))
			return
		}
		handler.Handle(ctx, env)

		if msg.Reply != "" {
			if nerr := msg.Ack(); nerr != nil {
				slog.Error("failed to ack message", slogx.Error(nerr))
			}
		}
	})
	if err != nil {
		return nil, err
	}
	sub.sub = nsub

	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		}
	}()
	return sub, nil
}

type natsSubscription struct {
	id   string
	sub  *nats.Subscription
	once sync.Once
	done chan struct{}
}

func (n *natsSubscription) ID() string {
	return n.id
}

func (n *natsSubscription) Unsubscribe() {
	n.once.Do(func() {
		close(n.done)
		if err := n.sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", slogx.Error(err), slog.String("subscription", n.id))
		}
	})
}
