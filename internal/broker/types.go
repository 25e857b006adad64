package broker

import (
	"context"
	"errors"

	"github.com/casualjim/hoot/protocol"
)

// ErrClosed is returned when publishing on a closed transport.
var ErrClosed = errors.New("broker: transport closed")

// Handler receives the envelopes delivered to a subscription. Envelopes of one
// subscription are delivered in publish order, one at a time.
type Handler interface {
	Handle(ctx context.Context, env protocol.Envelope)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env protocol.Envelope)

func (f HandlerFunc) Handle(ctx context.Context, env protocol.Envelope) {
	f(ctx, env)
}

type Broker interface {
	Topic(context.Context, string) Topic
}

type Topic interface {
	Publish(context.Context, protocol.Envelope) error
	Subscribe(context.Context, Handler) (Subscription, error)
}

type Subscription interface {
	ID() string
	Unsubscribe()
}

// InboundTopic names the topic a host reads sends and cancels from.
func InboundTopic(prefix, connID string) string {
	return prefix + "." + connID + ".in"
}

// OutboundTopic names the topic a host publishes turn events to.
func OutboundTopic(prefix, connID string) string {
	return prefix + "." + connID + ".out"
}
