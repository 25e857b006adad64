package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/hoot/pkg/uuidx"
	"github.com/casualjim/hoot/protocol"
)

const (
	defaultSlowSubscriberTimeout = 100 * time.Millisecond
	defaultSubscriberBuffer      = 256
)

type localBroker struct {
	topics                *haxmap.Map[string, *topic]
	slowSubscriberTimeout time.Duration
}

// Local returns an in-process broker.
func Local() *localBroker {
	return &localBroker{
		topics:                haxmap.New[string, *topic](),
		slowSubscriberTimeout: defaultSlowSubscriberTimeout,
	}
}

// WithSlowSubscriberTimeout configures the timeout for detecting slow subscribers
func (b *localBroker) WithSlowSubscriberTimeout(timeout time.Duration) *localBroker {
	b.slowSubscriberTimeout = timeout
	return b
}

func (b *localBroker) Topic(ctx context.Context, id string) Topic {
	topic, _ := b.topics.GetOrCompute(id, func() *topic {
		return &topic{
			ID:                    id,
			subscriptions:         haxmap.New[string, *subscription](),
			slowSubscriberTimeout: b.slowSubscriberTimeout,
		}
	})
	return topic
}

type topic struct {
	ID                    string
	subscriptions         *haxmap.Map[string, *subscription]
	slowSubscriberTimeout time.Duration
	publishMu             sync.Mutex
}

func (t *topic) Publish(ctx context.Context, env protocol.Envelope) error {
	// keeps concurrent publishers from interleaving per subscriber order
	t.publishMu.Lock()
	defer t.publishMu.Unlock()

	t.subscriptions.ForEach(func(id string, sub *subscription) bool {
		if sub == nil {
			return true
		}

		// Check if subscription is still active
		select {
		case <-ctx.Done():
			return false
		case <-sub.ctx.Done():
			sub.Unsubscribe()
			return true
		default:
		}

		select {
		case <-ctx.Done():
			return false
		case <-sub.ctx.Done():
			sub.Unsubscribe()
		case sub.channel <- env:
		case <-time.After(t.slowSubscriberTimeout):
			// Channel is full after timeout, unsubscribe
			sub.Unsubscribe()
		}
		return true
	})
	return ctx.Err()
}

func (t *topic) Subscribe(ctx context.Context, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	return t.newSubscription(ctx, handler), nil
}

func (t *topic) newSubscription(ctx context.Context, handler Handler) *subscription {
	id := uuidx.NewID(uuidx.Subscription)
	sub := &subscription{
		id:      id,
		ctx:     ctx,
		channel: make(chan protocol.Envelope, defaultSubscriberBuffer),
		onClose: func() { t.subscriptions.Del(id) },
		handler: handler,
		done:    make(chan struct{}),
	}
	t.subscriptions.Set(id, sub)
	go sub.forward()
	return sub
}

type subscription struct {
	id        string
	ctx       context.Context
	channel   chan protocol.Envelope
	closeOnce sync.Once
	onClose   func()
	handler   Handler
	done      chan struct{}
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		close(s.done)
	})
}

func (s *subscription) forward() {
	for {
		select {
		case env := <-s.channel:
			select {
			case <-s.done:
				return
			default:
			}
			s.handler.Handle(s.ctx, env)
		case <-s.done:
			return
		case <-s.ctx.Done():
			s.Unsubscribe()
			return
		}
	}
}
