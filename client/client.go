package client

import (
	"context"
	"errors"

	"github.com/casualjim/hoot/internal/broker"
	"github.com/casualjim/hoot/pkg/uuidx"
	"github.com/casualjim/hoot/protocol"
)

// Client sends requests to a host and renders its replies through a View.
type Client struct {
	view *View
	out  broker.Topic
	sub  broker.Subscription
}

// Connect subscribes view to in and publishes requests on out.
func Connect(ctx context.Context, view *View, in, out broker.Topic) (*Client, error) {
	sub, err := in.Subscribe(ctx, view)
	if err != nil {
		return nil, err
	}
	return &Client{view: view, out: out, sub: sub}, nil
}

// View returns the view the client renders through.
func (c *Client) View() *View {
	return c.view
}

// Send starts a turn and returns its request id. A missing request id is
// generated.
func (c *Client) Send(ctx context.Context, msg protocol.Send) (string, error) {
	if msg.SessionID == "" {
		return "", errors.New("session id is required")
	}
	if msg.RequestID == "" {
		msg.RequestID = uuidx.NewID(uuidx.Request)
	}
	c.view.Begin(msg.SessionID, msg.RequestID)
	if err := c.out.Publish(ctx, protocol.Wrap(msg)); err != nil {
		c.view.guard.Release(msg.RequestID)
		c.view.renderer.Sending(msg.SessionID, false)
		return "", err
	}
	return msg.RequestID, nil
}

// Cancel stops the active turn of a session. It reports whether a turn was
// active.
func (c *Client) Cancel(ctx context.Context, sessionID string) (bool, error) {
	requestID, ok := c.view.Active(sessionID)
	if !ok {
		return false, nil
	}
	c.view.Cancel(requestID)
	return true, c.out.Publish(ctx, protocol.Wrap(protocol.Cancel{SessionID: sessionID, RequestID: requestID}))
}

// Close unsubscribes and flushes the view.
func (c *Client) Close() {
	c.sub.Unsubscribe()
	c.view.Close()
}
