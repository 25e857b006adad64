// Package broker moves protocol envelopes between a chat host and its
// clients. It provides a minimal topic based interface with three
// transports: an in-process broker, NATS subjects and websocket connections.
//
// Design decisions:
//   - Context-first: subscriptions end when their context is cancelled
//   - Ordered delivery: envelopes of one subscription are handled one at a
//     time in publish order, the protocol guard relies on it for deltas
//   - Lossy under pressure: the local broker drops subscribers that cannot
//     keep up, the receiving side detects the resulting gap
//   - Codec at the edge: NATS and websocket frames use protocol.Encode
//
// Interface hierarchy:
//   - Broker: access to named topics
//     └── Topic: publish and subscribe envelopes
//     └── Subscription: explicit lifecycle with unique ids
//
// Example usage:
//
//	b := broker.Local()
//	in := b.Topic(ctx, broker.InboundTopic("hoot", connID))
//	sub, err := in.Subscribe(ctx, broker.HandlerFunc(func(ctx context.Context, env protocol.Envelope) {
//		// handle send and cancel
//	}))
//	if err != nil {
//		return err
//	}
//	defer sub.Unsubscribe()
//
// A websocket connection is a single topic: Publish writes to the peer and
// Subscribe observes what the peer sends.
//
//	ws := broker.WebSocket(conn, logger)
//	defer ws.Close()
package broker
