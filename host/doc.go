/*
Package host is the sending side of the chat protocol.

A Conn is created per connection. It reads send and cancel messages, runs
each turn through a chat service and publishes the resulting delta, done and
error events. Connections writing to the same transcript share a Turns, which
holds the running turn of every session; a server owns one Turns for all of
its connections.

Every turn gets a fresh turn id and numbers its events from 1. A send for a
session that already has a running turn cancels that turn and waits for it to
drain before the new turn starts, so a session never has two turns writing to
its transcript. An aborted turn ends with done{finishReason: "cancelled"},
any other failure with error{message}.

Example:

	conn := host.NewConn(ctx, service, ws, host.WithTurns(turns))
	defer conn.Close()
	return conn.Serve(ctx, ws)
*/
package host
