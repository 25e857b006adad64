/*
Package protocol defines the messages exchanged between a chat host and its
clients, their wire encoding and the receiving side correlation rules.

# Wire format

Every message travels in an envelope:

	{"type":"delta","requestId":"r1","payload":{"requestId":"r1","sessionId":"s1","turnId":"t1","seq":1,"textDelta":"He"}}

Inbound messages are send and cancel; outbound messages are delta, done and
error. Outbound payloads carry a server assigned turnId and a seq that starts
at 1 and increases by one per event.

# Guard

A Guard is owned by one connection. For every inbound event it runs, in order:

 1. the identity gate: transport and payload request ids must agree and the
    request must be the session's active one
 2. the closed check: events for a finished request are ignored
 3. the turn binding: every event of a request carries the same turnId
 4. the sequence gate: seq must be exactly one past the last accepted value

Duplicates and stale events are ignored. Anything else that does not fit is a
Violation, which closes the request. After Cancel a request stops accepting
deltas but still accepts its terminal event, so a cancelled turn always ends.

Example:

	g := protocol.NewGuard()
	g.Begin("s1", "r1")
	switch v := g.Check(env); v.Outcome {
	case protocol.Accept:
		// render
	case protocol.Violation:
		// surface v.Code and release the request
	}
*/
package protocol
