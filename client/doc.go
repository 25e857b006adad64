// Package client is the receiving side of the chat protocol. A View runs
// every inbound event through a protocol.Guard, coalesces accepted text in a
// delta buffer and drives a Renderer. Protocol violations never surface as
// errors: the affected reply is flushed, one Notice is shown and the request
// is released.
package client
