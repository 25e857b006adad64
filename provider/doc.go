// Package provider implements the abstraction layer for streaming chat
// completions from LLM backends (OpenAI, OpenAI-compatible servers, a local
// mock) in a consistent way.
//
// Design decisions:
//   - Streaming only: every adapter produces a *Stream of events
//   - Explicit cancellation: a cancel.Signal travels inside the Request and is
//     checked by adapters at their own checkpoints
//   - Exactly one terminal event: a stream ends with Done or ErrorEvent, or
//     with an error returned from Err; nothing is delivered afterwards
//   - Coded failures: adapters classify transport failures into *Error values
//     carrying a code, an HTTP status and a retryable flag
//
// Key concepts:
//   - Adapter: the contract every backend implements
//   - Registry: resolves a (provider, model) pair, enforcing model naming
//   - StreamEvent: TextDelta, ToolCall, Done and ErrorEvent
//   - Limits: idle/hard timeouts and retry policy for the orchestrator
//
// Example usage:
//
//	reg := provider.NewRegistry()
//	reg.Register("mock", mock.New(), provider.Prefix("mock"))
//
//	adapter, err := reg.Resolve("mock", "mock-gpt")
//	if err != nil {
//	    return err
//	}
//
//	stream := adapter.Stream(ctx, provider.Request{
//	    Model:    "mock-gpt",
//	    Messages: []provider.Message{{Role: provider.RoleUser, Content: "hello"}},
//	})
//	defer stream.Close()
//
//	for stream.Next() {
//	    switch ev := stream.Current().(type) {
//	    case provider.TextDelta:
//	        fmt.Print(ev.Text)
//	    case provider.Done:
//	        fmt.Println()
//	    }
//	}
//	if err := stream.Err(); err != nil {
//	    return err
//	}
package provider
