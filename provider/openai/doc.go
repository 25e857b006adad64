/*
Package openai implements the provider.Adapter interface for OpenAI's chat
models on top of the official openai-go SDK.

# Design Decisions

  - Streaming only: every request uses the chat completions SSE endpoint
  - Validation first: model naming and credentials are checked before any
    network call is made
  - No SDK retries: the client is built with zero retries because the
    streaming orchestrator owns the retry policy
  - Signal bridge: the request's cancel.Signal is bridged into the HTTP
    request context, so aborting the signal tears down the connection
  - Coded failures: HTTP and transport failures are classified with
    provider.Classify

# Model Naming

Models are accepted when they start with one of the prefixes in
ModelPrefixes (gpt-, o1, o3, o4, chatgpt-). Anything else is rejected with an
unknown_model error before a request is sent.

# Usage

	adapter := openai.New(os.Getenv("OPENAI_API_KEY"))
	stream := adapter.Stream(ctx, provider.Request{
	    Model:     "gpt-4o-mini",
	    Reasoning: provider.ReasoningLow,
	    Messages:  []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	    Signal:    ctrl.Signal(),
	})
	defer stream.Close()
*/
package openai
