/*
Package chat turns a user message into a streamed, persisted assistant reply.

A Service ties the session transcript, the provider registry and the
executor together. Every turn follows the same path:

  - the raw user text is persisted before any network call
  - editor context and attachments are composed into the prompt
  - a provider is chosen by the routing Policy and the configured Credentials
  - the history is rebuilt from the transcript, keeping only replies that
    finished with stop or length
  - each stream event is persisted first and then forwarded

Failures are written to the transcript as closed error messages so that the
history matches what the user saw. An aborted turn keeps its partial reply,
stamped as cancelled.

Example:

	svc := chat.NewService(store, registry,
		chat.WithCredentials(settings),
		chat.WithIdleTimeout(15*time.Second),
	)
	stream := svc.StreamChat(ctx, chat.Request{
		SessionID: "s1",
		Text:      "hello",
		Model:     "mock-echo",
	}, ctrl.Signal())
	defer stream.Close()
	for stream.Next() {
		// render stream.Current()
	}
*/
package chat
