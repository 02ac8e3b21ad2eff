package domain

import "context"

// Responder produces assistant output for a chat request. It is the backend
// behind the reference producer server.
type Responder interface {
	// Respond streams the reply through emit, one event per call. It returns
	// when the reply is complete, emit fails, or ctx is cancelled. Respond
	// does not emit Done or Failure itself; the caller frames the outcome.
	Respond(ctx context.Context, req ChatRequest, emit func(StreamEvent) error) error
	// Complete returns the whole reply at once.
	Complete(ctx context.Context, req ChatRequest) (string, error)
	// Name returns the responder's identifier (e.g. "bedrock", "echo").
	Name() string
}

// ChatStreamer is the client side of the chat protocol.
type ChatStreamer interface {
	// Stream posts req to url and calls onFragment for every text fragment in
	// arrival order.
	Stream(ctx context.Context, url string, req ChatRequest, onFragment func(string)) RequestResult
	// Send posts req to url and returns the complete reply.
	Send(ctx context.Context, url string, req ChatRequest) (string, RequestResult)
}
