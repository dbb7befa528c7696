// Package backend adapts the model-invocation service behind an opaque
// streaming interface. The gateway treats it as a source of content chunks
// and a final token-usage count; nothing else about the upstream leaks in.
package backend

import "context"

// Usage is the token accounting reported by the upstream for one exchange.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Chunk is one streamed fragment of a model response. Done is set on the
// terminal chunk, which may also carry the final usage counts.
type Chunk struct {
	Content string
	Done    bool
	Usage   *Usage
}

// Stream yields model output chunks in order. Next returns io.EOF after the
// terminal chunk has been consumed.
type Stream interface {
	Next() (Chunk, error)
	Close() error
}

// Backend invokes a model with a user message and streams the response.
type Backend interface {
	StreamChat(ctx context.Context, model, message string) (Stream, error)
}
