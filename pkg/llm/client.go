// Package llm talks to the language model provider and turns its output into
// typed classification results.
package llm

import "context"

// Role values for Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single completion.
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
	// JSON asks the provider for a JSON object response.
	JSON bool
}

type Response struct {
	Content      string
	FinishReason string
}

// Chunk is one streamed delta. A chunk with Err set is the last one sent.
type Chunk struct {
	Delta string
	Err   error
}

// Client is a chat-completion provider.
type Client interface {
	Chat(ctx context.Context, msgs []Message, opts *Options) (*Response, error)
	// Stream sends deltas on the returned channel and closes it when the
	// completion ends, fails, or ctx is cancelled.
	Stream(ctx context.Context, msgs []Message, opts *Options) (<-chan Chunk, error)
	// Ping checks provider reachability without spending tokens.
	Ping(ctx context.Context) error
}
