// Package ai wraps the model provider behind a narrow completion interface.
package ai

import "context"

// Message is a single prompt turn.
type Message struct {
	Role    string
	Content string
}

// Completion is a provider answer with its token accounting.
type Completion struct {
	Content      string
	TokensInput  int
	TokensOutput int
}

// Client is the opaque provider capability. Only insight generation calls it;
// the accounting paths never do.
type Client interface {
	Complete(ctx context.Context, modelID string, messages []Message) (Completion, error)
}
