package engine

import "context"

type Message struct {
	Role    string
	Content string
}

type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// Engine produces one chat completion for an ordered message list.
type Engine interface {
	GenerateText(ctx context.Context, model string, messages []Message, opts GenerateOptions) (string, error)
}

// StatusError is implemented by engine errors that carry an upstream HTTP status.
type StatusError interface {
	error
	HTTPStatus() int
}
