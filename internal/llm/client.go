// Package llm provides the text-generation collaborator: given a message
// history, a provider streams the reply as in-order text fragments.
package llm

import (
	"context"
)

// ChatMessage is one turn of history sent to the provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FragmentCallback is called once per incremental text fragment.
// Concatenating fragments in delivery order reconstructs the full reply.
// Returning an error aborts the stream.
type FragmentCallback func(fragment string) error

// Client is the interface for text-generation providers.
type Client interface {
	// StreamReply streams a reply to history, invoking onFragment per fragment,
	// and returns the full reply text.
	StreamReply(ctx context.Context, history []ChatMessage, model string, onFragment FragmentCallback) (string, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of text-generation provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new client for the given provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewAnthropicClient(apiKey)
	}
}
